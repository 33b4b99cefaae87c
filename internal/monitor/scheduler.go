package monitor

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nodewatch/nodewatch/internal/metrics"
	"github.com/nodewatch/nodewatch/internal/state"
)

// SchedulerConfig carries the poll loop's timing and failure policy.
type SchedulerConfig struct {
	ListURL string

	MinInterval time.Duration
	MaxInterval time.Duration

	MaxAttempts int
	RetryBase   time.Duration

	MaxConsecutiveFails int
	ReloadEveryCycles   int
	RestartAfterCycles  int

	MemThresholdBytes   uint64
	MemCheckEveryCycles int
}

// Scheduler drives the poll loop: fetch, extract, match, dedup, notify,
// persist. It owns the failure counters and the self-healing policy.
type Scheduler struct {
	cfg       SchedulerConfig
	fetcher   Fetcher
	extractor *Extractor
	notifier  Notifier
	store     *state.Store
	logger    *zap.Logger

	sampleMem MemSampler
	restart   Restarter
	format    Formatter

	// Injection points for tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	rng   *rand.Rand

	mu     sync.Mutex
	health Health
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSleeper replaces the inter-cycle and retry sleep function.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) SchedulerOption {
	return func(s *Scheduler) { s.sleep = fn }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithMemSampler replaces the resident memory sampler.
func WithMemSampler(fn MemSampler) SchedulerOption {
	return func(s *Scheduler) { s.sampleMem = fn }
}

// WithRestarter replaces the process restart hook.
func WithRestarter(fn Restarter) SchedulerOption {
	return func(s *Scheduler) { s.restart = fn }
}

// WithFormatter replaces the outbound message formatter.
func WithFormatter(fn Formatter) SchedulerOption {
	return func(s *Scheduler) { s.format = fn }
}

// NewScheduler constructs a Scheduler.
func NewScheduler(
	cfg SchedulerConfig,
	fetcher Fetcher,
	extractor *Extractor,
	notifier Notifier,
	store *state.Store,
	logger *zap.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 30 * time.Second
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	s := &Scheduler{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		notifier:  notifier,
		store:     store,
		logger:    logger,
		sleep:     sleepCtx,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		format:    defaultFormat,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultFormat(item Item, keywords []string) string {
	return item.Title + "\n" + item.Link + "\nkeywords: " + strings.Join(keywords, ", ")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Health returns a snapshot of the loop's counters.
func (s *Scheduler) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

// Run blocks, executing poll cycles until the context finishes or the
// restart policy fires. A fired restart hook normally never returns; if
// it does, Run exits with ErrRestartRequested or the hook's error.
func (s *Scheduler) Run(ctx context.Context) error {
	consecutiveFails := 0
	successfulCycles := 0
	totalCycles := 0
	forceReload := false

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		totalCycles++

		if forceReload || (s.cfg.ReloadEveryCycles > 0 && totalCycles%s.cfg.ReloadEveryCycles == 0) {
			if err := s.store.Load(); err != nil {
				s.logger.Warn("state reload failed", zap.Error(err))
			}
			forceReload = false
		}

		cycleLog := s.logger.With(zap.String("cycle_id", uuid.NewString()))
		err := s.runCycle(ctx, cycleLog)
		switch class := Classify(err); {
		case err == nil:
			consecutiveFails = 0
			successfulCycles++
			metrics.ObserveCycle("ok")
			s.noteSuccess(totalCycles)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		case class == ClassEmpty:
			// A page that validated but carried nothing to report ends the
			// cycle cleanly.
			consecutiveFails = 0
			successfulCycles++
			metrics.ObserveCycle("empty")
			s.noteSuccess(totalCycles)
			cycleLog.Info("cycle ended without items", zap.Error(err))
		case class == ClassResource:
			consecutiveFails++
			metrics.ObserveCycle("error")
			metrics.ObserveError(class.String())
			s.noteFailure(totalCycles, class)
			cycleLog.Error("resource exhaustion, reclaiming",
				zap.Int("consecutive", consecutiveFails),
				zap.Error(err))
			debug.FreeOSMemory()
			forceReload = true
			if err := s.sleep(ctx, s.cfg.MinInterval); err != nil {
				return err
			}
		default:
			consecutiveFails++
			metrics.ObserveCycle("error")
			metrics.ObserveError(class.String())
			s.noteFailure(totalCycles, class)
			cycleLog.Error("poll cycle failed",
				zap.Int("consecutive", consecutiveFails),
				zap.String("class", class.String()),
				zap.Error(err))
		}

		if s.cfg.MemCheckEveryCycles > 0 && totalCycles%s.cfg.MemCheckEveryCycles == 0 {
			if s.relieveMemoryPressure() {
				metrics.ObserveRestart("memory")
				return s.fireRestart("memory pressure")
			}
		}

		if s.cfg.MaxConsecutiveFails > 0 && consecutiveFails >= s.cfg.MaxConsecutiveFails {
			s.logger.Warn("too many consecutive failures, backing off",
				zap.Int("fails", consecutiveFails),
				zap.Duration("cooldown", 2*s.cfg.MaxInterval))
			s.fetcher.Invalidate()
			forceReload = true
			consecutiveFails = 0
			if err := s.sleep(ctx, 2*s.cfg.MaxInterval); err != nil {
				return err
			}
			continue
		}

		if s.cfg.RestartAfterCycles > 0 && successfulCycles >= s.cfg.RestartAfterCycles {
			metrics.ObserveRestart("scheduled")
			return s.fireRestart("scheduled refresh")
		}

		if err := s.sleep(ctx, s.nextInterval()); err != nil {
			return err
		}
	}
}

// runCycle performs one fetch-extract-notify pass.
func (s *Scheduler) runCycle(ctx context.Context, log *zap.Logger) error {
	keywords := s.store.Keywords()
	if len(keywords) == 0 {
		log.Debug("no keywords configured, skipping fetch")
		return nil
	}

	items, err := s.fetchItems(ctx, log)
	if err != nil {
		return err
	}

	history := NewHistory(s.store.Snapshot())
	now := s.now()
	delivered := 0

	for _, item := range items {
		matched := MatchKeywords(item.Title, keywords)
		if len(matched) == 0 {
			continue
		}
		if !history.IsNovel(item, now) {
			metrics.ObserveSuppressed("duplicate")
			continue
		}
		history.Commit(item, matched, now)
		text := s.format(item, matched)
		if s.notifier.Notify(ctx, text) {
			metrics.ObserveNotification(true)
			delivered++
			log.Info("notification delivered",
				zap.String("title", item.Title),
				zap.Strings("keywords", matched))
		} else {
			metrics.ObserveNotification(false)
			history.Rollback(item)
			log.Warn("notification failed, identity released",
				zap.String("title", item.Title))
		}
	}

	history.Trim()
	if err := s.store.Update(func(rec *state.Record) error {
		history.Apply(rec)
		return nil
	}); err != nil {
		return err
	}

	notifiedSize, titleSize := history.Sizes()
	log.Debug("cycle complete",
		zap.Int("items", len(items)),
		zap.Int("delivered", delivered),
		zap.Int("notified_history", notifiedSize),
		zap.Int("title_history", titleSize))
	return nil
}

// fetchItems fetches the list page and extracts its items, retrying the
// whole pass with a widening delay. Mitigation failures, whether a
// challenge page or markup that no longer looks like the source,
// invalidate the session before the next attempt so it restarts from a
// fresh cookie jar.
func (s *Scheduler) fetchItems(ctx context.Context, log *zap.Logger) ([]Item, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		items, err := s.fetchOnce(ctx)
		if err == nil {
			return items, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrNoItems) {
			// The page validated, there is just nothing on it. Retrying
			// the fetch will not change that.
			return nil, err
		}
		if Classify(err) == ClassMitigation {
			s.fetcher.Invalidate()
		}
		if attempt+1 < s.cfg.MaxAttempts {
			delay := s.cfg.RetryBase * time.Duration(attempt+2)
			log.Warn("poll attempt failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))
			if err := s.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func (s *Scheduler) fetchOnce(ctx context.Context) ([]Item, error) {
	resp, err := s.fetcher.Get(ctx, s.cfg.ListURL)
	if err != nil {
		return nil, err
	}
	metrics.ObserveFetch(resp.Duration)
	items, err := s.extractor.Extract(resp.Body)
	if err != nil {
		return nil, err
	}
	metrics.ObserveExtracted(len(items))
	return items, nil
}

// relieveMemoryPressure samples RSS and forces allocator release when the
// threshold is exceeded. It reports true when the process should restart.
func (s *Scheduler) relieveMemoryPressure() bool {
	if s.sampleMem == nil || s.cfg.MemThresholdBytes == 0 {
		return false
	}
	rss, err := s.sampleMem()
	if err != nil {
		s.logger.Warn("memory sample failed", zap.Error(err))
		return false
	}
	metrics.SetResidentMemory(rss)
	s.setResident(rss)
	if rss <= s.cfg.MemThresholdBytes {
		return false
	}

	s.logger.Warn("memory threshold exceeded, releasing",
		zap.Uint64("rss_bytes", rss),
		zap.Uint64("threshold_bytes", s.cfg.MemThresholdBytes))
	debug.FreeOSMemory()

	rss, err = s.sampleMem()
	if err != nil {
		s.logger.Warn("memory resample failed", zap.Error(err))
		return false
	}
	metrics.SetResidentMemory(rss)
	s.setResident(rss)
	if float64(rss) > 0.9*float64(s.cfg.MemThresholdBytes) {
		s.logger.Error("memory still elevated after release, restarting",
			zap.Uint64("rss_bytes", rss))
		return true
	}
	return false
}

func (s *Scheduler) fireRestart(reason string) error {
	s.logger.Info("restart requested", zap.String("reason", reason))
	if s.restart == nil {
		return ErrRestartRequested
	}
	if err := s.restart(); err != nil {
		s.logger.Error("restart hook failed", zap.Error(err))
		return err
	}
	return ErrRestartRequested
}

func (s *Scheduler) nextInterval() time.Duration {
	spread := s.cfg.MaxInterval - s.cfg.MinInterval
	if spread <= 0 {
		return s.cfg.MinInterval
	}
	return s.cfg.MinInterval + time.Duration(s.rng.Int63n(int64(spread)))
}

func (s *Scheduler) noteSuccess(totalCycles int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.ConsecutiveErrors = 0
	s.health.CyclesSinceStart = totalCycles
	s.health.LastSuccessUnix = s.now().Unix()
}

func (s *Scheduler) noteFailure(totalCycles int, class ErrorClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.ConsecutiveErrors++
	s.health.CyclesSinceStart = totalCycles
	s.health.TotalErrors++
	if class == ClassMitigation {
		s.health.MitigationErrors++
	}
}

func (s *Scheduler) setResident(rss uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.ResidentBytes = rss
}
