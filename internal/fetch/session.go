// Package fetch implements the monitor.Fetcher contract with a gocolly
// session that survives across polls and knows how to re-warm itself when
// the site's edge network starts challenging it.
package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/nodewatch/nodewatch/internal/monitor"
)

// challengeMarkers in a response body mean the edge network served a
// verification interstitial instead of the real page.
var challengeMarkers = []string{"cloudflare", "captcha", "just a moment"}

// ChallengeSolver acquires cookies that pass the mitigation challenge,
// typically by driving a real browser. Optional.
type ChallengeSolver interface {
	Solve(ctx context.Context, rootURL string) ([]*http.Cookie, error)
}

// Config controls session behavior.
type Config struct {
	RootURL        string
	UserAgent      string
	Timeout        time.Duration
	FetchDelayMin  time.Duration
	FetchDelayMax  time.Duration
	WarmupDelayMin time.Duration
	WarmupDelayMax time.Duration
}

// Session is a long-lived scraping session. It owns cookie state and an
// invalidation flag; callers drive its lifetime through EnsureValid and
// Invalidate exactly as the scheduler's error policy dictates.
type Session struct {
	cfg       Config
	logger    *zap.Logger
	solver    ChallengeSolver
	transport http.RoundTripper

	// sleep is context-aware and injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand

	mu    sync.Mutex
	jar   http.CookieJar
	valid bool
}

// Option customizes a Session.
type Option func(*Session)

// WithChallengeSolver attaches a browser-based cookie acquirer consulted
// during session warm-up.
func WithChallengeSolver(s ChallengeSolver) Option {
	return func(sess *Session) { sess.solver = s }
}

// WithSleeper replaces the delay function, for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(sess *Session) { sess.sleep = fn }
}

// WithTransport replaces the HTTP transport, for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(sess *Session) { sess.transport = rt }
}

// NewSession builds an invalidated Session; the first call acquires it.
func NewSession(cfg Config, logger *zap.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Session{
		cfg:       cfg,
		logger:    logger,
		transport: newHTTPTransport(),
		sleep:     sleepCtx,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Invalidate flags the session for re-acquisition on the next call.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

// EnsureValid re-acquires the session when needed: fresh cookie jar, a
// warm-up visit to the site root (optionally via the challenge solver),
// then a randomized human-like pause.
func (s *Session) EnsureValid(ctx context.Context) error {
	s.mu.Lock()
	if s.valid {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("new cookie jar: %w", err)
	}

	s.logger.Info("acquiring session", zap.String("root", s.cfg.RootURL))
	resp, err := s.doFetch(ctx, jar, s.cfg.RootURL)
	if err != nil {
		return fmt.Errorf("warm-up visit: %w", err)
	}

	if challenged(resp) {
		if s.solver == nil {
			return fmt.Errorf("warm-up blocked: %w", monitor.ErrChallenged)
		}
		cookies, solveErr := s.solver.Solve(ctx, s.cfg.RootURL)
		if solveErr != nil {
			return fmt.Errorf("challenge solver: %w: %w", solveErr, monitor.ErrChallenged)
		}
		if err := s.installCookies(jar, cookies); err != nil {
			return err
		}
		s.logger.Info("challenge solved via headless browser",
			zap.Int("cookies", len(cookies)))
	}

	if err := s.humanPause(ctx, s.cfg.WarmupDelayMin, s.cfg.WarmupDelayMax); err != nil {
		return err
	}

	s.mu.Lock()
	s.jar = jar
	s.valid = true
	s.mu.Unlock()
	return nil
}

func (s *Session) installCookies(jar http.CookieJar, cookies []*http.Cookie) error {
	u, err := urlOf(s.cfg.RootURL)
	if err != nil {
		return err
	}
	jar.SetCookies(u, cookies)
	return nil
}

// Get fetches url through the current session after a randomized delay.
// Non-2xx statuses and challenge markers invalidate the session; markers
// additionally surface as monitor.ErrChallenged so the scheduler treats
// them as mitigation failures.
func (s *Session) Get(ctx context.Context, url string) (monitor.Response, error) {
	if err := s.EnsureValid(ctx); err != nil {
		return monitor.Response{}, err
	}

	if err := s.humanPause(ctx, s.cfg.FetchDelayMin, s.cfg.FetchDelayMax); err != nil {
		return monitor.Response{}, err
	}

	s.mu.Lock()
	jar := s.jar
	s.mu.Unlock()

	resp, err := s.doFetch(ctx, jar, url)
	if err != nil {
		s.Invalidate()
		return monitor.Response{}, err
	}

	if challenged(resp) {
		s.Invalidate()
		return monitor.Response{}, fmt.Errorf("fetch %s: %w", url, monitor.ErrChallenged)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.Invalidate()
		return monitor.Response{}, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	return resp, nil
}

// doFetch executes one GET through a collector bound to the given jar.
func (s *Session) doFetch(ctx context.Context, jar http.CookieJar, url string) (monitor.Response, error) {
	var (
		result   monitor.Response
		fetchErr error
	)
	start := time.Now()

	collector := s.newCollector(jar)
	collector.OnResponse(func(r *colly.Response) {
		result = monitor.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		// keep the status so challenge pages served with 403/503 are
		// still inspectable by the caller
		if r != nil && r.StatusCode != 0 {
			result = monitor.Response{
				URL:        url,
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
				Duration:   time.Since(start),
			}
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return monitor.Response{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if result.StatusCode != 0 && challenged(result) {
			// challenge interstitials often arrive as HTTP errors
			return result, nil
		}
		if err != nil {
			return monitor.Response{}, fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return monitor.Response{}, fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		return result, nil
	}
}

func (s *Session) newCollector(jar http.CookieJar) *colly.Collector {
	collector := colly.NewCollector(colly.Async(false))
	collector.IgnoreRobotsTxt = true
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.SetRequestTimeout(s.cfg.Timeout)
	collector.WithTransport(s.transport)
	if jar != nil {
		collector.SetCookieJar(jar)
	}
	return collector
}

// humanPause sleeps a uniformly random duration in [min, max].
func (s *Session) humanPause(ctx context.Context, min, max time.Duration) error {
	if max <= 0 || max < min {
		return nil
	}
	span := max - min
	d := min
	if span > 0 {
		s.mu.Lock()
		d += time.Duration(s.rng.Int63n(int64(span)))
		s.mu.Unlock()
	}
	s.logger.Debug("human-like delay", zap.Duration("wait", d))
	return s.sleep(ctx, d)
}

func challenged(resp monitor.Response) bool {
	if len(resp.Body) == 0 {
		return false
	}
	body := strings.ToLower(string(resp.Body))
	for _, marker := range challengeMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

func urlOf(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", raw, err)
	}
	return u, nil
}
