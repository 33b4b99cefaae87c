// Package app initializes and holds the monitor's long-lived services,
// acting as the composition root for the run command.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nodewatch/nodewatch/internal/config"
	"github.com/nodewatch/nodewatch/internal/fetch"
	"github.com/nodewatch/nodewatch/internal/metrics"
	"github.com/nodewatch/nodewatch/internal/monitor"
	"github.com/nodewatch/nodewatch/internal/notify"
	"github.com/nodewatch/nodewatch/internal/pidfile"
	"github.com/nodewatch/nodewatch/internal/server"
	"github.com/nodewatch/nodewatch/internal/state"
	"github.com/nodewatch/nodewatch/internal/sysinfo"
)

// App wires the fetch session, extractor, notifier, scheduler, Telegram
// command listener, and ops server together.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     *state.Store
	scheduler *monitor.Scheduler
	listener  *notify.CommandListener
	ops       *server.Server
	solver    *fetch.HeadlessSolver
}

// New builds the full service graph from configuration. It fails fast on
// anything that would leave the monitor unable to run.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	store := state.NewStore(cfg.State.Path, logger)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	token, chatID := resolveCredentials(cfg, store)
	sender := notify.NewTelegram(token, chatID, logger)
	if !sender.Ready() {
		logger.Warn("telegram credentials missing or invalid, notifications disabled")
	}

	sessCfg := fetch.Config{
		RootURL:        cfg.Source.RootURL,
		UserAgent:      cfg.Source.UserAgent,
		Timeout:        cfg.FetchTimeout(),
		FetchDelayMin:  secondsToDuration(cfg.Source.FetchDelayMinSec),
		FetchDelayMax:  secondsToDuration(cfg.Source.FetchDelayMaxSec),
		WarmupDelayMin: secondsToDuration(cfg.Source.WarmupDelayMinSec),
		WarmupDelayMax: secondsToDuration(cfg.Source.WarmupDelayMaxSec),
	}

	var (
		sessOpts []fetch.Option
		solver   *fetch.HeadlessSolver
	)
	if cfg.Headless.Enabled {
		solver = fetch.NewHeadlessSolver(
			cfg.Source.UserAgent,
			time.Duration(cfg.Headless.NavTimeoutSec)*time.Second,
		)
		sessOpts = append(sessOpts, fetch.WithChallengeSolver(solver))
		logger.Info("headless challenge solver enabled")
	}
	session := fetch.NewSession(sessCfg, logger, sessOpts...)

	extractor, err := monitor.NewExtractor(cfg.Source.RootURL, logger)
	if err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}

	schedCfg := monitor.SchedulerConfig{
		ListURL:             cfg.Source.ListURL,
		MinInterval:         time.Duration(cfg.Poll.MinIntervalSeconds) * time.Second,
		MaxInterval:         time.Duration(cfg.Poll.MaxIntervalSeconds) * time.Second,
		MaxAttempts:         cfg.Poll.MaxAttempts,
		RetryBase:           cfg.RetryBase(),
		MaxConsecutiveFails: cfg.Poll.MaxConsecutiveFails,
		ReloadEveryCycles:   cfg.Poll.ReloadEveryCycles,
		RestartAfterCycles:  cfg.Poll.RestartAfterCycles,
		MemThresholdBytes:   uint64(cfg.Memory.ThresholdMB) << 20,
		MemCheckEveryCycles: cfg.Memory.CheckEveryCycles,
	}

	pidPath := cfg.State.PIDPath
	scheduler := monitor.NewScheduler(
		schedCfg,
		session,
		extractor,
		sender,
		store,
		logger,
		monitor.WithMemSampler(sysinfo.ResidentMemory),
		monitor.WithFormatter(func(item monitor.Item, keywords []string) string {
			return notify.FormatMatch(item.Title, item.Link, keywords)
		}),
		monitor.WithRestarter(func() error {
			pidfile.Remove(pidPath)
			return execSelf()
		}),
	)

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		scheduler: scheduler,
		listener:  notify.NewCommandListener(sender, store, logger),
		ops:       server.New(scheduler, store, logger),
		solver:    solver,
	}, nil
}

// resolveCredentials prefers config-supplied credentials over the ones
// persisted in the state file.
func resolveCredentials(cfg config.Config, store *state.Store) (token, chatID string) {
	stored := store.Credentials()
	token, chatID = cfg.Telegram.BotToken, cfg.Telegram.ChatID
	if token == "" {
		token = stored.BotToken
	}
	if chatID == "" {
		chatID = stored.ChatID
	}
	return token, chatID
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// Store exposes the state store, for CLI keyword commands.
func (a *App) Store() *state.Store {
	return a.store
}

// Run writes the pid marker and blocks driving the scheduler, the command
// listener, and the ops listener until the context finishes or the
// scheduler's restart policy replaces the process.
func (a *App) Run(ctx context.Context) error {
	if path := a.cfg.State.PIDPath; path != "" {
		if pid, running := pidfile.IsRunning(path); running {
			return fmt.Errorf("already running with pid %d", pid)
		}
		if err := pidfile.Write(path); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer pidfile.Remove(path)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Run(ctx)
	})
	g.Go(func() error {
		a.listener.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return a.ops.Serve(ctx, a.cfg.Debug.ListenAddr)
	})

	err := g.Wait()
	a.Close()
	return err
}

// Close releases held resources.
func (a *App) Close() {
	if a.solver != nil {
		a.solver.Close()
	}
	a.logger.Info("shutdown complete")
}
