package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"droidpilot/internal/automation"
	"droidpilot/internal/config"
	"droidpilot/internal/device"
	"droidpilot/internal/eventbus"
	"droidpilot/internal/executor"
	"droidpilot/internal/model"
	"droidpilot/internal/notify"
	"droidpilot/internal/runtime/supervisor"
	"droidpilot/internal/sched"
	"droidpilot/internal/status"
	"droidpilot/internal/store"
	logx "droidpilot/pkg/logx"
)

// App wires the whole pipeline together: store, status authority, executor,
// schedulers, dispatcher, scanner and notifier.
type App struct {
	cfgMgr *config.Manager
	set    settings

	logSvc *logx.Service
	log    logx.Logger

	bus      eventbus.Bus
	store    store.Store
	sup      *supervisor.Supervisor
	notifier *notify.Notifier

	exec    *executor.Executor
	scanner *sched.Scanner
	wt      *sched.WTScheduler
	pool    *sched.PoolScheduler
}

func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	set, err := parseSettings(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("component", "config")))
	mgr.SetValidator(func(ctx context.Context, c *config.Config) error {
		_, verr := parseSettings(c)
		return verr
	})

	st, err := store.Open(set.store, log.With(logx.String("component", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New()
	adb := device.NewADB(set.adb, log.With(logx.String("component", "adb")))
	eng := automation.NewADBEngine(adb, log.With(logx.String("component", "automation")))
	auth := status.NewAuthority(st, bus, log.With(logx.String("component", "status")))
	exec := executor.New(set.executor, st, adb, eng, auth, log.With(logx.String("component", "executor")))

	wt := sched.NewWTScheduler(exec, auth, bus, log)
	pool := sched.NewPoolScheduler(set.pool, exec, auth, bus, log)

	disp := sched.NewDispatcher(log.With(logx.String("component", "dispatcher")))
	disp.Register(model.StatusWT, wt)
	disp.Register(model.StatusPending, pool)

	scanner := sched.NewScanner(set.scanner, st, disp, bus, sched.NewInFlight(),
		log.With(logx.String("component", "scanner")))

	var notifier *notify.Notifier
	if cfg.Notify != nil {
		notifier, err = notify.New(notify.Config{
			Enabled: cfg.Notify.Enabled,
			Token:   cfg.Notify.Token,
			ChatID:  cfg.Notify.ChatID,
		}, bus, log.With(logx.String("component", "notify")))
		if err != nil {
			_ = st.Close()
			_ = logSvc.Close()
			return nil, err
		}
	}

	return &App{
		cfgMgr:   mgr,
		set:      set,
		logSvc:   logSvc,
		log:      log,
		bus:      bus,
		store:    st,
		notifier: notifier,
		exec:     exec,
		scanner:  scanner,
		wt:       wt,
		pool:     pool,
	}, nil
}

// Start brings up the background loops. The config watcher keeps running
// under the supervisor; logging settings hot-apply on file changes, the
// rest takes effect on restart.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("component", "supervisor"))))

	if a.notifier != nil {
		a.notifier.Start()
	}
	if err := a.scanner.Start(); err != nil {
		return err
	}

	a.sup.GoRestart("config.watch", a.cfgMgr.Watch)
	updates := a.cfgMgr.Subscribe(4)
	a.sup.Go0("config.apply", func(ctx context.Context) {
		defer a.cfgMgr.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})

	a.sup.Go0("diagnostics", func(ctx context.Context) {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				a.log.Debug("queue snapshot",
					logx.Int("in_flight", a.scanner.InFlight()),
					logx.Any("wt_queues", a.wt.Snapshot()),
					logx.Any("pool_queues", a.pool.Snapshot()),
					logx.Uint64("bus_dropped", a.bus.Dropped()),
				)
			}
		}
	})

	a.log.Info("droidpilot started")
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	set, err := parseSettings(cfg)
	if err != nil {
		// The manager validates before publishing, so this is unreachable
		// in practice.
		a.log.Warn("config update rejected", logx.Err(err))
		return
	}
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.exec.SetConfig(set.executor)
	a.log.Info("config applied",
		logx.String("log_level", cfg.Logging.Level),
		logx.Duration("task_timeout", set.executor.TaskTimeout),
		logx.Int("max_retries", set.executor.MaxRetries),
	)
	if set.pool.PoolSize != a.set.pool.PoolSize || set.scanner.ScanInterval != a.set.scanner.ScanInterval {
		// Pool size and scan cadence are bound at startup.
		a.log.Warn("scheduler topology changes take effect after restart")
	}
}

// Stop drains in dependency order: no new dispatches, then scheduler
// queues, then background loops, then the store.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("droidpilot stopping")
	a.scanner.Stop()

	var errs []error
	shCtx, cancel := context.WithTimeout(ctx, a.set.shutdownTimeout)
	defer cancel()
	if err := a.pool.Shutdown(shCtx); err != nil {
		errs = append(errs, fmt.Errorf("pool scheduler: %w", err))
	}
	if err := a.wt.Shutdown(shCtx); err != nil {
		errs = append(errs, fmt.Errorf("wt scheduler: %w", err))
	}

	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("supervisor: %w", err))
		}
	}
	if a.notifier != nil {
		a.notifier.Stop()
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	_ = a.logSvc.Close()
	return errors.Join(errs...)
}

// Logger exposes the root logger for the command layer.
func (a *App) Logger() logx.Logger { return a.log }

// LockFile is the configured single-instance lock path; empty disables
// locking.
func (a *App) LockFile() string { return a.set.lockFile }

// settings is the parsed, validated form of the on-disk config.
type settings struct {
	store           store.Config
	adb             device.Config
	executor        executor.Config
	pool            sched.PoolConfig
	scanner         sched.ScannerConfig
	shutdownTimeout time.Duration
	lockFile        string
}

func parseSettings(cfg *config.Config) (settings, error) {
	var (
		s    settings
		durs config.Durations
		errs []error
	)
	dur := durs.Get

	s.store = store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: dur("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second),
	}
	s.adb = device.Config{
		Path:           cfg.ADB.Path,
		CommandTimeout: dur("adb.command_timeout", cfg.ADB.CommandTimeout, 20*time.Second),
	}

	backoff := cfg.Executor.RetryBackoff
	switch backoff {
	case "", executor.BackoffExponential, executor.BackoffFixed:
	default:
		errs = append(errs, fmt.Errorf("executor.retry_backoff: unknown strategy %q", backoff))
	}
	s.executor = executor.Config{
		TaskTimeout: dur("executor.task_timeout", cfg.Executor.TaskTimeout, 5*time.Minute),
		MaxRetries:  cfg.Executor.MaxRetries,
		Backoff: executor.BackoffPolicy{
			Strategy:  backoff,
			BaseDelay: dur("executor.retry_base_delay", cfg.Executor.RetryBaseDelay, 2*time.Second),
			MaxDelay:  dur("executor.retry_max_delay", cfg.Executor.RetryMaxDelay, time.Minute),
			Jitter:    cfg.Executor.RetryJitter,
		},
	}
	if cfg.Executor.MaxRetries < 0 {
		errs = append(errs, errors.New("executor.max_retries: must be >= 0"))
	}

	if cfg.Scheduler.Pending.PoolSize < 0 {
		errs = append(errs, errors.New("scheduler.pending.pool_size: must be >= 0"))
	}
	s.pool = sched.PoolConfig{PoolSize: cfg.Scheduler.Pending.PoolSize}
	s.scanner = sched.ScannerConfig{
		ScanInterval: dur("scheduler.scan_interval", cfg.Scheduler.ScanInterval, 30*time.Second),
	}
	s.shutdownTimeout = dur("scheduler.pending.shutdown_timeout", cfg.Scheduler.Pending.ShutdownTimeout, 30*time.Second)
	s.lockFile = cfg.Daemon.LockFile

	if cfg.Notify != nil && cfg.Notify.Enabled {
		if cfg.Notify.Token == "" {
			errs = append(errs, errors.New("notify.token: required when notify is enabled"))
		}
		if cfg.Notify.ChatID == 0 {
			errs = append(errs, errors.New("notify.chat_id: required when notify is enabled"))
		}
	}
	if err := durs.Err(); err != nil {
		errs = append(errs, err)
	}
	return s, errors.Join(errs...)
}
