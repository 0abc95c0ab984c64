package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"droidpilot/internal/automation"
	"droidpilot/internal/device"
	"droidpilot/internal/model"
	"droidpilot/internal/status"
	"droidpilot/internal/store"
	logx "droidpilot/pkg/logx"
)

// Config tunes execution attempts.
type Config struct {
	// TaskTimeout bounds a single attempt. Defaults to 5 minutes.
	TaskTimeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	// Defaults to 3.
	MaxRetries int
	// Backoff computes the delay before each retry.
	Backoff BackoffPolicy
}

const (
	defaultTaskTimeout = 5 * time.Minute
	defaultMaxRetries  = 3
)

// Outcome is the result of one execution attempt. Exactly one status
// transition has been applied by the time Execute returns it.
type Outcome struct {
	// Status is the task's status after the attempt: SUCCESS, RETRYING
	// or FAILED.
	Status model.Status
	// RetryDelay is the backoff to wait before re-running the task.
	// Only set when Status is RETRYING.
	RetryDelay time.Duration
	// Err is the attempt error, nil on success.
	Err error
}

// Executor runs a single task attempt end to end: device precheck, screen
// preparation, the kind-specific runner, and the one outcome transition.
//
// The task must be in RUNNING status when handed to Execute; schedulers own
// the dispatch transitions that get it there.
type Executor struct {
	cfgMu sync.RWMutex
	cfg   Config

	store   store.Store
	devices device.Operations
	engine  automation.Engine
	auth    *status.Authority
	log     logx.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg Config, st store.Store, devs device.Operations, eng automation.Engine, auth *status.Authority, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Executor{
		store:   st,
		devices: devs,
		engine:  eng,
		auth:    auth,
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	e.SetConfig(cfg)
	return e
}

// SetConfig swaps the execution tuning at runtime. Attempts already in
// flight keep the settings they started with.
func (e *Executor) SetConfig(cfg Config) {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()
}

func (e *Executor) config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Execute runs one attempt of t and applies exactly one outcome transition:
// RUNNING -> SUCCESS, RUNNING -> RETRYING, or RUNNING -> FAILED.
//
// The returned error reports a failure to record the outcome (a store or
// transition error); attempt failures travel in Outcome.Err.
func (e *Executor) Execute(ctx context.Context, t *model.Task) (Outcome, error) {
	cfg := e.config()
	attempt := uuid.NewString()
	log := e.log.With(
		logx.Int64("task", t.ID),
		logx.String("device", t.DeviceName),
		logx.String("kind", string(t.Kind)),
		logx.String("attempt", attempt),
	)
	log.Info("executing task", logx.Int("retry_count", t.RetryCount))

	attemptErr := e.attempt(ctx, cfg, t)
	if attemptErr == nil {
		if err := e.auth.Transition(ctx, t, model.StatusSuccess); err != nil {
			return Outcome{}, err
		}
		log.Info("task succeeded", logx.Int("retry_count", t.RetryCount))
		return Outcome{Status: model.StatusSuccess}, nil
	}

	kind := classify(attemptErr)

	if IsFatal(attemptErr) || t.RetryCount >= cfg.MaxRetries {
		if !IsFatal(attemptErr) {
			kind = KindRetryBudgetExhausted
			attemptErr = &Error{Kind: KindRetryBudgetExhausted, Err: attemptErr}
		}
		t.LastError = attemptErr.Error()
		if err := e.auth.Transition(ctx, t, model.StatusFailed); err != nil {
			return Outcome{}, err
		}
		log.Warn("task failed",
			logx.String("error_kind", string(kind)),
			logx.Int("retry_count", t.RetryCount),
			logx.Err(attemptErr),
		)
		return Outcome{Status: model.StatusFailed, Err: attemptErr}, nil
	}

	t.RetryCount++
	t.LastError = attemptErr.Error()
	if err := e.auth.Transition(ctx, t, model.StatusRetrying); err != nil {
		return Outcome{}, err
	}
	delay := e.retryDelay(cfg, t.RetryCount)
	log.Warn("task will retry",
		logx.String("error_kind", string(kind)),
		logx.Int("retry_count", t.RetryCount),
		logx.Duration("backoff", delay),
		logx.Err(attemptErr),
	)
	return Outcome{Status: model.StatusRetrying, RetryDelay: delay, Err: attemptErr}, nil
}

// attempt performs the precheck, screen prep and runner for one attempt.
func (e *Executor) attempt(ctx context.Context, cfg Config, t *model.Task) error {
	dev, err := e.store.DeviceByName(ctx, t.DeviceName)
	if err != nil {
		if err == store.ErrNotFound {
			return Fatal(&Error{Kind: KindInternal, Err: fmt.Errorf("device %q is not registered", t.DeviceName)})
		}
		return &Error{Kind: KindInternal, Err: err}
	}

	// Precheck before touching the runner. Unreachable devices burn a
	// retry without invoking the task payload.
	connected, err := e.devices.Connected(ctx, dev)
	if err != nil {
		return &Error{Kind: KindTransportUnreachable, Err: err}
	}
	if !connected {
		return &Error{Kind: KindTransportUnreachable, Err: fmt.Errorf("device %s is not connected", dev.Name)}
	}
	if err := e.prepareScreen(ctx, dev); err != nil {
		return &Error{Kind: KindTransportUnreachable, Err: err}
	}

	actx, cancel := context.WithTimeout(ctx, cfg.TaskTimeout)
	defer cancel()

	var runErr error
	switch t.Kind {
	case model.KindTransfer:
		runErr = e.runTransfer(actx, dev, t)
	case model.KindAutomation:
		runErr = e.runAutomation(actx, dev, t)
	default:
		return Fatal(&Error{Kind: KindInternal, Err: fmt.Errorf("unknown task kind %q", t.Kind)})
	}
	if runErr != nil && actx.Err() == context.DeadlineExceeded {
		return &Error{Kind: KindTimeout, Err: fmt.Errorf("attempt exceeded %s: %w", cfg.TaskTimeout, runErr)}
	}
	return runErr
}

// prepareScreen wakes and unlocks the device if needed.
func (e *Executor) prepareScreen(ctx context.Context, dev model.Device) error {
	on, err := e.devices.ScreenOn(ctx, dev)
	if err != nil {
		return err
	}
	if !on {
		if err := e.devices.Wake(ctx, dev); err != nil {
			return err
		}
	}
	locked, err := e.devices.Locked(ctx, dev)
	if err != nil {
		return err
	}
	if locked {
		if err := e.devices.Unlock(ctx, dev); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) retryDelay(cfg Config, retry int) time.Duration {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return cfg.Backoff.Delay(retry, e.rng)
}
