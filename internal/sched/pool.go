package sched

import (
	"context"
	"sync"

	"droidpilot/internal/eventbus"
	"droidpilot/internal/model"
	"droidpilot/internal/status"
	logx "droidpilot/pkg/logx"
)

// PoolConfig tunes the pooled scheduler.
type PoolConfig struct {
	// PoolSize is the number of workers. Defaults to 5.
	PoolSize int
}

const defaultPoolSize = 5

// PoolScheduler runs pending tasks on a bounded worker pool. A worker claims
// one device queue at a time and drains it before releasing the claim, so a
// device never has two tasks running concurrently even when several workers
// are idle.
type PoolScheduler struct {
	runner Runner
	auth   *status.Authority
	bus    eventbus.Bus
	log    logx.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	cond    *sync.Cond
	queues  map[string][]model.Task
	ready   []string
	claimed map[string]bool
	closed  bool
}

func NewPoolScheduler(cfg PoolConfig, runner Runner, auth *status.Authority, bus eventbus.Bus, log logx.Logger) *PoolScheduler {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &PoolScheduler{
		runner:  runner,
		auth:    auth,
		bus:     bus,
		log:     log.With(logx.String("scheduler", "pool")),
		ctx:     ctx,
		cancel:  cancel,
		queues:  make(map[string][]model.Task),
		claimed: make(map[string]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < cfg.PoolSize; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *PoolScheduler) Schedule(t model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}
	s.queues[t.DeviceName] = append(s.queues[t.DeviceName], t)
	// A device joins the ready list when its queue goes from empty to
	// non-empty and no worker holds its claim. Claim holders re-add the
	// device themselves if work arrives while they drain.
	if len(s.queues[t.DeviceName]) == 1 && !s.claimed[t.DeviceName] {
		s.ready = append(s.ready, t.DeviceName)
		s.cond.Signal()
	}
	s.log.Debug("task queued",
		logx.Int64("task", t.ID),
		logx.String("device", t.DeviceName),
	)
	return nil
}

func (s *PoolScheduler) worker() {
	defer s.wg.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for len(s.ready) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return
		}
		deviceName := s.ready[0]
		s.ready = s.ready[1:]
		s.claimed[deviceName] = true

		for len(s.queues[deviceName]) > 0 && !s.closed {
			t := s.queues[deviceName][0]
			s.queues[deviceName] = s.queues[deviceName][1:]
			s.mu.Unlock()
			runToCompletion(s.ctx, s.auth, s.runner, s.bus, s.log, t)
			s.mu.Lock()
		}

		s.claimed[deviceName] = false
		if len(s.queues[deviceName]) == 0 {
			delete(s.queues, deviceName)
		} else if !s.closed {
			s.ready = append(s.ready, deviceName)
		}
	}
}

// Snapshot reports the queued (not yet started) task count per device.
// Diagnostics only.
func (s *PoolScheduler) Snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.queues))
	for name, q := range s.queues {
		out[name] = len(q)
	}
	return out
}

// Shutdown stops intake, lets workers finish their current attempt, and
// announces every still-queued task as requeued. Queued tasks keep their
// stored pre-execution status.
func (s *PoolScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var remaining []model.Task
	for _, q := range s.queues {
		remaining = append(remaining, q...)
	}
	s.queues = make(map[string][]model.Task)
	s.ready = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, t := range remaining {
		publishRequeued(s.bus, t)
	}
	if len(remaining) > 0 {
		s.log.Info("requeued unstarted tasks", logx.Int("count", len(remaining)))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
