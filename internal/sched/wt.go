package sched

import (
	"context"
	"sync"

	"droidpilot/internal/eventbus"
	"droidpilot/internal/model"
	"droidpilot/internal/status"
	logx "droidpilot/pkg/logx"
)

// WTScheduler runs waiting-time tasks cooperatively: one goroutine per
// device queue, spawned on first use, with no cap on how many devices
// execute at once. Ordering within a device is strict FIFO.
type WTScheduler struct {
	runner Runner
	auth   *status.Authority
	bus    eventbus.Bus
	log    logx.Logger

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	queues map[string]*wtQueue
	closed bool
}

type wtQueue struct {
	mu     sync.Mutex
	items  []model.Task
	signal chan struct{}
}

func (q *wtQueue) push(t model.Task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *wtQueue) pop() (model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.Task{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

func NewWTScheduler(runner Runner, auth *status.Authority, bus eventbus.Bus, log logx.Logger) *WTScheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WTScheduler{
		runner: runner,
		auth:   auth,
		bus:    bus,
		log:    log.With(logx.String("scheduler", "wt")),
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
		queues: make(map[string]*wtQueue),
	}
}

func (s *WTScheduler) Schedule(t model.Task) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	q, ok := s.queues[t.DeviceName]
	if !ok {
		q = &wtQueue{signal: make(chan struct{}, 1)}
		s.queues[t.DeviceName] = q
		s.wg.Add(1)
		go s.runQueue(t.DeviceName, q)
	}
	s.mu.Unlock()

	q.push(t)
	s.log.Debug("task queued",
		logx.Int64("task", t.ID),
		logx.String("device", t.DeviceName),
	)
	return nil
}

func (s *WTScheduler) runQueue(deviceName string, q *wtQueue) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			s.requeueRemaining(q)
			return
		case <-q.signal:
		}
		for {
			select {
			case <-s.stopCh:
				s.requeueRemaining(q)
				return
			default:
			}
			t, ok := q.pop()
			if !ok {
				break
			}
			runToCompletion(s.ctx, s.auth, s.runner, s.bus, s.log, t)
		}
	}
}

func (s *WTScheduler) requeueRemaining(q *wtQueue) {
	for {
		t, ok := q.pop()
		if !ok {
			return
		}
		publishRequeued(s.bus, t)
	}
}

// Snapshot reports the queued (not yet started) task count per device.
// Diagnostics only.
func (s *WTScheduler) Snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.queues))
	for name, q := range s.queues {
		q.mu.Lock()
		out[name] = len(q.items)
		q.mu.Unlock()
	}
	return out
}

// Shutdown stops intake and waits for the device goroutines. If ctx expires
// first, in-progress attempts are cancelled and the wait continues.
func (s *WTScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopCh)
	s.mu.Unlock()

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
