package sched

import (
	"context"
	"errors"
	"sync"
	"testing"

	"droidpilot/internal/model"
	logx "droidpilot/pkg/logx"
)

type recordingScheduler struct {
	mu    sync.Mutex
	tasks []model.Task
	err   error
}

func (r *recordingScheduler) Schedule(t model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *recordingScheduler) Shutdown(context.Context) error { return nil }

func (r *recordingScheduler) scheduled() []model.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

func TestDispatchRoutesByStatus(t *testing.T) {
	wt := &recordingScheduler{}
	pool := &recordingScheduler{}
	d := NewDispatcher(logx.Nop())
	d.Register(model.StatusWT, wt)
	d.Register(model.StatusPending, pool)

	if err := d.Dispatch(model.Task{ID: 1, Status: model.StatusWT}); err != nil {
		t.Fatalf("dispatch WT: %v", err)
	}
	if err := d.Dispatch(model.Task{ID: 2, Status: model.StatusPending}); err != nil {
		t.Fatalf("dispatch PENDING: %v", err)
	}

	if got := wt.scheduled(); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("wt scheduler received %v", got)
	}
	if got := pool.scheduled(); len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("pool scheduler received %v", got)
	}
}

func TestDispatchUnroutableStatus(t *testing.T) {
	d := NewDispatcher(logx.Nop())
	d.Register(model.StatusWT, &recordingScheduler{})

	err := d.Dispatch(model.Task{ID: 3, Status: model.StatusPending})
	if !errors.Is(err, ErrUnroutableStatus) {
		t.Fatalf("err = %v, want ErrUnroutableStatus", err)
	}
}

func TestDispatchPropagatesSchedulerError(t *testing.T) {
	s := &recordingScheduler{err: ErrShuttingDown}
	d := NewDispatcher(logx.Nop())
	d.Register(model.StatusWT, s)

	if err := d.Dispatch(model.Task{ID: 4, Status: model.StatusWT}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("err = %v, want ErrShuttingDown", err)
	}
}
