package sched

import (
	"context"
	"sync"
	"time"

	"droidpilot/internal/executor"
	"droidpilot/internal/model"
	"droidpilot/internal/status"
	"droidpilot/internal/store"
	logx "droidpilot/pkg/logx"
)

type fakeStore struct {
	store.Store

	mu    sync.Mutex
	tasks []model.Task // returned by DispatchableTasks
}

func (f *fakeStore) UpdateTaskStatus(context.Context, int64, model.Status, model.Status, int, string, time.Time) error {
	return nil
}

func (f *fakeStore) DispatchableTasks(context.Context, time.Time) ([]model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Task, len(f.tasks))
	copy(out, f.tasks)
	return out, nil
}

func newTestAuthority() *status.Authority {
	return status.NewAuthority(&fakeStore{}, nil, logx.Nop())
}

// fakeRunner records execution order and can stall or retry on request.
type fakeRunner struct {
	mu    sync.Mutex
	order []int64

	// blockOn holds tasks inside Execute until released.
	blockOn map[int64]chan struct{}
	// retries maps a task id to how many RETRYING outcomes to produce
	// before succeeding.
	retries map[int64]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		blockOn: make(map[int64]chan struct{}),
		retries: make(map[int64]int),
	}
}

func (f *fakeRunner) block(id int64) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.blockOn[id] = ch
	f.mu.Unlock()
	return ch
}

func (f *fakeRunner) Execute(ctx context.Context, t *model.Task) (executor.Outcome, error) {
	f.mu.Lock()
	f.order = append(f.order, t.ID)
	gate := f.blockOn[t.ID]
	remaining := f.retries[t.ID]
	if remaining > 0 {
		f.retries[t.ID] = remaining - 1
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if remaining > 0 {
		t.RetryCount++
		t.Status = model.StatusRetrying
		return executor.Outcome{Status: model.StatusRetrying, RetryDelay: time.Millisecond}, nil
	}
	t.Status = model.StatusSuccess
	return executor.Outcome{Status: model.StatusSuccess}, nil
}

func (f *fakeRunner) executed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.order))
	copy(out, f.order)
	return out
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
