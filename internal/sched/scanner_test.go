package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"droidpilot/internal/eventbus"
	"droidpilot/internal/model"
	"droidpilot/internal/status"
	"droidpilot/internal/store"
	logx "droidpilot/pkg/logx"
)

func newTestScanner(st *fakeStore, disp *Dispatcher) (*Scanner, *InFlight) {
	inf := NewInFlight()
	s := NewScanner(ScannerConfig{ScanInterval: time.Hour}, st, disp, eventbus.New(), inf, logx.Nop())
	return s, inf
}

func TestScanDispatchesEachTaskOnce(t *testing.T) {
	st := &fakeStore{tasks: []model.Task{
		{ID: 1, DeviceName: "a", Status: model.StatusWT},
		{ID: 2, DeviceName: "a", Status: model.StatusPending},
	}}
	wt := &recordingScheduler{}
	pool := &recordingScheduler{}
	disp := NewDispatcher(logx.Nop())
	disp.Register(model.StatusWT, wt)
	disp.Register(model.StatusPending, pool)

	s, inf := newTestScanner(st, disp)
	s.Scan()
	s.Scan() // in-flight entries suppress the duplicate dispatch

	if got := wt.scheduled(); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("wt received %v, want task 1 once", got)
	}
	if got := pool.scheduled(); len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("pool received %v, want task 2 once", got)
	}
	if inf.Len() != 2 {
		t.Fatalf("in-flight len = %d, want 2", inf.Len())
	}
}

func TestScanReleasesEntryOnDispatchFailure(t *testing.T) {
	st := &fakeStore{tasks: []model.Task{
		{ID: 1, DeviceName: "a", Status: model.StatusWT},
	}}
	disp := NewDispatcher(logx.Nop()) // nothing registered

	s, inf := newTestScanner(st, disp)
	s.Scan()
	if inf.Has(1) {
		t.Fatal("failed dispatch must release the in-flight entry")
	}

	// Once a scheduler appears the task is dispatched again.
	wt := &recordingScheduler{}
	disp.Register(model.StatusWT, wt)
	s.Scan()
	if got := wt.scheduled(); len(got) != 1 {
		t.Fatalf("wt received %v after registration", got)
	}
}

func TestHandleEventReleasesInFlight(t *testing.T) {
	s, inf := newTestScanner(&fakeStore{}, NewDispatcher(logx.Nop()))

	cases := []struct {
		name    string
		event   eventbus.Event
		release bool
	}{
		{
			name: "terminal transition releases",
			event: eventbus.Event{Type: status.EventTransition, Data: status.TransitionEvent{
				TaskID: 1, From: model.StatusRunning, To: model.StatusSuccess,
			}},
			release: true,
		},
		{
			name: "failed transition releases",
			event: eventbus.Event{Type: status.EventTransition, Data: status.TransitionEvent{
				TaskID: 1, From: model.StatusRunning, To: model.StatusFailed,
			}},
			release: true,
		},
		{
			name: "retrying keeps ownership",
			event: eventbus.Event{Type: status.EventTransition, Data: status.TransitionEvent{
				TaskID: 1, From: model.StatusRunning, To: model.StatusRetrying,
			}},
			release: false,
		},
		{
			name: "running keeps ownership",
			event: eventbus.Event{Type: status.EventTransition, Data: status.TransitionEvent{
				TaskID: 1, From: model.StatusWT, To: model.StatusRunning,
			}},
			release: false,
		},
		{
			name: "requeue releases",
			event: eventbus.Event{Type: status.EventRequeued, Data: status.RequeueEvent{
				TaskID: 1, Status: model.StatusPending,
			}},
			release: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inf.Add(1)
			s.handleEvent(tc.event)
			if got := !inf.Has(1); got != tc.release {
				t.Fatalf("released = %v, want %v", got, tc.release)
			}
			inf.Remove(1)
		})
	}
}

// flakyStore fails the first n status updates, like a briefly locked
// database file.
type flakyStore struct {
	fakeStore
	failures int
	attempts int
}

func (f *flakyStore) UpdateTaskStatus(context.Context, int64, model.Status, model.Status, int, string, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("database is locked")
	}
	return nil
}

func (f *flakyStore) updateAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func TestScanRedispatchesAfterFailedDispatchTransition(t *testing.T) {
	st := &flakyStore{failures: 1}
	st.tasks = []model.Task{{ID: 1, DeviceName: "a", Status: model.StatusWT}}

	bus := eventbus.New()
	auth := status.NewAuthority(st, bus, logx.Nop())
	runner := newFakeRunner()
	wt := NewWTScheduler(runner, auth, bus, logx.Nop())
	disp := NewDispatcher(logx.Nop())
	disp.Register(model.StatusWT, wt)

	inf := NewInFlight()
	s := NewScanner(ScannerConfig{ScanInterval: time.Hour}, st, disp, bus, inf, logx.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
	t.Cleanup(func() { _ = wt.Shutdown(context.Background()) })

	// The startup scan dispatches the task; its RUNNING transition hits the
	// locked store, so the scheduler gives the task back and the in-flight
	// entry must be released.
	if !waitFor(2*time.Second, func() bool { return st.updateAttempts() >= 1 && !inf.Has(1) }) {
		t.Fatal("in-flight entry was not released after the failed transition")
	}
	if got := runner.executed(); len(got) != 0 {
		t.Fatalf("runner ran %v without a dispatch transition", got)
	}

	// The store has recovered; the next scan must pick the task up again.
	s.Scan()
	if !waitFor(2*time.Second, func() bool {
		got := runner.executed()
		return len(got) >= 1 && got[0] == 1
	}) {
		t.Fatalf("task was never re-dispatched, runner saw %v", runner.executed())
	}
}

// lookupStore answers Task lookups from a fixed map.
type lookupStore struct {
	fakeStore
	byID map[int64]model.Task
}

func (f *lookupStore) Task(_ context.Context, id int64) (model.Task, error) {
	t, ok := f.byID[id]
	if !ok {
		return model.Task{}, store.ErrNotFound
	}
	return t, nil
}

func TestReconcileReleasesStaleEntries(t *testing.T) {
	st := &lookupStore{byID: map[int64]model.Task{
		1: {ID: 1, Status: model.StatusSuccess},
		2: {ID: 2, Status: model.StatusWT},
	}}
	inf := NewInFlight()
	s := NewScanner(ScannerConfig{ScanInterval: time.Hour}, st, NewDispatcher(logx.Nop()), eventbus.New(), inf, logx.Nop())

	inf.Add(1)
	inf.Add(2)
	inf.Add(3) // not in the store at all
	s.reconcile()

	if inf.Has(1) {
		t.Fatal("entry for a terminal task must be released")
	}
	if !inf.Has(2) {
		t.Fatal("entry for a queued dispatchable task must survive")
	}
	if inf.Has(3) {
		t.Fatal("entry for a deleted task must be released")
	}
}

func TestScanReconcilesAfterDroppedEvents(t *testing.T) {
	st := &lookupStore{byID: map[int64]model.Task{
		1: {ID: 1, Status: model.StatusFailed},
	}}
	bus := eventbus.New()
	inf := NewInFlight()
	s := NewScanner(ScannerConfig{ScanInterval: time.Hour}, st, NewDispatcher(logx.Nop()), bus, inf, logx.Nop())

	inf.Add(1)
	s.Scan()
	if !inf.Has(1) {
		t.Fatal("no drops recorded, the entry must stay")
	}

	// Overflow a slow subscriber so the bus records a drop; the next scan
	// notices the counter moved and re-checks the store.
	_, unsub := bus.Subscribe(1)
	defer unsub()
	bus.Publish(eventbus.Event{Type: status.EventTransition})
	bus.Publish(eventbus.Event{Type: status.EventTransition})
	if bus.Dropped() == 0 {
		t.Fatal("expected the second publish to be dropped")
	}

	s.Scan()
	if inf.Has(1) {
		t.Fatal("entry for a terminal task must be released after drops")
	}
}

func TestScannerStartStop(t *testing.T) {
	st := &fakeStore{tasks: []model.Task{
		{ID: 1, DeviceName: "a", Status: model.StatusWT},
	}}
	wt := &recordingScheduler{}
	disp := NewDispatcher(logx.Nop())
	disp.Register(model.StatusWT, wt)

	inf := NewInFlight()
	bus := eventbus.New()
	s := NewScanner(ScannerConfig{ScanInterval: time.Hour}, st, disp, bus, inf, logx.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatal("second start must fail")
	}

	// The startup scan dispatches the stored task.
	if !waitFor(2*time.Second, func() bool { return len(wt.scheduled()) == 1 }) {
		t.Fatalf("startup scan never dispatched, got %v", wt.scheduled())
	}

	// A terminal transition on the bus releases the in-flight entry.
	bus.Publish(eventbus.Event{Type: status.EventTransition, Data: status.TransitionEvent{
		TaskID: 1, From: model.StatusRunning, To: model.StatusSuccess,
	}})
	if !waitFor(2*time.Second, func() bool { return !inf.Has(1) }) {
		t.Fatal("terminal event did not release the in-flight entry")
	}

	s.Stop()
	s.Stop() // idempotent
}
