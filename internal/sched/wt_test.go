package sched

import (
	"context"
	"testing"
	"time"

	"droidpilot/internal/eventbus"
	"droidpilot/internal/model"
	"droidpilot/internal/status"
	logx "droidpilot/pkg/logx"
)

func wtTask(id int64, deviceName string) model.Task {
	return model.Task{ID: id, DeviceName: deviceName, Kind: model.KindTransfer, Status: model.StatusWT}
}

func TestWTSchedulerPerDeviceFIFO(t *testing.T) {
	runner := newFakeRunner()
	s := NewWTScheduler(runner, newTestAuthority(), eventbus.New(), logx.Nop())

	for _, id := range []int64{1, 2, 3} {
		if err := s.Schedule(wtTask(id, "dev-a")); err != nil {
			t.Fatalf("schedule %d: %v", id, err)
		}
	}
	if !waitFor(2*time.Second, func() bool { return len(runner.executed()) == 3 }) {
		t.Fatalf("executed = %v, want 3 tasks", runner.executed())
	}
	got := runner.executed()
	for i, want := range []int64{1, 2, 3} {
		if got[i] != want {
			t.Fatalf("execution order = %v, want [1 2 3]", got)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestWTSchedulerDevicesRunIndependently(t *testing.T) {
	runner := newFakeRunner()
	gate := runner.block(1)
	s := NewWTScheduler(runner, newTestAuthority(), eventbus.New(), logx.Nop())

	if err := s.Schedule(wtTask(1, "dev-a")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Schedule(wtTask(2, "dev-b")); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// dev-b finishes while dev-a's task is still blocked.
	if !waitFor(2*time.Second, func() bool {
		for _, id := range runner.executed() {
			if id == 2 {
				return true
			}
		}
		return false
	}) {
		t.Fatal("dev-b task did not run while dev-a was busy")
	}
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestWTSchedulerRetriesAtQueueHead(t *testing.T) {
	runner := newFakeRunner()
	runner.retries[1] = 2
	s := NewWTScheduler(runner, newTestAuthority(), eventbus.New(), logx.Nop())

	if err := s.Schedule(wtTask(1, "dev-a")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Schedule(wtTask(2, "dev-a")); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if !waitFor(2*time.Second, func() bool { return len(runner.executed()) == 4 }) {
		t.Fatalf("executed = %v, want 4 attempts", runner.executed())
	}
	got := runner.executed()
	// Task 1 retries twice before task 2 gets its turn.
	want := []int64{1, 1, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", got, want)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestWTSchedulerShutdownRequeuesQueuedTasks(t *testing.T) {
	runner := newFakeRunner()
	gate := runner.block(1)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := NewWTScheduler(runner, newTestAuthority(), bus, logx.Nop())
	if err := s.Schedule(wtTask(1, "dev-a")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !waitFor(time.Second, func() bool { return len(runner.executed()) == 1 }) {
		t.Fatal("first task never started")
	}
	if err := s.Schedule(wtTask(2, "dev-a")); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(gate)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	var requeued []int64
	for {
		select {
		case ev := <-events:
			if ev.Type == status.EventRequeued {
				requeued = append(requeued, ev.Data.(status.RequeueEvent).TaskID)
			}
			continue
		default:
		}
		break
	}
	if len(requeued) != 1 || requeued[0] != 2 {
		t.Fatalf("requeued = %v, want [2]", requeued)
	}

	if err := s.Schedule(wtTask(3, "dev-a")); err != ErrShuttingDown {
		t.Fatalf("schedule after shutdown = %v, want ErrShuttingDown", err)
	}
}
