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

func pendingTask(id int64, deviceName string) model.Task {
	return model.Task{ID: id, DeviceName: deviceName, Kind: model.KindTransfer, Status: model.StatusPending}
}

func TestPoolSchedulerDrainsDeviceQueueBeforeNext(t *testing.T) {
	runner := newFakeRunner()
	s := NewPoolScheduler(PoolConfig{PoolSize: 1}, runner, newTestAuthority(), eventbus.New(), logx.Nop())

	// A single worker claims dev-a and drains it fully before dev-b.
	for _, tc := range []struct {
		id     int64
		device string
	}{{1, "dev-a"}, {2, "dev-a"}, {3, "dev-b"}} {
		if err := s.Schedule(pendingTask(tc.id, tc.device)); err != nil {
			t.Fatalf("schedule %d: %v", tc.id, err)
		}
	}
	if !waitFor(2*time.Second, func() bool { return len(runner.executed()) == 3 }) {
		t.Fatalf("executed = %v, want 3 tasks", runner.executed())
	}
	got := runner.executed()
	want := []int64{1, 2, 3}
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

func TestPoolSchedulerIndependentDevices(t *testing.T) {
	runner := newFakeRunner()
	gate := runner.block(1)
	s := NewPoolScheduler(PoolConfig{PoolSize: 2}, runner, newTestAuthority(), eventbus.New(), logx.Nop())

	if err := s.Schedule(pendingTask(1, "dev-a")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Schedule(pendingTask(2, "dev-b")); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// dev-b proceeds on the second worker while dev-a is blocked.
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

func TestPoolSchedulerNeverRunsDeviceConcurrently(t *testing.T) {
	runner := newFakeRunner()
	gate := runner.block(1)
	s := NewPoolScheduler(PoolConfig{PoolSize: 4}, runner, newTestAuthority(), eventbus.New(), logx.Nop())

	if err := s.Schedule(pendingTask(1, "dev-a")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !waitFor(time.Second, func() bool { return len(runner.executed()) == 1 }) {
		t.Fatal("first task never started")
	}
	if err := s.Schedule(pendingTask(2, "dev-a")); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Plenty of idle workers, but the claim keeps task 2 waiting.
	time.Sleep(50 * time.Millisecond)
	if got := runner.executed(); len(got) != 1 {
		t.Fatalf("executed = %v, device queue must stay serialized", got)
	}
	close(gate)
	if !waitFor(2*time.Second, func() bool { return len(runner.executed()) == 2 }) {
		t.Fatal("second task never ran after the first completed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestPoolSchedulerShutdownRequeuesUnstarted(t *testing.T) {
	runner := newFakeRunner()
	gate := runner.block(1)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := NewPoolScheduler(PoolConfig{PoolSize: 1}, runner, newTestAuthority(), bus, logx.Nop())
	if err := s.Schedule(pendingTask(1, "dev-a")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !waitFor(time.Second, func() bool { return len(runner.executed()) == 1 }) {
		t.Fatal("first task never started")
	}
	if err := s.Schedule(pendingTask(2, "dev-a")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Schedule(pendingTask(3, "dev-b")); err != nil {
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

	requeued := map[int64]bool{}
	for {
		select {
		case ev := <-events:
			if ev.Type == status.EventRequeued {
				re := ev.Data.(status.RequeueEvent)
				requeued[re.TaskID] = true
				if !re.Status.Dispatchable() {
					t.Fatalf("requeued task %d carries status %s", re.TaskID, re.Status)
				}
			}
			continue
		default:
		}
		break
	}
	if !requeued[2] || !requeued[3] || len(requeued) != 2 {
		t.Fatalf("requeued = %v, want tasks 2 and 3", requeued)
	}
	// Started tasks finish; only unstarted ones are requeued.
	if got := runner.executed(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("executed = %v, want only task 1", got)
	}

	if err := s.Schedule(pendingTask(4, "dev-c")); err != ErrShuttingDown {
		t.Fatalf("schedule after shutdown = %v, want ErrShuttingDown", err)
	}
}
