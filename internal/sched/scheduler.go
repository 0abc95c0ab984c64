package sched

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"droidpilot/internal/eventbus"
	"droidpilot/internal/executor"
	"droidpilot/internal/model"
	"droidpilot/internal/status"
	logx "droidpilot/pkg/logx"
)

// ErrShuttingDown is returned by Schedule after Shutdown has begun.
var ErrShuttingDown = errors.New("scheduler is shutting down")

// DeviceScheduler accepts dispatched tasks and executes them with per-device
// FIFO ordering: at most one task per device runs at a time, in dispatch
// order.
type DeviceScheduler interface {
	// Schedule enqueues t on its device queue and returns without waiting
	// for execution.
	Schedule(t model.Task) error
	// Shutdown stops intake, waits for in-progress attempts up to the
	// context deadline, and announces still-queued tasks as requeued.
	Shutdown(ctx context.Context) error
}

// Runner executes one task attempt. Satisfied by *executor.Executor.
type Runner interface {
	Execute(ctx context.Context, t *model.Task) (executor.Outcome, error)
}

// runToCompletion drives one task through attempts until it reaches a
// terminal status or the context ends. Retries happen in place, at the head
// of the device queue, so queued tasks behind a retrying one keep waiting.
//
// Giving up on a task (a failed transition or a failed outcome write) always
// announces a requeue: the scanner must release its in-flight entry, or the
// task would never be scanned again while its stored status stays
// dispatchable.
func runToCompletion(ctx context.Context, auth *status.Authority, runner Runner, bus eventbus.Bus, log logx.Logger, t model.Task) {
	for {
		if err := auth.Transition(ctx, &t, model.StatusRunning); err != nil {
			log.Warn("task dispatch transition failed",
				logx.Int64("task", t.ID),
				logx.String("device", t.DeviceName),
				logx.Err(err),
			)
			publishRequeued(bus, t)
			return
		}
		out, err := safeExecute(ctx, runner, &t)
		if err != nil {
			log.Error("recording task outcome failed",
				logx.Int64("task", t.ID),
				logx.String("device", t.DeviceName),
				logx.Err(err),
			)
			publishRequeued(bus, t)
			return
		}
		if out.Status != model.StatusRetrying {
			return
		}
		if !sleepCtx(ctx, out.RetryDelay) {
			return
		}
	}
}

// safeExecute keeps a panicking runner from taking its device queue
// goroutine down with it.
func safeExecute(ctx context.Context, runner Runner, t *model.Task) (out executor.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %d panicked: %v\n%s", t.ID, r, debug.Stack())
		}
	}()
	return runner.Execute(ctx, t)
}

// publishRequeued announces that a scheduler no longer owns t. The task keeps
// its stored pre-execution status; the event only releases the scanner's
// in-flight entry so a later scan picks the task up again.
func publishRequeued(bus eventbus.Bus, t model.Task) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: status.EventRequeued, Time: time.Now(), Data: status.RequeueEvent{
		TaskID:     t.ID,
		DeviceName: t.DeviceName,
		Status:     t.Status,
	}})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
