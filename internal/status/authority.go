package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"droidpilot/internal/eventbus"
	"droidpilot/internal/model"
	"droidpilot/internal/store"
	logx "droidpilot/pkg/logx"
)

// ErrInvalidTransition means a caller asked for a status change the task
// state machine does not permit. This is a programming or wiring error:
// the offending call aborts immediately and the task is left untouched.
var ErrInvalidTransition = errors.New("invalid status transition")

// Authority is the single source of truth for task-status changes.
//
// Every component mutates task status exclusively through Transition. The
// authority validates the change against the state machine, persists it with
// a status-conditioned write, stamps the update time, and announces the
// change on the event bus. Subscribers (scanner, notifier) consume the
// events instead of holding back-references into the authority.
type Authority struct {
	store store.Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewAuthority(st store.Store, bus eventbus.Bus, log logx.Logger) *Authority {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Authority{store: st, bus: bus, log: log}
}

// Transition moves t to the requested status and updates t in place
// (status, update time). The caller is responsible for setting RetryCount
// and LastError on t before requesting the transition that records them.
//
// Exactly one event is published per successful transition; a task reaches
// a terminal status at most once (the conditioned store write loses any
// race instead of double-applying).
func (a *Authority) Transition(ctx context.Context, t *model.Task, to model.Status) error {
	if t == nil {
		return fmt.Errorf("%w: nil task", ErrInvalidTransition)
	}
	from := t.Status
	if !to.Valid() {
		return fmt.Errorf("%w: task %d: unknown status %q", ErrInvalidTransition, t.ID, to)
	}
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: task %d: %s -> %s", ErrInvalidTransition, t.ID, from, to)
	}

	now := time.Now()
	if err := a.store.UpdateTaskStatus(ctx, t.ID, from, to, t.RetryCount, t.LastError, now); err != nil {
		return fmt.Errorf("task %d: %s -> %s: %w", t.ID, from, to, err)
	}
	t.Status = to
	t.UpdatedAt = now

	a.log.Debug("task transitioned",
		logx.Int64("task", t.ID),
		logx.String("device", t.DeviceName),
		logx.String("from", string(from)),
		logx.String("to", string(to)),
		logx.Int("retry_count", t.RetryCount),
	)

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: EventTransition, Time: now, Data: TransitionEvent{
			TaskID:     t.ID,
			DeviceName: t.DeviceName,
			From:       from,
			To:         to,
			RetryCount: t.RetryCount,
			LastError:  t.LastError,
		}})
	}
	return nil
}
