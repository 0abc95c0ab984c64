package sched

import (
	"errors"
	"fmt"
	"sync"

	"droidpilot/internal/model"
	logx "droidpilot/pkg/logx"
)

// ErrUnroutableStatus means a task was dispatched with a status no
// scheduler is registered for. The scanner logs these loudly instead of
// dropping them silently.
var ErrUnroutableStatus = errors.New("no scheduler registered for status")

// Dispatcher routes dispatchable tasks to the scheduler that owns their
// status. Routing is by status only; the dispatcher knows nothing about
// devices or queues.
type Dispatcher struct {
	mu     sync.RWMutex
	routes map[model.Status]DeviceScheduler
	log    logx.Logger
}

func NewDispatcher(log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{routes: make(map[model.Status]DeviceScheduler), log: log}
}

// Register binds a scheduler to a status. Later registrations for the same
// status replace earlier ones.
func (d *Dispatcher) Register(st model.Status, s DeviceScheduler) {
	d.mu.Lock()
	d.routes[st] = s
	d.mu.Unlock()
}

// Dispatch hands t to the scheduler registered for its status.
func (d *Dispatcher) Dispatch(t model.Task) error {
	d.mu.RLock()
	s, ok := d.routes[t.Status]
	d.mu.RUnlock()
	if !ok {
		d.log.Error("task is unroutable",
			logx.Int64("task", t.ID),
			logx.String("device", t.DeviceName),
			logx.String("status", string(t.Status)),
		)
		return fmt.Errorf("%w: task %d has status %q", ErrUnroutableStatus, t.ID, t.Status)
	}
	return s.Schedule(t)
}
