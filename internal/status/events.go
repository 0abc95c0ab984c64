package status

import "droidpilot/internal/model"

// Event types published on the bus.
const (
	// EventTransition accompanies every successful status transition.
	EventTransition = "task.transition"

	// EventRequeued announces that a scheduler gave a task back without
	// executing it (pooled-scheduler shutdown drains). The task keeps its
	// pre-execution stored status; the scanner releases its in-flight entry
	// so a later scan can dispatch it again.
	EventRequeued = "task.requeued"
)

// TransitionEvent is the payload of EventTransition.
type TransitionEvent struct {
	TaskID     int64        `json:"task_id"`
	DeviceName string       `json:"device"`
	From       model.Status `json:"from"`
	To         model.Status `json:"to"`
	RetryCount int          `json:"retry_count"`
	LastError  string       `json:"last_error,omitempty"`
}

// RequeueEvent is the payload of EventRequeued.
type RequeueEvent struct {
	TaskID     int64        `json:"task_id"`
	DeviceName string       `json:"device"`
	Status     model.Status `json:"status"`
}
