package model

// Status is the closed task-status enumeration.
//
// Tasks are created as PENDING or WT, move to RUNNING when a scheduler
// dispatches them, and end in SUCCESS or FAILED. All mutations go through
// status.Authority; nothing else writes task status.
type Status string

const (
	// StatusWT marks a transfer task waiting for low-latency dispatch.
	StatusWT Status = "WT"
	// StatusPending marks a task waiting for the pooled scheduler.
	StatusPending Status = "PENDING"
	// StatusRunning marks a task currently owned by an executor.
	StatusRunning Status = "RUNNING"
	// StatusRetrying marks a task that failed recoverably and is waiting
	// out its backoff delay inside the owning scheduler.
	StatusRetrying Status = "RETRYING"
	// StatusSuccess is terminal.
	StatusSuccess Status = "SUCCESS"
	// StatusFailed is terminal (unrecoverable, or retry budget exhausted).
	StatusFailed Status = "FAILED"
)

// transitions is the single source of truth for legal status changes.
var transitions = map[Status][]Status{
	StatusPending:  {StatusRunning},
	StatusWT:       {StatusRunning},
	StatusRetrying: {StatusRunning},
	StatusRunning:  {StatusSuccess, StatusRetrying, StatusFailed},
	StatusSuccess:  {},
	StatusFailed:   {},
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Dispatchable reports whether the scanner may hand a task in this status
// to the dispatcher.
func (s Status) Dispatchable() bool {
	return s == StatusPending || s == StatusWT
}

// Valid reports whether s is a member of the closed enumeration.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}
