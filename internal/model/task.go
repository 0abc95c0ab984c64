package model

import "time"

// Kind selects which kind-specific executor runs a task.
type Kind string

const (
	KindTransfer   Kind = "TRANSFER"
	KindAutomation Kind = "AUTOMATION"
)

// FilePair is one local-to-remote copy unit of a transfer task.
type FilePair struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// Action describes one UI-automation run. The automation engine interprets
// Name and Params; the scheduling core treats it as opaque.
type Action struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

// Task is a unit of work bound to exactly one device.
//
// A task is never concurrently executed by two schedulers: the scanner's
// in-flight set guarantees single ownership from dispatch to a terminal or
// re-queued transition.
type Task struct {
	ID         int64
	DeviceName string
	Kind       Kind
	Status     Status
	RetryCount int

	// NotBefore gates dispatch: the scanner skips PENDING tasks whose
	// scheduled time has not arrived. Zero means dispatch immediately.
	NotBefore time.Time

	// Files is the transfer payload (KindTransfer only).
	Files []FilePair
	// Action is the automation payload (KindAutomation only).
	Action *Action

	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Device identifies one Android device in the fleet.
//
// Operational flags (connected, locked, screen-on) are transient and are
// queried through device.Operations before each execution attempt; the
// scheduling core never stores or mutates them.
type Device struct {
	Name      string // unique fleet-wide name
	Serial    string // stable adb serial
	Path      string // storage root on the device
	Password  string // screen-unlock password, may be empty
	CreatedAt time.Time
	UpdatedAt time.Time
}
