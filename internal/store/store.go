package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"droidpilot/internal/model"
	logx "droidpilot/pkg/logx"
)

var (
	ErrNotFound = errors.New("store: not found")

	// ErrStaleStatus means a status-conditioned update matched no row:
	// the task's stored status was not the expected one. The status
	// authority treats this as a lost race, never as data loss.
	ErrStaleStatus = errors.New("store: stale status")
)

// Config configures the task store.
//
// Driver values:
//   - "sqlite": SQLite database file (the only production backend)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the persistence surface the scheduling core consumes.
//
// The core only ever sees committed task state; status writes are
// conditioned on the expected current status so two writers cannot
// silently overwrite each other.
type Store interface {
	// DispatchableTasks returns tasks in a dispatchable status (PENDING, WT)
	// whose scheduled time has arrived, oldest first.
	DispatchableTasks(ctx context.Context, now time.Time) ([]model.Task, error)

	Task(ctx context.Context, id int64) (model.Task, error)

	// UpdateTaskStatus moves a task from status `from` to `to`, stamping
	// retry count, last error and update time. Returns ErrStaleStatus if
	// the stored status is no longer `from`.
	UpdateTaskStatus(ctx context.Context, id int64, from, to model.Status, retryCount int, lastErr string, at time.Time) error

	CreateTask(ctx context.Context, t model.Task) (int64, error)
	ListTasks(ctx context.Context, limit int) ([]model.Task, error)

	CreateDevice(ctx context.Context, d model.Device) error
	DeviceByName(ctx context.Context, name string) (model.Device, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
