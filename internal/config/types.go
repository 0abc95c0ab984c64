package config

// Config is the on-disk configuration. YAML and JSON are both accepted;
// YAML is coerced to JSON and decoded strictly (unknown fields rejected).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "5m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	ADB       ADBConfig       `json:"adb"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Executor  ExecutorConfig  `json:"executor"`

	// Notify controls the optional Telegram notifier for terminal task
	// transitions. Omitted or enabled=false disables it.
	Notify *NotifyConfig `json:"notify,omitempty"`

	Daemon DaemonConfig `json:"daemon,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"` // default true
	File    struct {
		Enabled bool   `json:"enabled,omitempty"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

// StorageConfig selects the task store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./droidpilot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite busy_timeout
}

// ADBConfig locates the adb binary used for device operations.
type ADBConfig struct {
	Path string `json:"path,omitempty"` // default "adb"

	// CommandTimeout bounds a single adb invocation. Default "20s".
	CommandTimeout string `json:"command_timeout,omitempty"`
}

// SchedulerConfig controls scanning and the two device-queue schedulers.
//
// Defaults (when fields are omitted/zero):
//   - scan_interval: "30s"
//   - pending.pool_size: 5
//   - pending.shutdown_timeout: "30s"
type SchedulerConfig struct {
	ScanInterval string `json:"scan_interval,omitempty"`

	Pending struct {
		PoolSize        int    `json:"pool_size,omitempty"`
		ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	} `json:"pending,omitempty"`
}

// ExecutorConfig controls per-task execution: timeout and retry policy.
//
// Backoff is "exponential" (default) or "fixed". The default is exponential
// with base_delay doubling per retry, capped at max_delay, with jitter.
type ExecutorConfig struct {
	TaskTimeout    string  `json:"task_timeout,omitempty"`      // default "5m"
	MaxRetries     int     `json:"max_retries,omitempty"`       // default 3
	RetryBackoff   string  `json:"retry_backoff,omitempty"`     // "fixed" | "exponential"
	RetryBaseDelay string  `json:"retry_base_delay,omitempty"`  // default "2s"
	RetryMaxDelay  string  `json:"retry_max_delay,omitempty"`   // default "1m"
	RetryJitter    float64 `json:"retry_jitter,omitempty"`      // default 0.2
}

type NotifyConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}

type DaemonConfig struct {
	// LockFile is the single-instance flock path. Empty disables locking.
	LockFile string `json:"lock_file,omitempty"`
}
