package device

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"droidpilot/internal/model"
	logx "droidpilot/pkg/logx"
)

// ADB drives devices through the adb command-line client.
//
// Commands run with a per-command timeout so a wedged adb server cannot
// stall a device queue indefinitely.
type ADB struct {
	path    string
	timeout time.Duration
	log     logx.Logger
}

// Config for the adb client.
type Config struct {
	// Path to the adb binary. Defaults to "adb" on PATH.
	Path string
	// CommandTimeout bounds each individual adb invocation.
	CommandTimeout time.Duration
}

const defaultCommandTimeout = 30 * time.Second

func NewADB(cfg Config, log logx.Logger) *ADB {
	if cfg.Path == "" {
		cfg.Path = "adb"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ADB{path: cfg.Path, timeout: cfg.CommandTimeout, log: log}
}

func (a *ADB) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		// The output comes back even on failure; callers inspect it to tell
		// a command-level refusal from a transport problem.
		if ctx.Err() != nil {
			return string(out), fmt.Errorf("adb %s: %w", args[0], ctx.Err())
		}
		return string(out), fmt.Errorf("adb %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Shell runs a shell command on the device and returns its combined output.
func (a *ADB) Shell(ctx context.Context, d model.Device, args ...string) (string, error) {
	full := append([]string{"-s", d.Serial, "shell"}, args...)
	return a.run(ctx, full...)
}

// Connected reports whether the device shows up in `adb devices` with the
// "device" transport state. Offline and unauthorized entries do not count.
func (a *ADB) Connected(ctx context.Context, d model.Device) (bool, error) {
	out, err := a.run(ctx, "devices")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == d.Serial && fields[1] == "device" {
			return true, nil
		}
	}
	return false, nil
}

// Locked inspects the window manager's lockscreen flag.
func (a *ADB) Locked(ctx context.Context, d model.Device) (bool, error) {
	out, err := a.Shell(ctx, d, "dumpsys", "window")
	if err != nil {
		return false, err
	}
	switch {
	case strings.Contains(out, "mDreamingLockscreen=true"):
		return true, nil
	case strings.Contains(out, "mDreamingLockscreen=false"):
		return false, nil
	}
	return false, fmt.Errorf("device %s: lockscreen state not reported", d.Name)
}

// ScreenOn inspects the power manager's wakefulness.
func (a *ADB) ScreenOn(ctx context.Context, d model.Device) (bool, error) {
	out, err := a.Shell(ctx, d, "dumpsys", "power")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "mWakefulness=Awake"), nil
}

// Wake presses the power key and confirms the screen came on.
func (a *ADB) Wake(ctx context.Context, d model.Device) error {
	if _, err := a.Shell(ctx, d, "input", "keyevent", "26"); err != nil {
		return err
	}
	on, err := a.ScreenOn(ctx, d)
	if err != nil {
		return err
	}
	if !on {
		return fmt.Errorf("device %s: screen stayed off after wake", d.Name)
	}
	return nil
}

// Unlock swipes the lockscreen up and types the device password.
func (a *ADB) Unlock(ctx context.Context, d model.Device) error {
	if _, err := a.Shell(ctx, d, "input", "swipe", "540", "1500", "540", "500", "300"); err != nil {
		return err
	}
	if d.Password != "" {
		if _, err := a.Shell(ctx, d, "input", "text", d.Password); err != nil {
			return err
		}
		if _, err := a.Shell(ctx, d, "input", "keyevent", "66"); err != nil {
			return err
		}
	}
	locked, err := a.Locked(ctx, d)
	if err != nil {
		return err
	}
	if locked {
		return fmt.Errorf("device %s: still locked after unlock", d.Name)
	}
	return nil
}

// Push copies a local file onto the device.
func (a *ADB) Push(ctx context.Context, d model.Device, local, remote string) error {
	if _, err := os.Stat(local); err != nil {
		return fmt.Errorf("local file: %w", err)
	}
	_, err := a.run(ctx, "-s", d.Serial, "push", local, remote)
	return err
}

// Verify compares the remote file's size against the local original.
func (a *ADB) Verify(ctx context.Context, d model.Device, local, remote string) error {
	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("local file: %w", err)
	}
	out, err := a.Shell(ctx, d, "stat", "-c", "%s", remote)
	if err != nil {
		// stat refusing the path is a verification verdict; anything else
		// (device gone, adb timeout) is a transport failure and must not be
		// reported as a mismatch.
		if strings.Contains(out, "No such file") {
			return &VerifyError{Local: local, Remote: remote, Reason: "remote file missing"}
		}
		return err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return &VerifyError{Local: local, Remote: remote, Reason: "unreadable remote size"}
	}
	if size != info.Size() {
		return &VerifyError{
			Local:  local,
			Remote: remote,
			Reason: fmt.Sprintf("size mismatch: local %d, remote %d", info.Size(), size),
		}
	}
	return nil
}
