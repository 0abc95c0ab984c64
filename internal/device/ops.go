package device

import (
	"context"
	"fmt"

	"droidpilot/internal/model"
)

// Operations is the device capability surface the executor consumes.
//
// Every method may fail with a transport error (device offline, adb broken);
// the executor treats any such failure as recoverable and feeds it to the
// retry policy. The scheduling core never caches the answers; connectivity
// and screen state are queried fresh before each execution attempt.
type Operations interface {
	Connected(ctx context.Context, d model.Device) (bool, error)
	Locked(ctx context.Context, d model.Device) (bool, error)
	ScreenOn(ctx context.Context, d model.Device) (bool, error)
	Wake(ctx context.Context, d model.Device) error
	Unlock(ctx context.Context, d model.Device) error

	// Push copies a local file to the device.
	Push(ctx context.Context, d model.Device, local, remote string) error
	// Verify checks that the remote artifact matches the local one
	// (existence + size). A mismatch returns *VerifyError.
	Verify(ctx context.Context, d model.Device, local, remote string) error
}

// VerifyError reports which transferred file failed verification and why.
type VerifyError struct {
	Local  string
	Remote string
	Reason string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify %s -> %s: %s", e.Local, e.Remote, e.Reason)
}
