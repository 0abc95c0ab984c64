package executor

import (
	"context"
	"errors"
	"fmt"

	"droidpilot/internal/device"
	"droidpilot/internal/model"
)

// runTransfer pushes each file pair to the device and verifies it. The
// first failing file aborts the attempt; its name travels in the error.
func (e *Executor) runTransfer(ctx context.Context, dev model.Device, t *model.Task) error {
	if len(t.Files) == 0 {
		return Fatal(&Error{Kind: KindInternal, Err: fmt.Errorf("transfer task %d has no files", t.ID)})
	}
	for _, f := range t.Files {
		if err := e.devices.Push(ctx, dev, f.Local, f.Remote); err != nil {
			return &Error{Kind: KindTransportUnreachable, Err: fmt.Errorf("push %s: %w", f.Local, err)}
		}
		if err := e.devices.Verify(ctx, dev, f.Local, f.Remote); err != nil {
			var ve *device.VerifyError
			if errors.As(err, &ve) {
				return &Error{Kind: KindVerificationMismatch, Err: err}
			}
			return &Error{Kind: KindTransportUnreachable, Err: fmt.Errorf("verify %s: %w", f.Remote, err)}
		}
	}
	return nil
}
