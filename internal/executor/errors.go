package executor

import (
	"context"
	"errors"
	"fmt"

	"droidpilot/internal/device"
)

// Kind classifies an execution failure for retry decisions and reporting.
type Kind string

const (
	// KindTransportUnreachable covers failed prechecks and adb transport
	// errors. The task runner was not reached; always worth retrying.
	KindTransportUnreachable Kind = "transport_unreachable"

	// KindVerificationMismatch means a transferred file did not match its
	// local original. Retrying re-pushes the file.
	KindVerificationMismatch Kind = "verification_mismatch"

	// KindAutomationFailure means an automation action failed on-device.
	KindAutomationFailure Kind = "automation_failure"

	// KindTimeout means the attempt exceeded the task timeout.
	KindTimeout Kind = "timeout"

	// KindRetryBudgetExhausted wraps the last recoverable failure once no
	// retries remain; it accompanies the terminal FAILED transition.
	KindRetryBudgetExhausted Kind = "retry_budget_exhausted"

	// KindInternal covers everything else (bad payloads, wiring errors).
	KindInternal Kind = "internal"
)

// Error carries a failure kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// fatalError marks a failure that must not be retried regardless of budget.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so the executor fails the task immediately instead of
// spending retry budget on it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// classify maps an attempt error to a failure kind. Already-classified
// errors keep their kind.
func classify(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ve *device.VerifyError
	if errors.As(err, &ve) {
		return KindVerificationMismatch
	}
	return KindInternal
}
