package executor

import (
	"context"
	"fmt"

	"droidpilot/internal/model"
)

// runAutomation hands the task's action to the automation engine.
func (e *Executor) runAutomation(ctx context.Context, dev model.Device, t *model.Task) error {
	if t.Action == nil {
		return Fatal(&Error{Kind: KindInternal, Err: fmt.Errorf("automation task %d has no action", t.ID)})
	}
	if err := e.engine.RunAction(ctx, dev, *t.Action); err != nil {
		return &Error{Kind: KindAutomationFailure, Err: err}
	}
	return nil
}
