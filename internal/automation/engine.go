package automation

import (
	"context"
	"fmt"
	"strings"

	"droidpilot/internal/device"
	"droidpilot/internal/model"
	logx "droidpilot/pkg/logx"
)

// Engine runs a named UI action against a device. Implementations own the
// interpretation of action names and parameters; the executor only cares
// whether the action succeeded.
type Engine interface {
	RunAction(ctx context.Context, d model.Device, action model.Action) error
}

// StepError reports which step of an action failed.
type StepError struct {
	Action string
	Step   string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("action %s: step %s: %v", e.Action, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ADBEngine interprets actions as adb shell input sequences.
//
// Supported actions and their parameters:
//
//	launch_app   package (required), activity
//	open_url     url (required)
//	tap          x, y (required)
//	swipe        x1, y1, x2, y2 (required), duration_ms
//	input_text   text (required)
//	keyevent     code (required)
type ADBEngine struct {
	adb *device.ADB
	log logx.Logger
}

func NewADBEngine(adb *device.ADB, log logx.Logger) *ADBEngine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ADBEngine{adb: adb, log: log}
}

func (e *ADBEngine) RunAction(ctx context.Context, d model.Device, action model.Action) error {
	e.log.Debug("running action",
		logx.String("device", d.Name),
		logx.String("action", action.Name),
	)
	switch action.Name {
	case "launch_app":
		return e.launchApp(ctx, d, action)
	case "open_url":
		return e.openURL(ctx, d, action)
	case "tap":
		return e.shellStep(ctx, d, action, "tap", "input", "tap",
			action.Params["x"], action.Params["y"])
	case "swipe":
		dur := action.Params["duration_ms"]
		if dur == "" {
			dur = "300"
		}
		return e.shellStep(ctx, d, action, "swipe", "input", "swipe",
			action.Params["x1"], action.Params["y1"],
			action.Params["x2"], action.Params["y2"], dur)
	case "input_text":
		return e.shellStep(ctx, d, action, "input_text", "input", "text",
			escapeText(action.Params["text"]))
	case "keyevent":
		return e.shellStep(ctx, d, action, "keyevent", "input", "keyevent",
			action.Params["code"])
	default:
		return &StepError{Action: action.Name, Step: "dispatch",
			Err: fmt.Errorf("unknown action %q", action.Name)}
	}
}

func (e *ADBEngine) launchApp(ctx context.Context, d model.Device, action model.Action) error {
	pkg := action.Params["package"]
	if pkg == "" {
		return &StepError{Action: action.Name, Step: "launch",
			Err: fmt.Errorf("package parameter is required")}
	}
	if activity := action.Params["activity"]; activity != "" {
		return e.shellStep(ctx, d, action, "launch", "am", "start", "-n", pkg+"/"+activity)
	}
	return e.shellStep(ctx, d, action, "launch",
		"monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
}

func (e *ADBEngine) openURL(ctx context.Context, d model.Device, action model.Action) error {
	url := action.Params["url"]
	if url == "" {
		return &StepError{Action: action.Name, Step: "open_url",
			Err: fmt.Errorf("url parameter is required")}
	}
	return e.shellStep(ctx, d, action, "open_url",
		"am", "start", "-a", "android.intent.action.VIEW", "-d", url)
}

func (e *ADBEngine) shellStep(ctx context.Context, d model.Device, action model.Action, step string, args ...string) error {
	for _, arg := range args {
		if arg == "" {
			return &StepError{Action: action.Name, Step: step,
				Err: fmt.Errorf("missing parameter")}
		}
	}
	if _, err := e.adb.Shell(ctx, d, args...); err != nil {
		return &StepError{Action: action.Name, Step: step, Err: err}
	}
	return nil
}

// escapeText makes free text safe for `input text`, which splits on spaces.
func escapeText(s string) string {
	return strings.ReplaceAll(s, " ", "%s")
}
