package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Step is one scripted progress report, followed by a pause.
type Step struct {
	Message string        `yaml:"message"`
	Type    string        `yaml:"type"`
	Delay   time.Duration `yaml:"delay"`
}

// Script is an ordered list of steps.
type Script []Step

// DefaultScript is the stock demo process.
func DefaultScript() Script {
	return Script{
		{Message: "Starting process...", Type: "info", Delay: 200 * time.Millisecond},
		{Message: "Initializing...", Type: "info", Delay: 300 * time.Millisecond},
		{Message: "Processing step 1/5", Type: "info", Delay: 200 * time.Millisecond},
		{Message: "Processing step 2/5", Type: "info", Delay: 300 * time.Millisecond},
		{Message: "Processing step 3/5", Type: "warning", Delay: 200 * time.Millisecond},
		{Message: "Processing step 4/5", Type: "info", Delay: 300 * time.Millisecond},
		{Message: "Processing step 5/5", Type: "info", Delay: 200 * time.Millisecond},
		{Message: "Process completed successfully!", Type: "success"},
	}
}

// ScriptExecutor plays a Script, reporting each step and sleeping for its
// (scaled) delay. It stops at the first step boundary after ctx is done.
type ScriptExecutor struct {
	Script Script
}

// NewScriptExecutor returns an executor for script, or DefaultScript when
// script is empty.
func NewScriptExecutor(script Script) *ScriptExecutor {
	if len(script) == 0 {
		script = DefaultScript()
	}
	return &ScriptExecutor{Script: script}
}

func (e *ScriptExecutor) Execute(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	start := time.Now()
	result := &Result{}

	for i, step := range e.Script {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		if onProgress != nil {
			onProgress(step.Type, step.Message)
		}
		result.Steps++
		result.Output = step.Message

		slog.Debug("script step",
			"task_id", req.TaskID,
			"step", i+1,
			"of", len(e.Script))

		delay := time.Duration(float64(step.Delay) * req.DelayScale)
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Duration = time.Since(start)
			return result, ctx.Err()
		case <-timer.C:
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Validate reports the first malformed step.
func (s Script) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("script has no steps")
	}
	for i, step := range s {
		if step.Message == "" {
			return fmt.Errorf("step %d: message is required", i+1)
		}
		if step.Delay < 0 {
			return fmt.Errorf("step %d: delay must not be negative", i+1)
		}
	}
	return nil
}
