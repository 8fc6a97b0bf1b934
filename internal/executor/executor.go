package executor

import (
	"context"
	"time"
)

// Request describes one run of a producer.
type Request struct {
	TaskID    string
	SessionID string
	Target    string

	// DelayScale multiplies every step delay; 0 runs without pauses.
	DelayScale float64
}

// Result summarizes a finished run.
type Result struct {
	Steps    int
	Output   string // last progress message
	Duration time.Duration
}

// ProgressFunc receives each progress report. msgType is one of the
// message types ("info", "success", "warning", "error").
type ProgressFunc func(msgType, message string)

// Executor runs a long task and reports progress while it goes.
type Executor interface {
	Execute(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error)
}
