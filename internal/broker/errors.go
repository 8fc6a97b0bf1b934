package broker

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is the parent of every caller-side failure. Use
// errors.Is to classify.
var ErrInvalidRequest = errors.New("invalid request")

// ErrStorage classifies failures of the underlying log.
var ErrStorage = errors.New("storage error")

// Request errors. Their text is part of the wire protocol.
var (
	ErrSessionRequired error = &requestError{msg: "Session ID is required"}
	ErrInvalidAction   error = &requestError{msg: "Invalid action"}
	ErrInvalidJSON     error = &requestError{msg: "Invalid JSON data"}
)

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Is(target error) bool { return target == ErrInvalidRequest }

// StorageError wraps a backend failure with the operation and session it
// happened in.
type StorageError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s messages for session %q: %v", e.Op, e.SessionID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
