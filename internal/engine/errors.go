// internal/engine/errors.go
package engine

import (
	"errors"
	"fmt"
)

// ExecutionError reports a task that failed on a backend after it was
// selected
type ExecutionError struct {
	TaskID    string
	BackendID string
	Stage     string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s: %s on %s: %v", e.TaskID, e.Stage, e.BackendID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ErrExecution builds an ExecutionError
func ErrExecution(taskID, backendID, stage string, err error) error {
	return &ExecutionError{TaskID: taskID, BackendID: backendID, Stage: stage, Err: err}
}

// WrapError annotates err with message
func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// Common errors
var (
	ErrInvalidTask    = errors.New("invalid task")
	ErrBackendExists  = errors.New("backend already registered")
	ErrUnknownBackend = errors.New("unknown backend")
)
