package backend

import (
	"errors"
	"fmt"
)

// UnavailableError is returned when a backend id is unknown or the backend
// reports itself unusable
type UnavailableError struct {
	BackendID string
	Reason    string
}

func (e *UnavailableError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("backend unavailable: %s", e.BackendID)
	}
	return fmt.Sprintf("backend unavailable: %s: %s", e.BackendID, e.Reason)
}

// ErrUnavailable builds an UnavailableError
func ErrUnavailable(backendID, reason string) error {
	return &UnavailableError{BackendID: backendID, Reason: reason}
}

// ModelNotLoadedError is returned when inference is attempted on a model
// that has not finished loading
type ModelNotLoadedError struct {
	BackendID string
	ModelID   string
}

func (e *ModelNotLoadedError) Error() string {
	if e.BackendID == "" {
		return fmt.Sprintf("model not loaded: %s", e.ModelID)
	}
	return fmt.Sprintf("model not loaded: %s on backend %s", e.ModelID, e.BackendID)
}

// Is lets errors.Is(err, ErrModelNotLoaded) match any ModelNotLoadedError
func (e *ModelNotLoadedError) Is(target error) bool {
	return target == ErrModelNotLoaded
}

// ErrNotLoaded builds a ModelNotLoadedError
func ErrNotLoaded(backendID, modelID string) error {
	return &ModelNotLoadedError{BackendID: backendID, ModelID: modelID}
}

// Common errors
var (
	ErrModelNotLoaded = errors.New("model not loaded")
	ErrUnknownModel   = errors.New("unknown model")
	ErrNotInitialized = errors.New("backend not initialized")
	ErrInvalidInput   = errors.New("invalid input")
)
