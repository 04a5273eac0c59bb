// internal/models/types.go
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
)

// Performance is the published performance of a model
type Performance struct {
	InferenceTime time.Duration `yaml:"inference_time" json:"inference_time"`
	MemoryUsage   float64       `yaml:"memory_usage" json:"memory_usage"` // MB
	Accuracy      float64       `yaml:"accuracy" json:"accuracy"`
}

// BackendRequirements restricts where a model may be loaded
type BackendRequirements struct {
	Supported []string `yaml:"supported" json:"supported,omitempty"` // empty means any
	Preferred string   `yaml:"preferred" json:"preferred,omitempty"`
	Features  []string `yaml:"features" json:"features,omitempty"`
}

// SystemRequirements describes the host a model needs
type SystemRequirements struct {
	MinMemory  float64 `yaml:"min_memory" json:"min_memory,omitempty"` // MB
	MinStorage float64 `yaml:"min_storage" json:"min_storage,omitempty"`
	GPU        bool    `yaml:"gpu" json:"gpu,omitempty"`
}

// Metadata describes one version of a model. Everything except UpdatedAt is
// fixed once registered.
type Metadata struct {
	ID                  string              `json:"id"`
	Version             string              `json:"version"`
	Format              string              `json:"format"`
	TaskType            backend.TaskType    `json:"task_type,omitempty"`
	Size                int64               `json:"size"`
	Parameters          int64               `json:"parameters"`
	Hash                string              `json:"hash,omitempty"`
	Checksum            string              `json:"checksum,omitempty"`
	Tags                []string            `json:"tags,omitempty"`
	Categories          []string            `json:"categories,omitempty"`
	BackendRequirements BackendRequirements `json:"backend_requirements"`
	SystemRequirements  SystemRequirements  `json:"system_requirements"`
	Performance         Performance         `json:"performance"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// Validate checks the required fields
func (m *Metadata) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidMetadata)
	}
	if m.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidMetadata)
	}
	if m.Format == "" {
		return fmt.Errorf("%w: format is required", ErrInvalidMetadata)
	}
	if m.Size < 0 || m.Parameters < 0 {
		return fmt.Errorf("%w: size and parameters must not be negative", ErrInvalidMetadata)
	}
	return nil
}

// SupportsBackend reports whether the model may be loaded on backendID
func (m *Metadata) SupportsBackend(backendID string) bool {
	if len(m.BackendRequirements.Supported) == 0 {
		return true
	}
	for _, id := range m.BackendRequirements.Supported {
		if id == backendID {
			return true
		}
	}
	return false
}

// Instance is a model loaded on one backend
type Instance struct {
	ID             string    `json:"id"`
	ModelID        string    `json:"model_id"`
	Version        string    `json:"version"`
	BackendID      string    `json:"backend_id"`
	LoadedAt       time.Time `json:"loaded_at"`
	LastUsed       time.Time `json:"last_used"`
	MemoryUsage    float64   `json:"memory_usage"`
	InferenceCount int64     `json:"inference_count"`
}

// ModelNotFoundError is returned for an unregistered (id, version)
type ModelNotFoundError struct {
	ID      string
	Version string
}

func (e *ModelNotFoundError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("model not found: %s", e.ID)
	}
	return fmt.Sprintf("model not found: %s@%s", e.ID, e.Version)
}

// Common errors
var (
	ErrInvalidMetadata     = errors.New("invalid model metadata")
	ErrChecksumMismatch    = errors.New("checksum mismatch")
	ErrInstanceNotFound    = errors.New("model instance not found")
	ErrIncompatibleBackend = errors.New("model does not support backend")
)
