// internal/backend/interface.go
package backend

import (
	"context"
	"time"
)

// Backend is the capability and lifecycle contract every inference backend
// implements. The orchestrator never looks past this interface.
type Backend interface {
	// Identity and declarations
	Name() string
	Capabilities() Capability
	Resources() ResourceRequirements

	// Lifecycle
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	IsAvailable() bool
	Health(ctx context.Context) HealthStatus

	// Model operations
	LoadModel(ctx context.Context, modelID string) (*LoadedModel, error)
	UnloadModel(ctx context.Context, modelID string) error
	ListModels() []string

	// Inference
	RunInference(ctx context.Context, modelID string, input Input) (*Result, error)
	RunBatchInference(ctx context.Context, modelID string, inputs []Input) ([]*Result, error)

	// Tuning and metrics
	OptimizeForTask(ctx context.Context, taskType TaskType) error
	PerformanceMetrics() Metrics
}

// Capability declares what a backend can do. Used for hard filtering.
type Capability struct {
	TaskTypes     []TaskType          `json:"task_types" yaml:"task_types"`
	InputFormats  []DataFormat        `json:"input_formats" yaml:"input_formats"`
	OutputFormats []DataFormat        `json:"output_formats" yaml:"output_formats"`
	Features      []string            `json:"features,omitempty" yaml:"features,omitempty"`
	Performance   PerformanceEstimate `json:"performance" yaml:"performance"`
}

// Well-known feature flags
const (
	FeatureGPU       = "gpu"
	FeatureQuantized = "quantized"
	FeatureBatching  = "batching"
	FeatureRemote    = "remote"
	FeatureWASM      = "wasm"
)

// Supports reports whether the backend declares the task type
func (c Capability) Supports(t TaskType) bool {
	for _, tt := range c.TaskTypes {
		if tt == t {
			return true
		}
	}
	return false
}

// AcceptsInput reports whether the backend accepts the input format. A
// backend declaring no input formats accepts any.
func (c Capability) AcceptsInput(f DataFormat) bool {
	if len(c.InputFormats) == 0 || f == "" {
		return true
	}
	for _, in := range c.InputFormats {
		if in == f {
			return true
		}
	}
	return false
}

// HasFeature reports whether a feature flag is declared
func (c Capability) HasFeature(feature string) bool {
	for _, f := range c.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// PerformanceEstimate is a static, declared performance profile
type PerformanceEstimate struct {
	InferenceTime time.Duration `json:"inference_time" yaml:"inference_time"`
	MemoryUsage   float64       `json:"memory_usage" yaml:"memory_usage"` // MB
	Throughput    float64       `json:"throughput" yaml:"throughput"`     // inferences/second
	Accuracy      float64       `json:"accuracy" yaml:"accuracy"`         // 0.0 to 1.0
}

// IsZero reports whether nothing was declared
func (p PerformanceEstimate) IsZero() bool {
	return p.InferenceTime == 0 && p.MemoryUsage == 0 && p.Throughput == 0 && p.Accuracy == 0
}

// HealthState classifies backend health
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthStatus is reported by Backend.Health
type HealthStatus struct {
	State     HealthState       `json:"state"`
	Message   string            `json:"message,omitempty"`
	LastCheck time.Time         `json:"last_check"`
	Details   map[string]string `json:"details,omitempty"`
}

// LoadedModel describes a model resident in a backend
type LoadedModel struct {
	ModelID     string    `json:"model_id"`
	LoadedAt    time.Time `json:"loaded_at"`
	MemoryUsage float64   `json:"memory_usage"`
}

// Metrics are the runtime counters a backend reports
type Metrics struct {
	TotalInferences  int64         `json:"total_inferences"`
	FailedInferences int64         `json:"failed_inferences"`
	AverageLatency   time.Duration `json:"average_latency"`
	MemoryUsage      float64       `json:"memory_usage"` // MB
	CPUUsage         float64       `json:"cpu_usage"`    // percent
	Throughput       float64       `json:"throughput"`   // inferences/second
	LoadedModels     int           `json:"loaded_models"`
}

// ErrorRate returns failed/total, 0 when nothing ran
func (m Metrics) ErrorRate() float64 {
	if m.TotalInferences == 0 {
		return 0
	}
	return float64(m.FailedInferences) / float64(m.TotalInferences)
}
