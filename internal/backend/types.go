// internal/backend/types.go
package backend

import (
	"math"
	"time"
)

// TaskType identifies the kind of inference work a task asks for
type TaskType string

const (
	TaskClassification    TaskType = "classification"
	TaskObjectDetection   TaskType = "object-detection"
	TaskSegmentation      TaskType = "segmentation"
	TaskTextGeneration    TaskType = "text-generation"
	TaskEmbedding         TaskType = "embedding"
	TaskSpeechRecognition TaskType = "speech-recognition"
	TaskOCR               TaskType = "ocr"
)

// DataFormat describes the payload format of task inputs and outputs
type DataFormat string

const (
	FormatTensor DataFormat = "tensor"
	FormatImage  DataFormat = "image"
	FormatText   DataFormat = "text"
	FormatAudio  DataFormat = "audio"
	FormatJSON   DataFormat = "json"
)

// Priority of a task
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Resource names a resource dimension
type Resource string

const (
	ResourceMemory  Resource = "memory"
	ResourceCPU     Resource = "cpu"
	ResourceGPU     Resource = "gpu"
	ResourceStorage Resource = "storage"
)

// Range is a min/max/optimal triple. Memory and storage are in MB, CPU in
// cores, GPU in percent of one device.
type Range struct {
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	Optimal float64 `json:"optimal" yaml:"optimal"`
}

// Target returns the value a requirement asks for: the optimal value when
// set, otherwise the minimum.
func (r Range) Target() float64 {
	if r.Optimal > 0 {
		return r.Optimal
	}
	return r.Min
}

// Contains reports whether v lies within [Min, Max]. A zero Max is unbounded.
func (r Range) Contains(v float64) bool {
	if v < r.Min {
		return false
	}
	return r.Max == 0 || v <= r.Max
}

// Overlaps reports whether two ranges share at least one value
func (r Range) Overlaps(o Range) bool {
	return r.Min <= o.upper() && o.Min <= r.upper()
}

func (r Range) upper() float64 {
	if r.Max == 0 {
		return math.Inf(1)
	}
	return r.Max
}

// ResourceRequirements declares per-resource ranges. Nil dimensions are
// not constrained.
type ResourceRequirements struct {
	Memory  *Range `json:"memory,omitempty" yaml:"memory,omitempty"`
	CPU     *Range `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	GPU     *Range `json:"gpu,omitempty" yaml:"gpu,omitempty"`
	Storage *Range `json:"storage,omitempty" yaml:"storage,omitempty"`
}

// Dimensions returns the declared dimensions keyed by resource
func (r ResourceRequirements) Dimensions() map[Resource]Range {
	dims := make(map[Resource]Range, 4)
	if r.Memory != nil {
		dims[ResourceMemory] = *r.Memory
	}
	if r.CPU != nil {
		dims[ResourceCPU] = *r.CPU
	}
	if r.GPU != nil {
		dims[ResourceGPU] = *r.GPU
	}
	if r.Storage != nil {
		dims[ResourceStorage] = *r.Storage
	}
	return dims
}

// Compatible reports whether every dimension declared by both sides overlaps
func (r ResourceRequirements) Compatible(o ResourceRequirements) bool {
	theirs := o.Dimensions()
	for res, mine := range r.Dimensions() {
		if other, ok := theirs[res]; ok && !mine.Overlaps(other) {
			return false
		}
	}
	return true
}

// Input is the payload of a task
type Input struct {
	Format     DataFormat `json:"format"`
	Data       any        `json:"data,omitempty"`
	Dimensions []int      `json:"dimensions,omitempty"`
}

// Task is a unit of inference work
type Task struct {
	ID           string               `json:"id"`
	Type         TaskType             `json:"type"`
	ModelID      string               `json:"model_id"`
	Input        Input                `json:"input"`
	Priority     Priority             `json:"priority,omitempty"`
	Requirements ResourceRequirements `json:"resource_requirements"`
	Timeout      time.Duration        `json:"timeout,omitempty"`
}

// Result is the output of one inference call
type Result struct {
	Output        any           `json:"output"`
	Format        DataFormat    `json:"format"`
	InferenceTime time.Duration `json:"inference_time"`
	MemoryUsage   float64       `json:"memory_usage"`
	Confidence    float64       `json:"confidence,omitempty"`
}
