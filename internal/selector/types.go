// internal/selector/types.go
package selector

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
)

// Device types
const (
	DeviceDesktop  = "desktop"
	DeviceMobile   = "mobile"
	DeviceEmbedded = "embedded"
)

// Network conditions
const (
	NetworkOnline  = "online"
	NetworkPoor    = "poor"
	NetworkOffline = "offline"
)

// Estimate sources
const (
	SourceObserved = "observed"
	SourceBlended  = "blended"
	SourceStatic   = "static"
	SourceNone     = "none"
)

// Constraints are caller limits applied on top of the task's own
type Constraints struct {
	MaxMemoryUsage   float64       `json:"max_memory_usage,omitempty"` // MB
	MaxInferenceTime time.Duration `json:"max_inference_time,omitempty"`
	RequiredFeatures []string      `json:"required_features,omitempty"`
}

// Context describes where the task runs
type Context struct {
	DeviceType       string `json:"device_type,omitempty"`
	NetworkCondition string `json:"network_condition,omitempty"`
}

// Criteria are optional selection inputs
type Criteria struct {
	Constraints Constraints `json:"constraints"`
	Context     Context     `json:"context"`
	Exclude     []string    `json:"exclude,omitempty"`
}

// Weights combine the resource and performance scores
type Weights struct {
	Resource    float64 `yaml:"resource" json:"resource"`
	Performance float64 `yaml:"performance" json:"performance"`
}

// Validate rejects negative weights, which can cancel out and leave the
// combined score undefined
func (w Weights) Validate() error {
	if w.Resource < 0 || w.Performance < 0 {
		return fmt.Errorf("selector: weights must not be negative (resource %g, performance %g)",
			w.Resource, w.Performance)
	}
	return nil
}

// DefaultWeights weighs resource fit and performance equally
func DefaultWeights() Weights {
	return Weights{Resource: 0.5, Performance: 0.5}
}

// Estimate is the expected performance of a backend for a task
type Estimate struct {
	InferenceTime time.Duration `json:"inference_time"`
	MemoryUsage   float64       `json:"memory_usage"`
	Throughput    float64       `json:"throughput,omitempty"`
	Accuracy      float64       `json:"accuracy,omitempty"`
	SuccessRate   float64       `json:"success_rate"`
	SampleSize    int64         `json:"sample_size"`
	Source        string        `json:"source"`
}

// Candidate is one scored, eligible backend
type Candidate struct {
	BackendID         string   `json:"backend_id"`
	Confidence        float64  `json:"confidence"`
	ResourceScore     float64  `json:"resource_score"`
	PerformanceScore  float64  `json:"performance_score"`
	ContextMultiplier float64  `json:"context_multiplier"`
	Estimate          Estimate `json:"estimate"`
	Reasons           []string `json:"reasons,omitempty"`
}

// Selection is the chosen backend plus the runners-up
type Selection struct {
	BackendID            string      `json:"backend_id"`
	Confidence           float64     `json:"confidence"`
	EstimatedPerformance Estimate    `json:"estimated_performance"`
	Reasons              []string    `json:"reasons,omitempty"`
	Alternatives         []Candidate `json:"alternatives,omitempty"`
}

// NoEligibleBackendError is returned when no backend passes the hard filter
type NoEligibleBackendError struct {
	TaskType backend.TaskType
	Rejected map[string]string // backend id -> reason
}

func (e *NoEligibleBackendError) Error() string {
	if len(e.Rejected) == 0 {
		return fmt.Sprintf("no eligible backend for %s: no backends registered", e.TaskType)
	}
	ids := make([]string, 0, len(e.Rejected))
	for id := range e.Rejected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id + ": " + e.Rejected[id]
	}
	return fmt.Sprintf("no eligible backend for %s (%s)", e.TaskType, strings.Join(parts, "; "))
}
