// internal/monitoring/types.go
package monitoring

import (
	"fmt"
	"time"
)

// Event levels
const (
	LevelDebug    = "debug"
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelError    = "error"
	LevelCritical = "critical"
)

// Severities
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event types emitted by the system itself
const (
	EventBackendHealth = "backend_health"
	EventInference     = "inference"
	EventModelLoad     = "model_load"
	EventSelection     = "backend_selection"
	EventAlert         = "alert"
	EventSystem        = "system"

	// AllEvents subscribes to every event type
	AllEvents = "*"
)

// Metric names recorded by the collection tick
const (
	MetricCPUUsage        = "cpu_usage"
	MetricMemoryUsage     = "memory_usage"
	MetricThroughput      = "throughput"
	MetricErrorRate       = "error_rate"
	MetricBackendCPU      = "backend_cpu_usage"
	MetricBackendMemory   = "backend_memory_usage"
	MetricBackendLatency  = "backend_latency_ms"
	MetricBackendRate     = "backend_throughput"
	MetricBackendErrors   = "backend_error_rate"
	MetricInferenceTime   = "inference_time_ms"
	MetricActiveInstances = "active_instances"
)

// Tags are key/value labels on points and events
type Tags map[string]string

// Matches reports whether every filter key has the same value in t
func (t Tags) Matches(filters map[string]string) bool {
	for k, v := range filters {
		if t[k] != v {
			return false
		}
	}
	return true
}

func (t Tags) clone() Tags {
	if t == nil {
		return nil
	}
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// MetricPoint is one sample of a named series
type MetricPoint struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Tags      Tags      `json:"tags,omitempty"`
}

// Event is something that happened
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Level     string         `json:"level"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Tags      Tags           `json:"tags,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlertContext is the data a rule condition is evaluated against
type AlertContext map[string]any

// Float returns a numeric field, converting common numeric types
func (c AlertContext) Float(key string) (float64, bool) {
	switch v := c[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case time.Duration:
		return float64(v) / float64(time.Millisecond), true
	default:
		return 0, false
	}
}

// AlertRule is a named predicate that raises an alert when it holds. The
// condition must not have side effects.
type AlertRule struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Severity    string                  `json:"severity"`
	Category    string                  `json:"category"`
	Condition   func(AlertContext) bool `json:"-"`
	Expr        string                  `json:"expr,omitempty"`
	Message     string                  `json:"message"`
}

// Alert is a fired rule
type Alert struct {
	ID           string         `json:"id"`
	RuleID       string         `json:"rule_id"`
	Severity     string         `json:"severity"`
	Message      string         `json:"message"`
	Timestamp    time.Time      `json:"timestamp"`
	Source       string         `json:"source"`
	Data         map[string]any `json:"data,omitempty"`
	Acknowledged bool           `json:"acknowledged"`
	Resolved     bool           `json:"resolved"`
	ResolvedAt   time.Time      `json:"resolved_at,omitempty"`
}

// TimeRange is a half-open [Start, End) window. A zero End means now.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RuleEvaluationError records a rule condition that panicked. It is logged,
// never returned to callers.
type RuleEvaluationError struct {
	RuleID string
	Cause  any
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("alert rule %s: condition failed: %v", e.RuleID, e.Cause)
}

// SubscriberError records a subscriber that failed or panicked. It is
// logged, never returned to callers.
type SubscriberError struct {
	SubscriptionID string
	EventType      string
	Cause          any
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %s (%s): %v", e.SubscriptionID, e.EventType, e.Cause)
}
