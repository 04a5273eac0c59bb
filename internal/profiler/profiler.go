// internal/profiler/profiler.go
package profiler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
	"go.uber.org/zap"
)

// DefaultWindowSize is the number of recent samples kept per metric
const DefaultWindowSize = 128

// Key identifies a profile
type Key struct {
	BackendID string           `json:"backend_id"`
	TaskType  backend.TaskType `json:"task_type"`
	ModelID   string           `json:"model_id"`
}

// Sample is one observed execution
type Sample struct {
	InferenceTime time.Duration
	MemoryUsage   float64 // MB
	Accuracy      float64 // 0..1, zero when unknown
	Throughput    float64 // inferences/sec, zero when unknown
	Success       bool
	Timestamp     time.Time
}

// Metrics holds the rolling statistics of a profile. InferenceTime is in
// milliseconds.
type Metrics struct {
	InferenceTime Stat `json:"inference_time_ms"`
	MemoryUsage   Stat `json:"memory_usage_mb"`
	Accuracy      Stat `json:"accuracy"`
	Throughput    Stat `json:"throughput"`
}

// Profile is the aggregated execution history of one key
type Profile struct {
	Key
	SampleSize  int64     `json:"sample_size"`
	Failures    int64     `json:"failures"`
	SuccessRate float64   `json:"success_rate"`
	Metrics     Metrics   `json:"metrics"`
	FirstSeen   time.Time `json:"first_seen,omitempty"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// MeanInferenceTime returns the mean inference time as a duration
func (p Profile) MeanInferenceTime() time.Duration {
	return time.Duration(p.Metrics.InferenceTime.Mean * float64(time.Millisecond))
}

type entry struct {
	samples   int64
	failures  int64
	first     time.Time
	updated   time.Time
	time      *rolling
	memory    *rolling
	accuracy  *rolling
	rate      *rolling
	successes *rolling // 1 or 0 per sample, for the trend window
}

// Config configures the profiler
type Config struct {
	WindowSize int `yaml:"window_size" json:"window_size"`
}

// Profiler keeps rolling execution statistics per (backend, task type, model)
type Profiler struct {
	mu       sync.RWMutex
	entries  map[Key]*entry
	window   int
	running  bool
	logger   *zap.Logger
	now      func() time.Time
	recorded int64
}

// New creates a profiler
func New(cfg Config, logger *zap.Logger) *Profiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	return &Profiler{
		entries: make(map[Key]*entry),
		window:  cfg.WindowSize,
		logger:  logger,
		now:     time.Now,
	}
}

// Initialize marks the profiler running
func (p *Profiler) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	p.logger.Info("performance profiler initialized", zap.Int("window", p.window))
	return nil
}

// Stop marks the profiler stopped. Recorded profiles are kept.
func (p *Profiler) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false
	p.logger.Info("performance profiler stopped",
		zap.Int("profiles", len(p.entries)),
		zap.Int64("samples", p.recorded))
	return nil
}

// RecordExecution folds one sample into the profile for the key
func (p *Profiler) RecordExecution(backendID string, taskType backend.TaskType, modelID string, s Sample) {
	key := Key{BackendID: backendID, TaskType: taskType, ModelID: modelID}
	ts := s.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		e = &entry{
			first:     ts,
			time:      newRolling(p.window),
			memory:    newRolling(p.window),
			accuracy:  newRolling(p.window),
			rate:      newRolling(p.window),
			successes: newRolling(p.window),
		}
		p.entries[key] = e
	}

	e.samples++
	e.updated = ts
	p.recorded++

	if !s.Success {
		e.failures++
		e.successes.add(0)
		return
	}
	e.successes.add(1)
	e.time.add(float64(s.InferenceTime) / float64(time.Millisecond))
	e.memory.add(s.MemoryUsage)
	if s.Accuracy > 0 {
		e.accuracy.add(s.Accuracy)
	}
	if s.Throughput > 0 {
		e.rate.add(s.Throughput)
	}
}

// Profile returns the profile for a key. Unseen keys yield SampleSize 0.
func (p *Profiler) Profile(backendID string, taskType backend.TaskType, modelID string) Profile {
	key := Key{BackendID: backendID, TaskType: taskType, ModelID: modelID}

	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[key]
	if !ok {
		return Profile{Key: key}
	}
	return e.profile(key)
}

// Profiles returns every profile ordered by key
func (p *Profiler) Profiles() []Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Profile, 0, len(p.entries))
	for k, e := range p.entries {
		out = append(out, e.profile(k))
	}
	sort.Slice(out, func(i, j int) bool {
		return lessKey(out[i].Key, out[j].Key)
	})
	return out
}

// Reset drops the profile for a key and reports whether it existed
func (p *Profiler) Reset(key Key) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[key]; !ok {
		return false
	}
	delete(p.entries, key)
	return true
}

// Cleanup removes profiles not updated within olderThan and returns how
// many were dropped
func (p *Profiler) Cleanup(olderThan time.Duration) int {
	cutoff := p.now().Add(-olderThan)

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for k, e := range p.entries {
		if e.updated.Before(cutoff) {
			delete(p.entries, k)
			removed++
		}
	}
	if removed > 0 {
		p.logger.Debug("profiles cleaned up", zap.Int("removed", removed))
	}
	return removed
}

func (e *entry) profile(key Key) Profile {
	pr := Profile{
		Key:         key,
		SampleSize:  e.samples,
		Failures:    e.failures,
		FirstSeen:   e.first,
		LastUpdated: e.updated,
		Metrics: Metrics{
			InferenceTime: e.time.stat(),
			MemoryUsage:   e.memory.stat(),
			Accuracy:      e.accuracy.stat(),
			Throughput:    e.rate.stat(),
		},
	}
	if e.samples > 0 {
		pr.SuccessRate = float64(e.samples-e.failures) / float64(e.samples)
	}
	return pr
}

func lessKey(a, b Key) bool {
	if a.BackendID != b.BackendID {
		return a.BackendID < b.BackendID
	}
	if a.TaskType != b.TaskType {
		return a.TaskType < b.TaskType
	}
	return a.ModelID < b.ModelID
}
