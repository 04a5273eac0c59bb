// internal/backend/simulated.go
package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SimulatedConfig configures a simulated backend
type SimulatedConfig struct {
	Name           string
	Capability     Capability
	Resources      ResourceRequirements
	Latency        time.Duration // per inference
	LoadLatency    time.Duration // per model load
	MemoryPerModel float64       // MB
}

// Simulated is an in-process backend that mimics a real runtime: it keeps
// load state, sleeps for the configured latency and counts everything it
// does. Outputs are deterministic.
type Simulated struct {
	config SimulatedConfig

	mu           sync.RWMutex
	initialized  bool
	startedAt    time.Time
	health       HealthState
	loaded       map[string]*LoadedModel
	optimizedFor TaskType

	total      int64
	failed     int64
	latencySum time.Duration
}

// NewSimulated creates a simulated backend
func NewSimulated(config SimulatedConfig) *Simulated {
	if config.MemoryPerModel == 0 {
		config.MemoryPerModel = 64
	}
	return &Simulated{
		config: config,
		health: HealthHealthy,
		loaded: make(map[string]*LoadedModel),
	}
}

// Name returns the backend name
func (s *Simulated) Name() string { return s.config.Name }

// Capabilities returns the declared capability set
func (s *Simulated) Capabilities() Capability { return s.config.Capability }

// Resources returns the declared resource profile
func (s *Simulated) Resources() ResourceRequirements { return s.config.Resources }

// Initialize marks the backend ready
func (s *Simulated) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		s.initialized = true
		s.startedAt = time.Now()
	}
	return nil
}

// Shutdown unloads every model and marks the backend stopped
func (s *Simulated) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	s.loaded = make(map[string]*LoadedModel)
	return nil
}

// IsAvailable reports whether the backend is initialized and not unhealthy
func (s *Simulated) IsAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized && s.health != HealthUnhealthy
}

// SetHealth overrides the reported health state
func (s *Simulated) SetHealth(state HealthState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = state
}

// Health reports the current health
func (s *Simulated) Health(ctx context.Context) HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := HealthStatus{
		State:     s.health,
		LastCheck: time.Now(),
		Details: map[string]string{
			"loaded_models": fmt.Sprintf("%d", len(s.loaded)),
		},
	}
	if !s.initialized {
		status.State = HealthUnhealthy
		status.Message = "not initialized"
	}
	return status
}

// LoadModel makes a model resident. Loading an already loaded model
// returns the existing entry.
func (s *Simulated) LoadModel(ctx context.Context, modelID string) (*LoadedModel, error) {
	if !s.IsAvailable() {
		return nil, ErrUnavailable(s.config.Name, "not initialized")
	}

	s.mu.RLock()
	existing, ok := s.loaded[modelID]
	s.mu.RUnlock()
	if ok {
		return existing, nil
	}

	if err := sleep(ctx, s.config.LoadLatency); err != nil {
		return nil, err
	}

	lm := &LoadedModel{
		ModelID:     modelID,
		LoadedAt:    time.Now(),
		MemoryUsage: s.config.MemoryPerModel,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.loaded[modelID]; ok {
		return existing, nil
	}
	s.loaded[modelID] = lm
	return lm, nil
}

// UnloadModel evicts a model
func (s *Simulated) UnloadModel(ctx context.Context, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loaded[modelID]; !ok {
		return ErrNotLoaded(s.config.Name, modelID)
	}
	delete(s.loaded, modelID)
	return nil
}

// ListModels returns loaded model ids, sorted
func (s *Simulated) ListModels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.loaded))
	for id := range s.loaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunInference runs one simulated inference
func (s *Simulated) RunInference(ctx context.Context, modelID string, input Input) (*Result, error) {
	s.mu.RLock()
	lm, ok := s.loaded[modelID]
	s.mu.RUnlock()
	if !ok {
		s.record(0, false)
		return nil, ErrNotLoaded(s.config.Name, modelID)
	}
	if !s.config.Capability.AcceptsInput(input.Format) {
		s.record(0, false)
		return nil, fmt.Errorf("%w: format %q", ErrInvalidInput, input.Format)
	}

	start := time.Now()
	if err := sleep(ctx, s.latency()); err != nil {
		s.record(time.Since(start), false)
		return nil, err
	}
	elapsed := time.Since(start)
	s.record(elapsed, true)

	format := FormatJSON
	if len(s.config.Capability.OutputFormats) > 0 {
		format = s.config.Capability.OutputFormats[0]
	}

	return &Result{
		Output: map[string]any{
			"backend": s.config.Name,
			"model":   modelID,
			"size":    len(input.Dimensions),
		},
		Format:        format,
		InferenceTime: elapsed,
		MemoryUsage:   lm.MemoryUsage,
		Confidence:    0.9,
	}, nil
}

// RunBatchInference runs inputs sequentially, stopping at the first error
func (s *Simulated) RunBatchInference(ctx context.Context, modelID string, inputs []Input) ([]*Result, error) {
	results := make([]*Result, 0, len(inputs))
	for i, in := range inputs {
		res, err := s.RunInference(ctx, modelID, in)
		if err != nil {
			return results, fmt.Errorf("batch item %d: %w", i, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// OptimizeForTask tunes the backend for a supported task type. Inference
// carries no task type, so once tuned every inference runs 20% faster.
func (s *Simulated) OptimizeForTask(ctx context.Context, taskType TaskType) error {
	if !s.config.Capability.Supports(taskType) {
		return fmt.Errorf("%s does not support %s", s.config.Name, taskType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optimizedFor = taskType
	return nil
}

// PerformanceMetrics reports the counters collected so far
func (s *Simulated) PerformanceMetrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := Metrics{
		TotalInferences:  s.total,
		FailedInferences: s.failed,
		LoadedModels:     len(s.loaded),
	}
	for _, lm := range s.loaded {
		m.MemoryUsage += lm.MemoryUsage
	}
	succeeded := s.total - s.failed
	if succeeded > 0 {
		m.AverageLatency = s.latencySum / time.Duration(succeeded)
	}
	if !s.startedAt.IsZero() {
		if elapsed := time.Since(s.startedAt).Seconds(); elapsed > 0 {
			m.Throughput = float64(s.total) / elapsed
		}
	}
	// Utilization via Little's law: arrival rate times service time
	m.CPUUsage = m.Throughput * m.AverageLatency.Seconds() * 100
	if m.CPUUsage > 100 {
		m.CPUUsage = 100
	}
	return m
}

func (s *Simulated) latency() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.optimizedFor != "" {
		return s.config.Latency * 8 / 10
	}
	return s.config.Latency
}

func (s *Simulated) record(latency time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if !ok {
		s.failed++
		return
	}
	s.latencySum += latency
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
