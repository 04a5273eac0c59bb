// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
	"github.com/FairForge/edgeinfer/internal/models"
	"github.com/FairForge/edgeinfer/internal/monitoring"
	"github.com/FairForge/edgeinfer/internal/profiler"
	"github.com/FairForge/edgeinfer/internal/selector"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes task execution
type Config struct {
	// MaxAttempts is how many backends a task may try when the selected
	// one turns out to be unavailable
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// DefaultTimeout applies to tasks without their own timeout
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`
}

// DefaultConfig returns the execution defaults
func DefaultConfig() Config {
	return Config{MaxAttempts: 2, DefaultTimeout: 30 * time.Second}
}

// Components are the collaborators an engine drives. Nil fields are
// replaced with defaults built around Backends; Monitor may stay nil.
type Components struct {
	Backends *backend.Registry
	Models   *models.Registry
	Profiler *profiler.Profiler
	Selector *selector.Selector
	Monitor  *monitoring.System
}

// Execution is the outcome of one task
type Execution struct {
	TaskID     string              `json:"task_id"`
	BackendID  string              `json:"backend_id"`
	InstanceID string              `json:"instance_id"`
	ModelID    string              `json:"model_id"`
	Version    string              `json:"version"`
	Selection  *selector.Selection `json:"selection"`
	Result     *backend.Result     `json:"result"`
	Latency    time.Duration       `json:"latency"`
	Attempts   int                 `json:"attempts"`
}

// Stats counts engine activity
type Stats struct {
	Executions int64 `json:"executions"`
	Failures   int64 `json:"failures"`
	Fallbacks  int64 `json:"fallbacks"`
	Backends   int   `json:"backends"`
	Instances  int   `json:"instances"`
}

type instanceKey struct {
	backendID string
	modelID   string
	version   string
}

// Engine runs tasks end to end: select a backend, make sure the model is
// loaded there, run the inference and feed the outcome back to the profiler
// and the monitoring system
type Engine struct {
	cfg      Config
	backends *backend.Registry
	models   *models.Registry
	profiles *profiler.Profiler
	selector *selector.Selector
	monitor  *monitoring.System
	logger   *zap.Logger

	mu        sync.Mutex
	instances map[instanceKey]string
	stats     Stats
}

// New creates an engine
func New(cfg Config, c Components, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.DefaultTimeout < 0 {
		cfg.DefaultTimeout = 0
	}
	if c.Backends == nil {
		c.Backends = backend.Default()
	}
	if c.Models == nil {
		c.Models = models.NewRegistry(c.Backends, logger)
	}
	if c.Profiler == nil {
		c.Profiler = profiler.New(profiler.Config{}, logger)
	}
	if c.Selector == nil {
		c.Selector = selector.New(c.Backends, c.Profiler, selector.DefaultOptions(), logger)
	}

	return &Engine{
		cfg:       cfg,
		backends:  c.Backends,
		models:    c.Models,
		profiles:  c.Profiler,
		selector:  c.Selector,
		monitor:   c.Monitor,
		logger:    logger,
		instances: make(map[instanceKey]string),
	}
}

// Backends returns the backend registry
func (e *Engine) Backends() *backend.Registry { return e.backends }

// Models returns the model registry
func (e *Engine) Models() *models.Registry { return e.models }

// Profiler returns the performance profiler
func (e *Engine) Profiler() *profiler.Profiler { return e.profiles }

// Selector returns the backend selector
func (e *Engine) Selector() *selector.Selector { return e.selector }

// Monitor returns the monitoring system, which may be nil
func (e *Engine) Monitor() *monitoring.System { return e.monitor }

// RegisterBackend initializes b and makes it selectable under id
func (e *Engine) RegisterBackend(ctx context.Context, id string, b backend.Backend) error {
	if id == "" || b == nil {
		return errors.New("engine: backend id and implementation are required")
	}
	if _, exists := e.backends.Get(id); exists {
		return fmt.Errorf("%w: %s", ErrBackendExists, id)
	}
	if err := b.Initialize(ctx); err != nil {
		return WrapError(err, "initialize backend "+id)
	}
	e.backends.Register(id, b)

	e.logger.Info("backend registered",
		zap.String("backend", id),
		zap.String("name", b.Name()),
		zap.Strings("task_types", taskTypes(b.Capabilities())))
	e.event(ctx, monitoring.Event{
		Type:    monitoring.EventSystem,
		Source:  id,
		Message: fmt.Sprintf("backend %s registered", id),
		Data:    map[string]any{"backend": id, "name": b.Name()},
	})
	return nil
}

// UnregisterBackend stops selecting id, forgets its model instances and
// shuts it down
func (e *Engine) UnregisterBackend(ctx context.Context, id string) error {
	b, ok := e.backends.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	e.backends.Unregister(id)

	e.mu.Lock()
	for k := range e.instances {
		if k.backendID == id {
			delete(e.instances, k)
		}
	}
	e.mu.Unlock()

	dropped := e.models.DropBackend(id)
	err := b.Shutdown(ctx)

	e.logger.Info("backend unregistered",
		zap.String("backend", id),
		zap.Int("instances_dropped", dropped),
		zap.Error(err))
	e.event(ctx, monitoring.Event{
		Type:    monitoring.EventSystem,
		Source:  id,
		Message: fmt.Sprintf("backend %s unregistered", id),
		Data:    map[string]any{"backend": id, "instances_dropped": dropped},
	})
	e.recordInstances()

	if err != nil {
		return WrapError(err, "shutdown backend "+id)
	}
	return nil
}

// Execute runs task on the best backend for it. When the chosen backend
// turns out to be unavailable the next best one is tried, up to
// MaxAttempts backends.
func (e *Engine) Execute(ctx context.Context, task backend.Task, criteria *selector.Criteria) (*Execution, error) {
	if task.Type == "" || task.ModelID == "" {
		return nil, fmt.Errorf("%w: type and model are required", ErrInvalidTask)
	}
	if task.ID == "" {
		task.ID = "task_" + uuid.New().String()
	}

	md, err := e.models.Latest(task.ModelID)
	if err != nil {
		return nil, err
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	crit := selector.Criteria{}
	if criteria != nil {
		crit = *criteria
		crit.Exclude = append([]string(nil), criteria.Exclude...)
	}
	for _, id := range e.backends.IDs() {
		if !md.SupportsBackend(id) {
			crit.Exclude = append(crit.Exclude, id)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		sel, err := e.selector.SelectBackend(ctx, task, &crit)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		e.event(ctx, monitoring.Event{
			Type:    monitoring.EventSelection,
			Source:  sel.BackendID,
			Message: fmt.Sprintf("selected %s for task %s", sel.BackendID, task.ID),
			Data: map[string]any{
				"task_id":    task.ID,
				"backend":    sel.BackendID,
				"confidence": sel.Confidence,
				"attempt":    attempt,
			},
		})

		exec, err := e.run(ctx, task, md, sel)
		if err == nil {
			exec.Attempts = attempt
			e.count(func(s *Stats) { s.Executions++ })
			return exec, nil
		}
		lastErr = err

		if !retryable(err) || ctx.Err() != nil {
			break
		}
		e.count(func(s *Stats) { s.Fallbacks++ })
		e.logger.Warn("backend failed, trying next",
			zap.String("task", task.ID),
			zap.String("backend", sel.BackendID),
			zap.Error(err))
		crit.Exclude = append(crit.Exclude, sel.BackendID)
	}

	e.count(func(s *Stats) { s.Executions++; s.Failures++ })
	return nil, lastErr
}

func (e *Engine) run(ctx context.Context, task backend.Task, md *models.Metadata, sel *selector.Selection) (*Execution, error) {
	key := instanceKey{backendID: sel.BackendID, modelID: md.ID, version: md.Version}

	instanceID, err := e.instance(ctx, key)
	if err != nil {
		return nil, ErrExecution(task.ID, sel.BackendID, "load", err)
	}

	start := time.Now()
	res, err := e.models.Infer(ctx, instanceID, task.Input)
	if errors.Is(err, backend.ErrModelNotLoaded) {
		// The backend lost the model, e.g. after a restart
		e.forget(key, instanceID)
		_ = e.models.UnloadModel(ctx, instanceID)
		if instanceID, err = e.instance(ctx, key); err != nil {
			return nil, ErrExecution(task.ID, sel.BackendID, "load", err)
		}
		res, err = e.models.Infer(ctx, instanceID, task.Input)
	}
	latency := time.Since(start)

	sample := profiler.Sample{InferenceTime: latency, Success: err == nil}
	if res != nil {
		sample.MemoryUsage = res.MemoryUsage
		sample.Accuracy = res.Confidence
		if res.InferenceTime > 0 {
			sample.InferenceTime = res.InferenceTime
		}
	}
	e.profiles.RecordExecution(sel.BackendID, task.Type, md.ID, sample)
	e.report(ctx, task, sel.BackendID, sample.InferenceTime, err)

	if err != nil {
		return nil, ErrExecution(task.ID, sel.BackendID, "inference", err)
	}
	return &Execution{
		TaskID:     task.ID,
		BackendID:  sel.BackendID,
		InstanceID: instanceID,
		ModelID:    md.ID,
		Version:    md.Version,
		Selection:  sel,
		Result:     res,
		Latency:    sample.InferenceTime,
	}, nil
}

// instance returns the live instance of a model on a backend, loading it on
// first use
func (e *Engine) instance(ctx context.Context, key instanceKey) (string, error) {
	e.mu.Lock()
	if id, ok := e.instances[key]; ok {
		if _, live := e.models.Instance(id); live {
			e.mu.Unlock()
			return id, nil
		}
		delete(e.instances, key)
	}
	e.mu.Unlock()

	id, err := e.models.LoadModel(ctx, key.modelID, key.version, key.backendID)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	if existing, ok := e.instances[key]; ok {
		// Lost a race with a concurrent load
		e.mu.Unlock()
		_ = e.models.UnloadModel(ctx, id)
		return existing, nil
	}
	e.instances[key] = id
	e.mu.Unlock()

	e.event(ctx, monitoring.Event{
		Type:    monitoring.EventModelLoad,
		Source:  key.backendID,
		Message: fmt.Sprintf("model %s@%s loaded on %s", key.modelID, key.version, key.backendID),
		Data: map[string]any{
			"instance_id": id,
			"model":       key.modelID,
			"version":     key.version,
			"backend":     key.backendID,
		},
	})
	e.recordInstances()
	return id, nil
}

func (e *Engine) forget(key instanceKey, instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instances[key] == instanceID {
		delete(e.instances, key)
	}
}

func (e *Engine) report(ctx context.Context, task backend.Task, backendID string, latency time.Duration, err error) {
	if e.monitor == nil {
		return
	}
	ms := float64(latency) / float64(time.Millisecond)
	e.monitor.RecordMetric(monitoring.MetricInferenceTime, ms, monitoring.Tags{
		"backend":   backendID,
		"model":     task.ModelID,
		"task_type": string(task.Type),
	})

	ev := monitoring.Event{
		Type:    monitoring.EventInference,
		Level:   monitoring.LevelInfo,
		Source:  backendID,
		Message: fmt.Sprintf("task %s completed in %.1fms", task.ID, ms),
		Data: map[string]any{
			"task_id":    task.ID,
			"model":      task.ModelID,
			"task_type":  string(task.Type),
			"latency_ms": ms,
			"success":    err == nil,
		},
	}
	if err != nil {
		ev.Level = monitoring.LevelError
		ev.Message = fmt.Sprintf("task %s failed: %v", task.ID, err)
		ev.Data["error"] = err.Error()
	}
	e.event(ctx, ev)
}

// event records ev with the request id from ctx, if any
func (e *Engine) event(ctx context.Context, ev monitoring.Event) {
	if e.monitor == nil {
		return
	}
	if id, ok := RequestIDFromContext(ctx); ok {
		if ev.Data == nil {
			ev.Data = make(map[string]any)
		}
		ev.Data["request_id"] = id
	}
	e.monitor.RecordEvent(ev)
}

func (e *Engine) recordInstances() {
	if e.monitor == nil {
		return
	}
	e.monitor.RecordMetric(monitoring.MetricActiveInstances, float64(len(e.models.Instances(""))), nil)
}

func (e *Engine) count(fn func(*Stats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.stats)
}

// Stats returns engine counters
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := e.stats
	e.mu.Unlock()
	s.Backends = e.backends.Len()
	s.Instances = len(e.models.Instances(""))
	return s
}

// HealthCheck verifies all backends are usable
func (e *Engine) HealthCheck(ctx context.Context) error {
	for _, entry := range e.backends.List() {
		h := entry.Backend.Health(ctx)
		if h.State == backend.HealthUnhealthy {
			return fmt.Errorf("backend %s unhealthy: %s", entry.ID, h.Message)
		}
	}
	return nil
}

// Shutdown unloads every model instance and shuts every backend down
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error
	for _, inst := range e.models.Instances("") {
		if err := e.models.UnloadModel(ctx, inst.ID); err != nil {
			errs = append(errs, err)
		}
	}
	e.mu.Lock()
	e.instances = make(map[instanceKey]string)
	e.mu.Unlock()

	for _, entry := range e.backends.List() {
		if err := entry.Backend.Shutdown(ctx); err != nil {
			errs = append(errs, WrapError(err, "shutdown backend "+entry.ID))
		}
	}
	return errors.Join(errs...)
}

func retryable(err error) bool {
	var unavailable *backend.UnavailableError
	return errors.As(err, &unavailable) || errors.Is(err, backend.ErrNotInitialized)
}

func taskTypes(c backend.Capability) []string {
	out := make([]string, len(c.TaskTypes))
	for i, t := range c.TaskTypes {
		out[i] = string(t)
	}
	return out
}
