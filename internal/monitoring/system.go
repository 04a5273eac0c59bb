// internal/monitoring/system.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
	"go.uber.org/zap"
)

// States
const (
	StateStopped = "stopped"
	StateRunning = "running"
)

// Common errors
var (
	ErrAlertNotFound      = errors.New("alert not found")
	ErrAnalyticsDisabled  = errors.New("analytics disabled")
	ErrReportingDisabled  = errors.New("reporting disabled")
	ErrUnknownAggregation = errors.New("unknown aggregation")
)

// Option customizes a System
type Option func(*System)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *System) { s.now = now }
}

// WithSampler replaces the host sampler
func WithSampler(sampler Sampler) Option {
	return func(s *System) { s.sampler = sampler }
}

// WithBackends sets the backend registry sampled on each tick
func WithBackends(r *backend.Registry) Option {
	return func(s *System) { s.backends = r }
}

type subscription struct {
	id        string
	eventType string
	fn        Subscriber
}

// System ingests metrics and events, evaluates alert rules and renders
// dashboards, insights and reports
type System struct {
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	sampler  Sampler
	backends *backend.Registry
	exporter *Exporter

	mu        sync.RWMutex
	series    map[string][]MetricPoint
	events    *ring[Event]
	alerts    *ring[*Alert]
	rules     map[string]AlertRule
	ruleOrder []string
	subs      []subscription
	health    map[string]backend.HealthState
	lastTick  time.Time

	lifecycle sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

var (
	instance     *System
	instanceErr  error
	instanceOnce sync.Once
)

// Instance returns the process-wide system, creating it from cfg on first
// use. Later calls ignore their arguments.
func Instance(cfg Config, logger *zap.Logger, opts ...Option) (*System, error) {
	instanceOnce.Do(func() {
		instance, instanceErr = New(cfg, logger, opts...)
	})
	return instance, instanceErr
}

// New creates an isolated system
func New(cfg Config, logger *zap.Logger, opts ...Option) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &System{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		series:  make(map[string][]MetricPoint),
		events:  newRing[Event](cfg.MaxEvents),
		alerts:  newRing[*Alert](cfg.MaxAlerts),
		rules:   make(map[string]AlertRule),
		health:  make(map[string]backend.HealthState),
		sampler: NewHostSampler(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backends == nil {
		s.backends = backend.Default()
	}
	s.exporter = newExporter(s)

	for _, r := range defaultRules() {
		s.putRule(r)
	}
	for i := range cfg.AlertRules {
		r, err := cfg.AlertRules[i].Rule()
		if err != nil {
			return nil, err
		}
		s.putRule(r)
	}
	return s, nil
}

// Reconfigure applies a new configuration to a live system. Store caps and
// retention take effect immediately, evicting the oldest entries when a cap
// shrinks. Rules declared by the previous configuration are replaced by the
// new declarations, and a built-in rule they overrode is restored; rules
// added through AddAlertRule are kept. A running collection loop switches to
// a changed interval after its next tick.
func (s *System) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.ApplyDefaults()

	rules := make([]AlertRule, 0, len(cfg.AlertRules))
	for i := range cfg.AlertRules {
		r, err := cfg.AlertRules[i].Rule()
		if err != nil {
			return err
		}
		rules = append(rules, r)
	}

	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.events.resize(cfg.MaxEvents)
	s.alerts.resize(cfg.MaxAlerts)
	s.mu.Unlock()

	declared := make(map[string]bool, len(rules))
	for _, r := range rules {
		declared[r.ID] = true
	}
	removed := make(map[string]bool, len(prev.AlertRules))
	for _, rc := range prev.AlertRules {
		s.RemoveAlertRule(rc.ID)
		removed[rc.ID] = true
	}
	// built-ins shadowed by the previous declarations come back
	for _, r := range defaultRules() {
		if removed[r.ID] && !declared[r.ID] {
			s.putRule(r)
		}
	}
	for _, r := range rules {
		s.putRule(r)
	}

	s.logger.Info("monitoring reconfigured",
		zap.Int("max_events", cfg.MaxEvents),
		zap.Int("max_alerts", cfg.MaxAlerts),
		zap.Duration("retention", cfg.RetentionPeriod),
		zap.Int("rules", len(rules)))
	return nil
}

// Config returns the active configuration
func (s *System) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Exporter returns the prometheus exporter for this system
func (s *System) Exporter() *Exporter {
	return s.exporter
}

// State reports whether periodic collection is running
func (s *System) State() string {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.running {
		return StateRunning
	}
	return StateStopped
}

// Start moves the system to running. With real-time monitoring enabled it
// collects once immediately and then every CollectionInterval until Stop or
// ctx is done. Starting a running system is a no-op.
func (s *System) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running {
		return nil
	}
	s.running = true
	s.startedAt = s.now()

	cfg := s.Config()
	if !cfg.EnableRealTimeMonitoring {
		s.logger.Info("monitoring started without periodic collection")
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)

	s.logger.Info("monitoring started",
		zap.Duration("interval", cfg.CollectionInterval),
		zap.Duration("retention", cfg.RetentionPeriod))
	return nil
}

// Stop cancels periodic collection and waits for the current tick to
// finish. Stopping a stopped system is a no-op. Stop must not be called from
// a subscriber or rule condition running inside a tick, since it waits for
// that tick to return.
func (s *System) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	if !s.running {
		s.lifecycle.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.lifecycle.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.logger.Info("monitoring stopped")
	return nil
}

func (s *System) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.loopExited(done)

	interval := s.Config().CollectionInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Collect(ctx)
			// pick up interval changes from Reconfigure
			if next := s.Config().CollectionInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// loopExited marks the system stopped when the loop ends on its own, for
// example because the Start context was canceled
func (s *System) loopExited(done chan struct{}) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.done != done {
		return
	}
	s.running = false
	s.cancel()
	s.cancel, s.done = nil, nil
	s.logger.Info("monitoring stopped", zap.String("reason", "context done"))
}

// Collect runs one collection tick: sample the host and every backend,
// evaluate alert rules and prune old data
func (s *System) Collect(ctx context.Context) {
	collectCtx, cancel := context.WithTimeout(ctx, s.Config().CollectionInterval)
	defer cancel()

	now := s.now()
	actx := AlertContext{"source": "monitoring", "timestamp": now}

	host, err := s.sampler.Sample(collectCtx)
	hostOK := err == nil
	if err != nil {
		s.logger.Warn("host sampling failed", zap.Error(err))
	} else {
		s.RecordMetricAt(MetricCPUUsage, host.CPUPercent, now, nil)
		s.RecordMetricAt(MetricMemoryUsage, host.MemoryPercent, now, nil)
		actx[MetricCPUUsage] = host.CPUPercent
		actx[MetricMemoryUsage] = host.MemoryPercent
	}

	var (
		total, failed  int64
		throughput     float64
		backendCPU     float64
		healthy, count int
	)
	entries := s.backends.List()
	s.pruneHealth(entries)
	for _, e := range entries {
		count++
		m := e.Backend.PerformanceMetrics()
		tags := Tags{"backend": e.ID}
		s.RecordMetricAt(MetricBackendCPU, m.CPUUsage, now, tags)
		s.RecordMetricAt(MetricBackendMemory, m.MemoryUsage, now, tags)
		s.RecordMetricAt(MetricBackendRate, m.Throughput, now, tags)
		s.RecordMetricAt(MetricBackendErrors, m.ErrorRate(), now, tags)
		s.RecordMetricAt(MetricBackendLatency, float64(m.AverageLatency)/float64(time.Millisecond), now, tags)

		total += m.TotalInferences
		failed += m.FailedInferences
		throughput += m.Throughput
		backendCPU += m.CPUUsage

		state := e.Backend.Health(collectCtx).State
		if state == backend.HealthHealthy {
			healthy++
		}
		s.trackHealth(e.ID, state)
	}

	var errorRate float64
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}
	s.RecordMetricAt(MetricThroughput, throughput, now, nil)
	s.RecordMetricAt(MetricErrorRate, errorRate, now, nil)
	if !hostOK && count > 0 {
		actx[MetricCPUUsage] = backendCPU / float64(count)
	}
	actx[MetricErrorRate] = errorRate
	actx[MetricThroughput] = throughput
	actx["backend_count"] = count
	actx["healthy_backends"] = healthy
	s.addSeriesMeans(actx, now)

	s.CheckAlerts(actx)
	s.CleanupOldData()
}

// addSeriesMeans exposes every recorded series to alert rules as the mean of
// its points since the previous tick, across all tags. Keys set by sampling
// win.
func (s *System) addSeriesMeans(actx AlertContext, now time.Time) {
	s.mu.Lock()
	since := s.lastTick
	if since.IsZero() {
		since = now.Add(-s.cfg.CollectionInterval)
	}
	s.lastTick = now

	for name, points := range s.series {
		if _, ok := actx[name]; ok {
			continue
		}
		var sum float64
		var n int
		for i := len(points) - 1; i >= 0 && points[i].Timestamp.After(since); i-- {
			if points[i].Timestamp.After(now) {
				continue
			}
			sum += points[i].Value
			n++
		}
		if n > 0 {
			actx[name] = sum / float64(n)
		}
	}
	s.mu.Unlock()
}

// trackHealth records a backend_health event when a backend's state changes
func (s *System) trackHealth(id string, state backend.HealthState) {
	s.mu.Lock()
	prev, seen := s.health[id]
	s.health[id] = state
	s.mu.Unlock()

	if seen && prev == state {
		return
	}
	level := LevelInfo
	switch state {
	case backend.HealthDegraded:
		level = LevelWarning
	case backend.HealthUnhealthy:
		level = LevelError
	}
	s.RecordEvent(Event{
		Type:    EventBackendHealth,
		Level:   level,
		Source:  id,
		Message: fmt.Sprintf("backend %s is %s", id, state),
		Data:    map[string]any{"backend": id, "state": string(state), "previous": string(prev)},
		Tags:    Tags{"backend": id},
	})
}

// pruneHealth forgets backends that are no longer registered
func (s *System) pruneHealth(entries []backend.Entry) {
	live := make(map[string]bool, len(entries))
	for _, e := range entries {
		live[e.ID] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.health {
		if !live[id] {
			delete(s.health, id)
		}
	}
}

// CleanupStats counts what a cleanup pass removed
type CleanupStats struct {
	Metrics int `json:"metrics"`
	Alerts  int `json:"alerts"`
}

// CleanupOldData drops metric points and alerts older than the retention
// period, oldest first
func (s *System) CleanupOldData() CleanupStats {
	cutoff := s.now().Add(-s.Config().RetentionPeriod)

	s.mu.Lock()
	defer s.mu.Unlock()

	var stats CleanupStats
	for name, points := range s.series {
		// Points are timestamp ordered, so the stale ones form a prefix
		i := 0
		for i < len(points) && points[i].Timestamp.Before(cutoff) {
			i++
		}
		if i == 0 {
			continue
		}
		stats.Metrics += i
		if i == len(points) {
			delete(s.series, name)
			continue
		}
		s.series[name] = append([]MetricPoint(nil), points[i:]...)
	}

	// The event and alert rings already hold at most MaxEvents/MaxAlerts
	stats.Alerts = s.alerts.retain(func(a *Alert) bool {
		return !a.Timestamp.Before(cutoff)
	})

	if stats.Metrics+stats.Alerts > 0 {
		s.logger.Debug("monitoring data cleaned up",
			zap.Int("metrics", stats.Metrics),
			zap.Int("alerts", stats.Alerts))
	}
	return stats
}
