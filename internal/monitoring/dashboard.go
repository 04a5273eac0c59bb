// internal/monitoring/dashboard.go
package monitoring

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
)

// DashboardWindow is how far back dashboard metrics and trends look
const DashboardWindow = time.Hour

const recentAlertLimit = 10

// DashboardSummary is the headline of the dashboard
type DashboardSummary struct {
	State           string        `json:"state"`
	Health          string        `json:"health"`
	Backends        int           `json:"backends"`
	HealthyBackends int           `json:"healthy_backends"`
	ActiveAlerts    int           `json:"active_alerts"`
	Events          int           `json:"events"`
	Uptime          time.Duration `json:"uptime"`
}

// AlertsSummary contains alert statistics
type AlertsSummary struct {
	Total        int     `json:"total"`
	Active       int     `json:"active"`
	Acknowledged int     `json:"acknowledged"`
	Critical     int     `json:"critical"`
	Warning      int     `json:"warning"`
	Recent       []Alert `json:"recent"`
}

// BackendHealth is the latest observed state of one backend
type BackendHealth struct {
	State      backend.HealthState `json:"state"`
	CPUUsage   float64             `json:"cpu_usage"`
	Memory     float64             `json:"memory_usage"`
	LatencyMs  float64             `json:"latency_ms"`
	Throughput float64             `json:"throughput"`
	ErrorRate  float64             `json:"error_rate"`
}

// DashboardData is a point-in-time snapshot of the system
type DashboardData struct {
	GeneratedAt time.Time                `json:"generated_at"`
	Summary     DashboardSummary         `json:"summary"`
	Metrics     map[string]MetricSummary `json:"metrics"`
	Alerts      AlertsSummary            `json:"alerts"`
	Health      map[string]BackendHealth `json:"health"`
	Trends      map[string]TrendInsight  `json:"trends"`
}

// GetDashboardData builds a snapshot from stored data. It never calls into
// backends; backend health is as of the last collection tick.
func (s *System) GetDashboardData() *DashboardData {
	now := s.now()
	tr := TimeRange{Start: now.Add(-DashboardWindow), End: now.Add(time.Nanosecond)}

	d := &DashboardData{
		GeneratedAt: now,
		Metrics:     make(map[string]MetricSummary),
		Health:      make(map[string]BackendHealth),
		Trends:      make(map[string]TrendInsight),
	}

	for _, name := range s.MetricNames() {
		points := s.window(name, tr, nil)
		if len(points) > 0 {
			d.Metrics[name] = summarize(untagged(points))
		}
	}
	for _, name := range trendMetrics {
		if t, ok := trendOf(untagged(s.window(name, tr, nil))); ok {
			d.Trends[name] = t
		}
	}

	s.mu.RLock()
	states := make(map[string]backend.HealthState, len(s.health))
	for id, st := range s.health {
		states[id] = st
	}
	events := s.events.len()
	s.mu.RUnlock()

	for id, st := range states {
		d.Health[id] = s.backendHealth(id, st)
	}

	all := s.Alerts()
	d.Alerts = AlertsSummary{Total: len(all), Recent: make([]Alert, 0, recentAlertLimit)}
	for _, a := range all {
		if a.Acknowledged {
			d.Alerts.Acknowledged++
		}
		if a.Resolved {
			continue
		}
		d.Alerts.Active++
		switch a.Severity {
		case SeverityCritical:
			d.Alerts.Critical++
		case SeverityWarning:
			d.Alerts.Warning++
		}
	}
	// Newest first
	for i := len(all) - 1; i >= 0 && len(d.Alerts.Recent) < recentAlertLimit; i-- {
		d.Alerts.Recent = append(d.Alerts.Recent, all[i])
	}

	h := s.healthInsight()
	d.Summary = DashboardSummary{
		State:           s.State(),
		Health:          h.Status,
		Backends:        h.Backends,
		HealthyBackends: h.Healthy,
		ActiveAlerts:    h.ActiveAlerts,
		Events:          events,
		Uptime:          s.uptime(now),
	}
	return d
}

func (s *System) backendHealth(id string, st backend.HealthState) BackendHealth {
	f := map[string]string{"backend": id}
	latest := func(name string) float64 {
		p, _ := s.LatestMetric(name, f)
		return p.Value
	}
	return BackendHealth{
		State:      st,
		CPUUsage:   latest(MetricBackendCPU),
		Memory:     latest(MetricBackendMemory),
		LatencyMs:  latest(MetricBackendLatency),
		Throughput: latest(MetricBackendRate),
		ErrorRate:  latest(MetricBackendErrors),
	}
}

func (s *System) uptime(now time.Time) time.Duration {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.running {
		return 0
	}
	return now.Sub(s.startedAt)
}

// untagged keeps the system-wide points of a series. Series that only carry
// tagged points are returned unchanged.
func untagged(points []MetricPoint) []MetricPoint {
	out := make([]MetricPoint, 0, len(points))
	for _, p := range points {
		if len(p.Tags) == 0 {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return points
	}
	return out
}

// BackendIDs returns the backends in the snapshot, sorted
func (d *DashboardData) BackendIDs() []string {
	ids := make([]string, 0, len(d.Health))
	for id := range d.Health {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HTTPHandler returns an HTTP handler serving the dashboard as JSON
func (s *System) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := s.GetDashboardData()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(data)
	})
}
