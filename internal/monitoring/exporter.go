// internal/monitoring/exporter.go
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exposes a system's state in the prometheus text format. Each
// system owns its registry so isolated instances never collide.
type Exporter struct {
	registry         *prometheus.Registry
	events           *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	subscriberErrors prometheus.Counter
	ruleErrors       prometheus.Counter
}

func newExporter(s *System) *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeinfer_events_total",
				Help: "Total number of recorded monitoring events",
			},
			[]string{"type", "level"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeinfer_alerts_total",
				Help: "Total number of alerts raised",
			},
			[]string{"rule", "severity"},
		),
		subscriberErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgeinfer_subscriber_errors_total",
			Help: "Total number of failed or panicking event subscribers",
		}),
		ruleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgeinfer_rule_errors_total",
			Help: "Total number of alert rule conditions that panicked",
		}),
	}

	e.registry.MustRegister(e.events)
	e.registry.MustRegister(e.alerts)
	e.registry.MustRegister(e.subscriberErrors)
	e.registry.MustRegister(e.ruleErrors)
	e.registry.MustRegister(&seriesCollector{s: s})
	return e
}

func (e *Exporter) observeEvent(ev Event) {
	e.events.WithLabelValues(ev.Type, ev.Level).Inc()
}

func (e *Exporter) observeAlert(a Alert) {
	e.alerts.WithLabelValues(a.RuleID, a.Severity).Inc()
}

// Registry returns the registry so callers can add their own collectors
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns the prometheus scrape handler
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

var (
	metricValueDesc = prometheus.NewDesc(
		"edgeinfer_metric_value",
		"Latest value of a recorded monitoring series",
		[]string{"metric", "backend"}, nil,
	)
	activeAlertsDesc = prometheus.NewDesc(
		"edgeinfer_active_alerts",
		"Number of unresolved alerts",
		[]string{"severity"}, nil,
	)
	storedEventsDesc = prometheus.NewDesc(
		"edgeinfer_stored_events",
		"Number of events held in memory",
		nil, nil,
	)
)

// seriesCollector reads the system at scrape time
type seriesCollector struct {
	s *System
}

func (c *seriesCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- metricValueDesc
	ch <- activeAlertsDesc
	ch <- storedEventsDesc
}

func (c *seriesCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	for name, points := range s.series {
		seen := make(map[string]bool)
		for i := len(points) - 1; i >= 0; i-- {
			b := points[i].Tags["backend"]
			if seen[b] {
				continue
			}
			seen[b] = true
			ch <- prometheus.MustNewConstMetric(metricValueDesc, prometheus.GaugeValue, points[i].Value, name, b)
		}
	}

	active := map[string]float64{SeverityInfo: 0, SeverityWarning: 0, SeverityCritical: 0}
	for _, a := range s.alerts.items() {
		if !a.Resolved {
			active[a.Severity]++
		}
	}
	for sev, n := range active {
		ch <- prometheus.MustNewConstMetric(activeAlertsDesc, prometheus.GaugeValue, n, sev)
	}
	ch <- prometheus.MustNewConstMetric(storedEventsDesc, prometheus.GaugeValue, float64(s.events.len()))
}
