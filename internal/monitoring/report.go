// internal/monitoring/report.go
package monitoring

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ErrUnsupportedFormat is returned by ExportReport for unknown formats
var ErrUnsupportedFormat = errors.New("unsupported report format")

// chartBuckets is how many points each report chart is reduced to
const chartBuckets = 24

// Report is a rendered summary of a period
type Report struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	GeneratedAt    time.Time      `json:"generated_at"`
	Period         TimeRange      `json:"period"`
	Sections       ReportSections `json:"sections"`
	Visualizations Visualizations `json:"visualizations"`
}

// ReportSections holds the report body
type ReportSections struct {
	Summary         ReportSummary      `json:"summary"`
	Performance     PerformanceInsight `json:"performance"`
	Health          HealthInsight      `json:"health"`
	Alerts          ReportAlerts       `json:"alerts"`
	Recommendations []Recommendation   `json:"recommendations"`
}

// ReportSummary is the headline of a report
type ReportSummary struct {
	Health      string        `json:"health"`
	Duration    time.Duration `json:"duration"`
	Metrics     int           `json:"metrics"`
	Events      int           `json:"events"`
	Alerts      int           `json:"alerts"`
	Anomalies   int           `json:"anomalies"`
	System      SystemInsight `json:"system"`
	Efficiency  Efficiency    `json:"efficiency"`
	Reliability Reliability   `json:"reliability"`
}

// ReportAlerts lists the alerts raised in the period
type ReportAlerts struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
	Items      []Alert        `json:"items"`
}

// Visualizations are chart and table data for renderers
type Visualizations struct {
	Charts []Chart `json:"charts"`
	Tables []Table `json:"tables"`
}

// Chart is a bucketed series
type Chart struct {
	ID     string        `json:"id"`
	Title  string        `json:"title"`
	Type   string        `json:"type"`
	Metric string        `json:"metric"`
	Points []MetricPoint `json:"points"`
}

// Table is a rendered grid
type Table struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// GenerateReport renders a report for period. A zero period end means now.
func (s *System) GenerateReport(title, description string, period TimeRange) (*Report, error) {
	if !s.Config().EnableReporting {
		return nil, ErrReportingDisabled
	}
	if title == "" {
		return nil, errors.New("monitoring: report title is required")
	}

	in, err := s.insights(period)
	if err != nil {
		return nil, err
	}
	period = in.Period

	alerts := make([]Alert, 0)
	bySeverity := make(map[string]int)
	for _, a := range s.Alerts() {
		if !a.Timestamp.Before(period.Start) && a.Timestamp.Before(period.End) {
			alerts = append(alerts, a)
			bySeverity[a.Severity]++
		}
	}

	metrics := 0
	names := s.MetricNames()
	for _, name := range names {
		metrics += len(s.window(name, period, nil))
	}
	events := len(s.Events(EventFilter{Since: period.Start, Until: period.End}))

	r := &Report{
		ID:          "rpt_" + uuid.New().String(),
		Title:       title,
		Description: description,
		GeneratedAt: in.GeneratedAt,
		Period:      period,
		Sections: ReportSections{
			Summary: ReportSummary{
				Health:      in.Health.Status,
				Duration:    period.End.Sub(period.Start),
				Metrics:     metrics,
				Events:      events,
				Alerts:      len(alerts),
				Anomalies:   len(in.Anomalies),
				System:      in.System,
				Efficiency:  in.Efficiency,
				Reliability: in.Reliability,
			},
			Performance:     in.Performance,
			Health:          in.Health,
			Alerts:          ReportAlerts{Total: len(alerts), BySeverity: bySeverity, Items: alerts},
			Recommendations: in.Recommendations,
		},
		Visualizations: Visualizations{
			Charts: s.charts(period),
			Tables: s.tables(period, names, alerts),
		},
	}
	return r, nil
}

func (s *System) charts(period TimeRange) []Chart {
	interval := period.End.Sub(period.Start) / chartBuckets
	if interval <= 0 || period.Start.IsZero() {
		interval = 0
	}

	charts := make([]Chart, 0, len(trendMetrics))
	for _, name := range trendMetrics {
		points := untagged(s.window(name, period, nil))
		if len(points) == 0 {
			continue
		}
		if interval > 0 {
			points = bucket(points, MetricQuery{Metric: name, Start: period.Start, Interval: interval}, AggregateAvg)
		}
		charts = append(charts, Chart{
			ID:     "chart_" + name,
			Title:  name,
			Type:   "line",
			Metric: name,
			Points: points,
		})
	}
	return charts
}

func (s *System) tables(period TimeRange, names []string, alerts []Alert) []Table {
	metrics := Table{
		ID:      "metrics",
		Title:   "Metric summary",
		Columns: []string{"metric", "count", "avg", "min", "max", "p95"},
		Rows:    make([][]string, 0, len(names)),
	}
	for _, name := range names {
		ms := summarize(s.window(name, period, nil))
		if ms.Count == 0 {
			continue
		}
		metrics.Rows = append(metrics.Rows, []string{
			name, strconv.Itoa(ms.Count), ff(ms.Avg), ff(ms.Min), ff(ms.Max), ff(ms.P95),
		})
	}

	dash := s.GetDashboardData()
	backends := Table{
		ID:      "backends",
		Title:   "Backend health",
		Columns: []string{"backend", "state", "latency_ms", "throughput", "error_rate"},
		Rows:    make([][]string, 0, len(dash.Health)),
	}
	for _, id := range dash.BackendIDs() {
		h := dash.Health[id]
		backends.Rows = append(backends.Rows, []string{
			id, string(h.State), ff(h.LatencyMs), ff(h.Throughput), ff(h.ErrorRate),
		})
	}

	alertTable := Table{
		ID:      "alerts",
		Title:   "Alerts",
		Columns: []string{"time", "rule", "severity", "message", "resolved"},
		Rows:    make([][]string, 0, len(alerts)),
	}
	for _, a := range alerts {
		alertTable.Rows = append(alertTable.Rows, []string{
			a.Timestamp.Format(time.RFC3339), a.RuleID, a.Severity, a.Message, strconv.FormatBool(a.Resolved),
		})
	}

	return []Table{metrics, backends, alertTable}
}

// ExportReport writes r to w as JSON or CSV
func ExportReport(w io.Writer, r *Report, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatCSV:
		return exportCSV(w, r)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func exportCSV(out io.Writer, r *Report) error {
	w := csv.NewWriter(out)

	_ = w.Write([]string{"section", "field", "value"})
	_ = w.Write([]string{"report", "id", r.ID})
	_ = w.Write([]string{"report", "title", r.Title})
	_ = w.Write([]string{"report", "description", r.Description})
	_ = w.Write([]string{"report", "generated_at", r.GeneratedAt.Format(time.RFC3339)})
	_ = w.Write([]string{"report", "period_start", r.Period.Start.Format(time.RFC3339)})
	_ = w.Write([]string{"report", "period_end", r.Period.End.Format(time.RFC3339)})

	sum := r.Sections.Summary
	_ = w.Write([]string{"summary", "health", sum.Health})
	_ = w.Write([]string{"summary", "metrics", strconv.Itoa(sum.Metrics)})
	_ = w.Write([]string{"summary", "events", strconv.Itoa(sum.Events)})
	_ = w.Write([]string{"summary", "alerts", strconv.Itoa(sum.Alerts)})
	_ = w.Write([]string{"summary", "anomalies", strconv.Itoa(sum.Anomalies)})

	perf := r.Sections.Performance
	_ = w.Write([]string{"performance", "inferences", strconv.Itoa(perf.Inferences)})
	_ = w.Write([]string{"performance", "avg_inference_ms", ff(perf.AvgInferenceMs)})
	_ = w.Write([]string{"performance", "p95_inference_ms", ff(perf.P95InferenceMs)})
	_ = w.Write([]string{"performance", "avg_throughput", ff(perf.AvgThroughput)})
	_ = w.Write([]string{"performance", "avg_error_rate", ff(perf.AvgErrorRate)})

	h := r.Sections.Health
	_ = w.Write([]string{"health", "status", h.Status})
	_ = w.Write([]string{"health", "backends", strconv.Itoa(h.Backends)})
	_ = w.Write([]string{"health", "healthy", strconv.Itoa(h.Healthy)})
	_ = w.Write([]string{"health", "active_alerts", strconv.Itoa(h.ActiveAlerts)})

	severities := make([]string, 0, len(r.Sections.Alerts.BySeverity))
	for sev := range r.Sections.Alerts.BySeverity {
		severities = append(severities, sev)
	}
	sort.Strings(severities)
	for _, sev := range severities {
		_ = w.Write([]string{"alerts", sev, strconv.Itoa(r.Sections.Alerts.BySeverity[sev])})
	}

	for _, rec := range r.Sections.Recommendations {
		_ = w.Write([]string{"recommendations", rec.Priority, rec.Message})
	}

	for _, t := range r.Visualizations.Tables {
		for _, row := range t.Rows {
			_ = w.Write(append([]string{"table:" + t.ID}, row...))
		}
	}

	w.Flush()
	return w.Error()
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
