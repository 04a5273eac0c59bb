// internal/monitoring/insights.go
package monitoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
)

// ErrInvalidTimeRange is returned when a range ends before it starts
var ErrInvalidTimeRange = errors.New("invalid time range")

// Trend directions
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// Overall health classifications
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
	HealthUnknown  = "unknown"
)

const (
	trendThreshold   = 0.10
	anomalyThreshold = 3.0
	anomalyMinPoints = 5
)

// trendMetrics are the untagged series trends are computed for
var trendMetrics = []string{
	MetricCPUUsage,
	MetricMemoryUsage,
	MetricThroughput,
	MetricErrorRate,
	MetricInferenceTime,
}

// Insights summarizes a time window. Every field is populated, with zero
// values when the window holds no data.
type Insights struct {
	Period          TimeRange               `json:"period"`
	GeneratedAt     time.Time               `json:"generated_at"`
	System          SystemInsight           `json:"system"`
	Performance     PerformanceInsight      `json:"performance"`
	Health          HealthInsight           `json:"health"`
	Trends          map[string]TrendInsight `json:"trends"`
	Anomalies       []Anomaly               `json:"anomalies"`
	Recommendations []Recommendation        `json:"recommendations"`
	Efficiency      Efficiency              `json:"efficiency"`
	Reliability     Reliability             `json:"reliability"`
}

// SystemInsight is host resource usage over the window
type SystemInsight struct {
	AvgCPU     float64 `json:"avg_cpu"`
	PeakCPU    float64 `json:"peak_cpu"`
	AvgMemory  float64 `json:"avg_memory"`
	PeakMemory float64 `json:"peak_memory"`
	Samples    int     `json:"samples"`
}

// PerformanceInsight is inference performance over the window
type PerformanceInsight struct {
	Inferences     int     `json:"inferences"`
	AvgInferenceMs float64 `json:"avg_inference_ms"`
	P95InferenceMs float64 `json:"p95_inference_ms"`
	AvgThroughput  float64 `json:"avg_throughput"`
	AvgErrorRate   float64 `json:"avg_error_rate"`
}

// HealthInsight is the current backend and alert picture
type HealthInsight struct {
	Status         string `json:"status"`
	Backends       int    `json:"backends"`
	Healthy        int    `json:"healthy"`
	Degraded       int    `json:"degraded"`
	Unhealthy      int    `json:"unhealthy"`
	ActiveAlerts   int    `json:"active_alerts"`
	CriticalAlerts int    `json:"critical_alerts"`
}

// TrendInsight compares the later half of a series with the earlier half
type TrendInsight struct {
	Direction string  `json:"direction"`
	Change    float64 `json:"change"`
	Earlier   float64 `json:"earlier"`
	Recent    float64 `json:"recent"`
}

// Anomaly is a point more than three standard deviations from its series mean
type Anomaly struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"std_dev"`
	ZScore    float64   `json:"z_score"`
	Timestamp time.Time `json:"timestamp"`
	Tags      Tags      `json:"tags,omitempty"`
}

// Recommendation is an operator-facing suggestion
type Recommendation struct {
	Category string `json:"category"`
	Priority string `json:"priority"`
	Message  string `json:"message"`
}

// Efficiency ratios are in [0,1], higher is better
type Efficiency struct {
	Resource float64 `json:"resource"`
	Cost     float64 `json:"cost"`
	Time     float64 `json:"time"`
}

// Reliability over the window
type Reliability struct {
	SuccessRate  float64 `json:"success_rate"`
	ErrorRate    float64 `json:"error_rate"`
	Availability float64 `json:"availability"`
	Incidents    int     `json:"incidents"`
}

// GenerateInsights derives insights from the data recorded in tr
func (s *System) GenerateInsights(tr TimeRange) (*Insights, error) {
	if !s.Config().EnableAnalytics {
		return nil, ErrAnalyticsDisabled
	}
	return s.insights(tr)
}

func (s *System) insights(tr TimeRange) (*Insights, error) {
	now := s.now()
	if tr.End.IsZero() {
		tr.End = now
	}
	if tr.End.Before(tr.Start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidTimeRange,
			tr.End.Format(time.RFC3339), tr.Start.Format(time.RFC3339))
	}

	in := &Insights{
		Period:          tr,
		GeneratedAt:     now,
		Trends:          make(map[string]TrendInsight),
		Anomalies:       make([]Anomaly, 0),
		Recommendations: make([]Recommendation, 0),
	}

	cpu := summarize(s.window(MetricCPUUsage, tr, nil))
	mem := summarize(s.window(MetricMemoryUsage, tr, nil))
	in.System = SystemInsight{
		AvgCPU:     cpu.Avg,
		PeakCPU:    cpu.Max,
		AvgMemory:  mem.Avg,
		PeakMemory: mem.Max,
		Samples:    max(cpu.Count, mem.Count),
	}

	inf := summarize(s.window(MetricInferenceTime, tr, nil))
	rate := summarize(s.window(MetricThroughput, tr, nil))
	errs := summarize(s.window(MetricErrorRate, tr, nil))
	in.Performance = PerformanceInsight{
		Inferences:     inf.Count,
		AvgInferenceMs: inf.Avg,
		P95InferenceMs: inf.P95,
		AvgThroughput:  rate.Avg,
		AvgErrorRate:   errs.Avg,
	}

	in.Health = s.healthInsight()

	for _, name := range trendMetrics {
		if t, ok := trendOf(s.window(name, tr, nil)); ok {
			in.Trends[name] = t
		}
	}

	for _, name := range s.MetricNames() {
		in.Anomalies = append(in.Anomalies, anomalies(name, s.window(name, tr, nil))...)
	}
	sort.SliceStable(in.Anomalies, func(i, j int) bool {
		return in.Anomalies[i].Timestamp.Before(in.Anomalies[j].Timestamp)
	})

	if in.System.Samples > 0 {
		in.Efficiency.Resource = clamp01(1 - (cpu.Avg+mem.Avg)/200)
	}
	if errs.Count > 0 {
		in.Reliability.ErrorRate = errs.Avg
		in.Reliability.SuccessRate = clamp01(1 - errs.Avg)
		in.Efficiency.Cost = in.Efficiency.Resource * in.Reliability.SuccessRate
	}
	if inf.Count > 0 {
		in.Efficiency.Time = 1 / (1 + inf.Avg/1000)
	}
	if in.Health.Backends > 0 {
		in.Reliability.Availability = float64(in.Health.Healthy) / float64(in.Health.Backends)
	}
	for _, a := range s.Alerts() {
		if !a.Timestamp.Before(tr.Start) && a.Timestamp.Before(tr.End) {
			in.Reliability.Incidents++
		}
	}

	in.Recommendations = append(in.Recommendations, recommend(in)...)
	return in, nil
}

// window returns the points of name in the half-open range tr
func (s *System) window(name string, tr TimeRange, filters map[string]string) []MetricPoint {
	points := s.pointsIn(name, tr.Start, tr.End, filters)
	for len(points) > 0 && !points[len(points)-1].Timestamp.Before(tr.End) {
		points = points[:len(points)-1]
	}
	return points
}

func (s *System) healthInsight() HealthInsight {
	s.mu.RLock()
	var h HealthInsight
	for _, state := range s.health {
		h.Backends++
		switch state {
		case backend.HealthHealthy:
			h.Healthy++
		case backend.HealthDegraded:
			h.Degraded++
		default:
			h.Unhealthy++
		}
	}
	for _, a := range s.alerts.items() {
		if a.Resolved {
			continue
		}
		h.ActiveAlerts++
		if a.Severity == SeverityCritical {
			h.CriticalAlerts++
		}
	}
	s.mu.RUnlock()

	h.Status = classify(h)
	return h
}

func classify(h HealthInsight) string {
	switch {
	case h.Backends == 0 && h.ActiveAlerts == 0:
		return HealthUnknown
	case h.CriticalAlerts > 0 || (h.Backends > 0 && h.Unhealthy == h.Backends):
		return HealthCritical
	case h.Degraded > 0 || h.Unhealthy > 0 || h.ActiveAlerts > 0:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

func trendOf(points []MetricPoint) (TrendInsight, bool) {
	if len(points) < 2 {
		return TrendInsight{}, false
	}
	half := len(points) / 2
	earlier := meanValue(points[:half])
	recent := meanValue(points[half:])

	t := TrendInsight{Earlier: earlier, Recent: recent, Direction: TrendStable}
	switch {
	case earlier != 0:
		t.Change = (recent - earlier) / math.Abs(earlier)
	case recent != 0:
		t.Change = 1
	}
	if t.Change > trendThreshold {
		t.Direction = TrendIncreasing
	} else if t.Change < -trendThreshold {
		t.Direction = TrendDecreasing
	}
	return t, true
}

func anomalies(name string, points []MetricPoint) []Anomaly {
	if len(points) < anomalyMinPoints {
		return nil
	}
	mean := meanValue(points)
	var sq float64
	for _, p := range points {
		sq += (p.Value - mean) * (p.Value - mean)
	}
	std := math.Sqrt(sq / float64(len(points)))
	if std == 0 {
		return nil
	}

	var out []Anomaly
	for _, p := range points {
		z := math.Abs(p.Value-mean) / std
		if z > anomalyThreshold {
			out = append(out, Anomaly{
				Metric:    name,
				Value:     p.Value,
				Mean:      mean,
				StdDev:    std,
				ZScore:    z,
				Timestamp: p.Timestamp,
				Tags:      p.Tags,
			})
		}
	}
	return out
}

func recommend(in *Insights) []Recommendation {
	var out []Recommendation
	if in.System.AvgCPU > 80 {
		out = append(out, Recommendation{
			Category: "system",
			Priority: "high",
			Message:  fmt.Sprintf("CPU usage averaged %.1f%%; prefer lighter backends or add capacity", in.System.AvgCPU),
		})
	}
	if in.System.AvgMemory > 85 {
		out = append(out, Recommendation{
			Category: "system",
			Priority: "high",
			Message:  fmt.Sprintf("Memory usage averaged %.1f%%; unload idle model instances", in.System.AvgMemory),
		})
	}
	if in.Performance.AvgErrorRate > 0.05 {
		out = append(out, Recommendation{
			Category: "reliability",
			Priority: "critical",
			Message:  fmt.Sprintf("Error rate averaged %.1f%%; inspect failing backends", in.Performance.AvgErrorRate*100),
		})
	}
	if in.Performance.P95InferenceMs > 1000 {
		out = append(out, Recommendation{
			Category: "performance",
			Priority: "medium",
			Message:  fmt.Sprintf("P95 inference time is %.0fms; consider quantized or batching backends", in.Performance.P95InferenceMs),
		})
	}
	if in.Health.Unhealthy > 0 {
		out = append(out, Recommendation{
			Category: "health",
			Priority: "high",
			Message:  fmt.Sprintf("%d of %d backends are unhealthy", in.Health.Unhealthy, in.Health.Backends),
		})
	}
	return out
}

func meanValue(points []MetricPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var total float64
	for _, p := range points {
		total += p.Value
	}
	return total / float64(len(points))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
