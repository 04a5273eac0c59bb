// internal/monitoring/metrics.go
package monitoring

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Aggregations for bucketed queries
const (
	AggregateAvg   = "avg"
	AggregateSum   = "sum"
	AggregateMin   = "min"
	AggregateMax   = "max"
	AggregateCount = "count"
	AggregateLast  = "last"
)

// MetricQuery selects points of one metric. Start and End are inclusive;
// zero values leave that side open. With a positive Interval the points are
// bucketed into Interval-wide windows starting at Start (or the first point)
// and reduced with Aggregation, which defaults to avg.
type MetricQuery struct {
	Metric      string            `json:"metric"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	Filters     map[string]string `json:"filters,omitempty"`
	Interval    time.Duration     `json:"interval,omitempty"`
	Aggregation string            `json:"aggregation,omitempty"`
}

// RecordMetric appends a point stamped with the current time
func (s *System) RecordMetric(name string, value float64, tags Tags) {
	s.RecordMetricAt(name, value, s.now(), tags)
}

// RecordMetricAt appends a point. Series stay in timestamp order even when
// points arrive late.
func (s *System) RecordMetricAt(name string, value float64, ts time.Time, tags Tags) {
	if ts.IsZero() {
		ts = s.now()
	}
	p := MetricPoint{Name: name, Value: value, Timestamp: ts, Tags: tags.clone()}

	s.mu.Lock()
	defer s.mu.Unlock()

	points := s.series[name]
	n := len(points)
	if n == 0 || !ts.Before(points[n-1].Timestamp) {
		s.series[name] = append(points, p)
		return
	}
	i := sort.Search(n, func(i int) bool { return points[i].Timestamp.After(ts) })
	points = append(points, MetricPoint{})
	copy(points[i+1:], points[i:])
	points[i] = p
	s.series[name] = points
}

// QueryMetrics returns the matching points in timestamp order
func (s *System) QueryMetrics(q MetricQuery) ([]MetricPoint, error) {
	agg := q.Aggregation
	if agg == "" {
		agg = AggregateAvg
	}
	if q.Interval > 0 {
		if _, ok := reducers[agg]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAggregation, agg)
		}
	}

	points := s.pointsIn(q.Metric, q.Start, q.End, q.Filters)
	if q.Interval <= 0 || len(points) == 0 {
		return points, nil
	}
	return bucket(points, q, agg), nil
}

// MetricNames returns the names of every stored series
func (s *System) MetricNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LatestMetric returns the newest point of a series matching filters
func (s *System) LatestMetric(name string, filters map[string]string) (MetricPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	points := s.series[name]
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].Tags.Matches(filters) {
			p := points[i]
			p.Tags = p.Tags.clone()
			return p, true
		}
	}
	return MetricPoint{}, false
}

func (s *System) pointsIn(name string, start, end time.Time, filters map[string]string) []MetricPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.series[name]
	i := 0
	if !start.IsZero() {
		i = sort.Search(len(points), func(i int) bool { return !points[i].Timestamp.Before(start) })
	}
	out := make([]MetricPoint, 0)
	for ; i < len(points); i++ {
		p := points[i]
		if !end.IsZero() && p.Timestamp.After(end) {
			break
		}
		if !p.Tags.Matches(filters) {
			continue
		}
		p.Tags = p.Tags.clone()
		out = append(out, p)
	}
	return out
}

var reducers = map[string]func([]float64) float64{
	AggregateAvg: func(v []float64) float64 { return sum(v) / float64(len(v)) },
	AggregateSum: sum,
	AggregateMin: func(v []float64) float64 {
		m := math.Inf(1)
		for _, x := range v {
			m = math.Min(m, x)
		}
		return m
	},
	AggregateMax: func(v []float64) float64 {
		m := math.Inf(-1)
		for _, x := range v {
			m = math.Max(m, x)
		}
		return m
	},
	AggregateCount: func(v []float64) float64 { return float64(len(v)) },
	AggregateLast:  func(v []float64) float64 { return v[len(v)-1] },
}

func bucket(points []MetricPoint, q MetricQuery, agg string) []MetricPoint {
	base := q.Start
	if base.IsZero() {
		base = points[0].Timestamp
	}
	reduce := reducers[agg]

	var out []MetricPoint
	var values []float64
	var current int64 = -1
	flush := func() {
		if len(values) == 0 {
			return
		}
		out = append(out, MetricPoint{
			Name:      q.Metric,
			Value:     reduce(values),
			Timestamp: base.Add(time.Duration(current) * q.Interval),
			Tags:      Tags(q.Filters).clone(),
		})
		values = values[:0]
	}

	for _, p := range points {
		idx := int64(p.Timestamp.Sub(base) / q.Interval)
		if idx != current {
			flush()
			current = idx
		}
		values = append(values, p.Value)
	}
	flush()
	return out
}

func sum(v []float64) float64 {
	var total float64
	for _, x := range v {
		total += x
	}
	return total
}

// summarize computes basic statistics over point values
func summarize(points []MetricPoint) MetricSummary {
	ms := MetricSummary{Count: len(points)}
	if len(points) == 0 {
		return ms
	}
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	ms.Latest = values[len(values)-1]
	ms.Avg = reducers[AggregateAvg](values)
	ms.Min = reducers[AggregateMin](values)
	ms.Max = reducers[AggregateMax](values)

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	ms.P95 = sorted[int(float64(len(sorted)-1)*0.95)]
	return ms
}

// MetricSummary summarizes a series over a window
type MetricSummary struct {
	Count  int     `json:"count"`
	Latest float64 `json:"latest"`
	Avg    float64 `json:"avg"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P95    float64 `json:"p95"`
}
