// internal/profiler/rolling.go
package profiler

import (
	"math"
	"sort"
)

// Stat is a summary of one rolling metric. Count, Mean, StdDev, Min and Max
// cover every value ever folded in; the percentiles cover the recent window.
type Stat struct {
	Count  int64   `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Last   float64 `json:"last"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// rolling folds values in without keeping unbounded history: Welford's
// mean/variance plus a fixed ring of the most recent values.
type rolling struct {
	n    int64
	mean float64
	m2   float64
	min  float64
	max  float64
	last float64

	window []float64
	next   int
	full   bool
}

func newRolling(size int) *rolling {
	return &rolling{window: make([]float64, size)}
}

func (r *rolling) add(v float64) {
	r.n++
	if r.n == 1 {
		r.min, r.max = v, v
	} else {
		r.min = math.Min(r.min, v)
		r.max = math.Max(r.max, v)
	}
	delta := v - r.mean
	r.mean += delta / float64(r.n)
	r.m2 += delta * (v - r.mean)
	r.last = v

	if len(r.window) == 0 {
		return
	}
	r.window[r.next] = v
	r.next = (r.next + 1) % len(r.window)
	if r.next == 0 {
		r.full = true
	}
}

// recent returns the windowed values, oldest first
func (r *rolling) recent() []float64 {
	if !r.full {
		out := make([]float64, r.next)
		copy(out, r.window[:r.next])
		return out
	}
	out := make([]float64, 0, len(r.window))
	out = append(out, r.window[r.next:]...)
	out = append(out, r.window[:r.next]...)
	return out
}

func (r *rolling) stat() Stat {
	if r.n == 0 {
		return Stat{}
	}
	s := Stat{
		Count: r.n,
		Mean:  r.mean,
		Min:   r.min,
		Max:   r.max,
		Last:  r.last,
	}
	if r.n > 1 {
		s.StdDev = math.Sqrt(r.m2 / float64(r.n-1))
	}

	sorted := r.recent()
	sort.Float64s(sorted)
	s.P50 = percentile(sorted, 50)
	s.P95 = percentile(sorted, 95)
	s.P99 = percentile(sorted, 99)
	return s
}

// percentile expects sorted input
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
