// internal/profiler/compare.go
package profiler

import (
	"sort"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
)

// Trend directions
const (
	TrendImproving = "improving"
	TrendDegrading = "degrading"
	TrendStable    = "stable"
)

// trendThreshold is the relative change in mean inference time needed to
// call a trend improving or degrading
const trendThreshold = 0.10

// Ranking is one backend's standing in a comparison
type Ranking struct {
	BackendID         string        `json:"backend_id"`
	Score             float64       `json:"score"`
	SampleSize        int64         `json:"sample_size"`
	SuccessRate       float64       `json:"success_rate"`
	MeanInferenceTime time.Duration `json:"mean_inference_time"`
	P95InferenceTime  time.Duration `json:"p95_inference_time"`
	MeanMemoryUsage   float64       `json:"mean_memory_usage_mb"`
}

// Trend compares the older and newer halves of a backend's recent window
type Trend struct {
	BackendID      string  `json:"backend_id"`
	Samples        int     `json:"samples"`
	EarlierMeanMs  float64 `json:"earlier_mean_ms"`
	RecentMeanMs   float64 `json:"recent_mean_ms"`
	Change         float64 `json:"change"` // relative, negative is faster
	EarlierSuccess float64 `json:"earlier_success_rate"`
	RecentSuccess  float64 `json:"recent_success_rate"`
	Direction      string  `json:"direction"`
}

// Comparison is the result of CompareBackends
type Comparison struct {
	TaskType backend.TaskType `json:"task_type"`
	ModelID  string           `json:"model_id"`
	Rankings []Ranking        `json:"rankings"`
	Trend    *Trend           `json:"trend,omitempty"`
}

// Best returns the top ranked backend id, or "" when nothing was ranked
func (c Comparison) Best() string {
	if len(c.Rankings) == 0 {
		return ""
	}
	return c.Rankings[0].BackendID
}

// CompareBackends ranks backends with samples for (taskType, modelID). An
// empty backendID compares every such backend; a specific one restricts the
// ranking to it and adds its trend over the recent window.
func (p *Profiler) CompareBackends(backendID string, taskType backend.TaskType, modelID string) Comparison {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cmp := Comparison{TaskType: taskType, ModelID: modelID, Rankings: []Ranking{}}

	for k, e := range p.entries {
		if k.TaskType != taskType || k.ModelID != modelID || e.samples == 0 {
			continue
		}
		if backendID != "" && k.BackendID != backendID {
			continue
		}
		cmp.Rankings = append(cmp.Rankings, e.ranking(k))
		if backendID != "" {
			cmp.Trend = e.trend(k.BackendID)
		}
	}

	sort.Slice(cmp.Rankings, func(i, j int) bool {
		if cmp.Rankings[i].Score != cmp.Rankings[j].Score {
			return cmp.Rankings[i].Score > cmp.Rankings[j].Score
		}
		return cmp.Rankings[i].BackendID < cmp.Rankings[j].BackendID
	})
	return cmp
}

func (e *entry) ranking(k Key) Ranking {
	pr := e.profile(k)
	r := Ranking{
		BackendID:         k.BackendID,
		SampleSize:        pr.SampleSize,
		SuccessRate:       pr.SuccessRate,
		MeanInferenceTime: pr.MeanInferenceTime(),
		P95InferenceTime:  time.Duration(pr.Metrics.InferenceTime.P95 * float64(time.Millisecond)),
		MeanMemoryUsage:   pr.Metrics.MemoryUsage.Mean,
	}
	// Faster is better; a one second mean halves the score
	speed := 1 / (1 + pr.Metrics.InferenceTime.Mean/1000)
	r.Score = pr.SuccessRate * speed
	if acc := pr.Metrics.Accuracy; acc.Count > 0 {
		r.Score *= 0.5 + 0.5*acc.Mean
	}
	return r
}

func (e *entry) trend(backendID string) *Trend {
	times := e.time.recent()
	outcomes := e.successes.recent()
	t := &Trend{BackendID: backendID, Samples: len(outcomes), Direction: TrendStable}

	if half := len(times) / 2; half > 0 {
		t.EarlierMeanMs = meanOf(times[:half])
		t.RecentMeanMs = meanOf(times[half:])
		if t.EarlierMeanMs > 0 {
			t.Change = (t.RecentMeanMs - t.EarlierMeanMs) / t.EarlierMeanMs
		}
	}
	if half := len(outcomes) / 2; half > 0 {
		t.EarlierSuccess = meanOf(outcomes[:half])
		t.RecentSuccess = meanOf(outcomes[half:])
	}

	switch {
	case t.RecentSuccess < t.EarlierSuccess-trendThreshold:
		t.Direction = TrendDegrading
	case t.Change > trendThreshold:
		t.Direction = TrendDegrading
	case t.Change < -trendThreshold:
		t.Direction = TrendImproving
	}
	return t
}
