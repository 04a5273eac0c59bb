// internal/selector/selector.go
package selector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
	"github.com/FairForge/edgeinfer/internal/profiler"
	"go.uber.org/zap"
)

// ProfileSource supplies observed execution history
type ProfileSource interface {
	Profile(backendID string, taskType backend.TaskType, modelID string) profiler.Profile
}

// Options tune the scoring
type Options struct {
	Weights Weights `yaml:"weights" json:"weights"`
	// MinSamples is the history size at which observed performance fully
	// replaces the static estimate
	MinSamples int `yaml:"min_samples" json:"min_samples"`
	// StaticPenalty scales static estimates, which are less trustworthy than
	// observations
	StaticPenalty float64 `yaml:"static_penalty" json:"static_penalty"`
}

// DefaultOptions returns the default tuning
func DefaultOptions() Options {
	return Options{
		Weights:       DefaultWeights(),
		MinSamples:    10,
		StaticPenalty: 0.8,
	}
}

// neutralPerformance is used when a backend has neither history nor a
// static estimate
const neutralPerformance = 0.5

// Selector picks the best backend for a task
type Selector struct {
	registry *backend.Registry
	profiles ProfileSource
	opts     Options
	logger   *zap.Logger
}

// New creates a selector. profiles may be nil, in which case only static
// estimates are used.
func New(registry *backend.Registry, profiles ProfileSource, opts Options, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = backend.Default()
	}
	def := DefaultOptions()
	if err := opts.Weights.Validate(); err != nil {
		logger.Warn("using default selector weights", zap.Error(err))
		opts.Weights = def.Weights
	}
	if opts.Weights.Resource == 0 && opts.Weights.Performance == 0 {
		opts.Weights = def.Weights
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = def.MinSamples
	}
	if opts.StaticPenalty <= 0 || opts.StaticPenalty > 1 {
		opts.StaticPenalty = def.StaticPenalty
	}
	return &Selector{registry: registry, profiles: profiles, opts: opts, logger: logger}
}

// SelectBackend returns the highest scoring eligible backend for task
func (s *Selector) SelectBackend(ctx context.Context, task backend.Task, criteria *Criteria) (*Selection, error) {
	ranked, err := s.Rank(ctx, task, criteria)
	if err != nil {
		return nil, err
	}

	best := ranked[0]
	sel := &Selection{
		BackendID:            best.BackendID,
		Confidence:           best.Confidence,
		EstimatedPerformance: best.Estimate,
		Reasons:              best.Reasons,
		Alternatives:         ranked[1:],
	}

	s.logger.Debug("backend selected",
		zap.String("task", task.ID),
		zap.String("type", string(task.Type)),
		zap.String("backend", sel.BackendID),
		zap.Float64("confidence", sel.Confidence),
		zap.Int("alternatives", len(sel.Alternatives)))
	return sel, nil
}

// Rank scores every eligible backend, best first. Equal confidence keeps
// registry declaration order.
func (s *Selector) Rank(ctx context.Context, task backend.Task, criteria *Criteria) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if criteria == nil {
		criteria = &Criteria{}
	}

	entries := s.registry.List()
	rejected := make(map[string]string)
	var ranked []Candidate

	for _, e := range entries {
		if reason := s.reject(e, task, criteria); reason != "" {
			rejected[e.ID] = reason
			continue
		}
		ranked = append(ranked, s.score(e, task, criteria))
	}

	if len(ranked) == 0 {
		return nil, &NoEligibleBackendError{TaskType: task.Type, Rejected: rejected}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	return ranked, nil
}

// reject applies the hard filter and returns why a backend is ineligible
func (s *Selector) reject(e backend.Entry, task backend.Task, criteria *Criteria) string {
	for _, id := range criteria.Exclude {
		if id == e.ID {
			return "excluded by criteria"
		}
	}
	caps := e.Backend.Capabilities()
	if !caps.Supports(task.Type) {
		return fmt.Sprintf("task type %s not supported", task.Type)
	}
	if !caps.AcceptsInput(task.Input.Format) {
		return fmt.Sprintf("input format %s not accepted", task.Input.Format)
	}
	for _, f := range criteria.Constraints.RequiredFeatures {
		if !caps.HasFeature(f) {
			return fmt.Sprintf("missing feature %s", f)
		}
	}
	if !e.Backend.IsAvailable() {
		return "unavailable"
	}
	return ""
}

func (s *Selector) score(e backend.Entry, task backend.Task, criteria *Criteria) Candidate {
	c := Candidate{BackendID: e.ID}
	res := e.Backend.Resources()

	c.ResourceScore = resourceFit(task.Requirements, res)
	if c.ResourceScore < 1 {
		c.Reasons = append(c.Reasons, fmt.Sprintf("resource fit %.2f", c.ResourceScore))
	}

	budgetTime, budgetMem := budgets(task, criteria.Constraints)
	c.PerformanceScore, c.Estimate = s.performance(e, task, budgetTime, budgetMem)
	c.Reasons = append(c.Reasons, fmt.Sprintf("performance %.2f from %s estimate", c.PerformanceScore, c.Estimate.Source))

	var why []string
	c.ContextMultiplier, why = contextMultiplier(criteria.Context, e.Backend.Capabilities(), res)
	c.Reasons = append(c.Reasons, why...)

	w := s.opts.Weights
	total := w.Resource + w.Performance
	combined := (w.Resource*c.ResourceScore + w.Performance*c.PerformanceScore) / total
	c.Confidence = clamp(combined * c.ContextMultiplier)
	return c
}

// resourceFit averages the per-dimension fit of the task's requirements
// against the backend's declared ranges
func resourceFit(task, be backend.ResourceRequirements) float64 {
	need := task.Dimensions()
	if len(need) == 0 {
		return 1
	}
	have := be.Dimensions()

	var sum float64
	for dim, r := range need {
		br, ok := have[dim]
		if !ok {
			sum++
			continue
		}
		sum += fit(r.Target(), br)
	}
	return sum / float64(len(need))
}

// fit is 1 inside [min,max] and decays linearly to 0 one range width away
func fit(v float64, r backend.Range) float64 {
	if r.Contains(v) {
		return 1
	}
	width := r.Max - r.Min
	if width <= 0 {
		width = math.Max(r.Min, 1)
	}
	var d float64
	if v < r.Min {
		d = r.Min - v
	} else {
		d = v - r.Max
	}
	return math.Max(0, 1-d/width)
}

func budgets(task backend.Task, c Constraints) (time.Duration, float64) {
	t := task.Timeout
	if c.MaxInferenceTime > 0 && (t <= 0 || c.MaxInferenceTime < t) {
		t = c.MaxInferenceTime
	}
	var mem float64
	if task.Requirements.Memory != nil {
		mem = task.Requirements.Memory.Max
	}
	if c.MaxMemoryUsage > 0 && (mem <= 0 || c.MaxMemoryUsage < mem) {
		mem = c.MaxMemoryUsage
	}
	return t, mem
}

func (s *Selector) performance(e backend.Entry, task backend.Task, budgetTime time.Duration, budgetMem float64) (float64, Estimate) {
	static := e.Backend.Capabilities().Performance
	staticScore := neutralPerformance
	est := Estimate{Source: SourceNone, SuccessRate: 1}
	if !static.IsZero() {
		staticScore = s.opts.StaticPenalty * estimateScore(
			static.InferenceTime, static.MemoryUsage, static.Accuracy, budgetTime, budgetMem)
		est = Estimate{
			InferenceTime: static.InferenceTime,
			MemoryUsage:   static.MemoryUsage,
			Throughput:    static.Throughput,
			Accuracy:      static.Accuracy,
			SuccessRate:   1,
			Source:        SourceStatic,
		}
	}

	if s.profiles == nil {
		return staticScore, est
	}
	p := s.profiles.Profile(e.ID, task.Type, task.ModelID)
	if p.SampleSize == 0 {
		return staticScore, est
	}

	var observed float64
	if p.Metrics.InferenceTime.Count > 0 {
		observed = estimateScore(p.MeanInferenceTime(), p.Metrics.MemoryUsage.Mean,
			p.Metrics.Accuracy.Mean, budgetTime, budgetMem)
	}
	observed *= p.SuccessRate

	weight := math.Min(1, float64(p.SampleSize)/float64(s.opts.MinSamples))
	score := weight*observed + (1-weight)*staticScore

	est = Estimate{
		InferenceTime: p.MeanInferenceTime(),
		MemoryUsage:   p.Metrics.MemoryUsage.Mean,
		Throughput:    p.Metrics.Throughput.Mean,
		Accuracy:      p.Metrics.Accuracy.Mean,
		SuccessRate:   p.SuccessRate,
		SampleSize:    p.SampleSize,
		Source:        SourceObserved,
	}
	if weight < 1 {
		est.Source = SourceBlended
	}
	return score, est
}

// estimateScore averages normalized time, memory and (when known) accuracy
func estimateScore(t time.Duration, mem, accuracy float64, budgetTime time.Duration, budgetMem float64) float64 {
	parts := []float64{
		normalize(float64(t)/float64(time.Millisecond), float64(budgetTime)/float64(time.Millisecond), 1000),
		normalize(mem, budgetMem, 1024),
	}
	if accuracy > 0 {
		parts = append(parts, clamp(accuracy))
	}
	var sum float64
	for _, p := range parts {
		sum += p
	}
	return sum / float64(len(parts))
}

// normalize maps a cost to 0..1, higher is better. Within budget the score
// stays in [0.5,1]; over budget it falls toward 0. Without a budget, scale
// is the cost that halves the score.
func normalize(v, budget, scale float64) float64 {
	if v <= 0 {
		return 1
	}
	if budget > 0 {
		if v <= budget {
			return 1 - 0.5*(v/budget)
		}
		return 0.5 * budget / v
	}
	return 1 / (1 + v/scale)
}

// contextMultiplier penalizes backends that suit the device or network badly
func contextMultiplier(ctx Context, caps backend.Capability, res backend.ResourceRequirements) (float64, []string) {
	m := 1.0
	var why []string

	var mem float64
	if res.Memory != nil {
		mem = math.Max(res.Memory.Max, res.Memory.Min)
	}
	switch ctx.DeviceType {
	case DeviceMobile:
		if mem > 512 {
			m *= 0.7
			why = append(why, "high memory on mobile")
		}
	case DeviceEmbedded:
		if mem > 256 {
			m *= 0.6
			why = append(why, "high memory on embedded")
		}
	}

	if caps.HasFeature(backend.FeatureRemote) {
		switch ctx.NetworkCondition {
		case NetworkOffline:
			m *= 0.5
			why = append(why, "remote backend while offline")
		case NetworkPoor:
			m *= 0.8
			why = append(why, "remote backend on poor network")
		}
	}
	return m, why
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
