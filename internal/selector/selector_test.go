package selector

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
	"github.com/FairForge/edgeinfer/internal/profiler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sim(t *testing.T, name string, types []backend.TaskType, mem *backend.Range, features ...string) *backend.Simulated {
	t.Helper()
	b := backend.NewSimulated(backend.SimulatedConfig{
		Name: name,
		Capability: backend.Capability{
			TaskTypes: types,
			Features:  features,
		},
		Resources: backend.ResourceRequirements{Memory: mem},
	})
	require.NoError(t, b.Initialize(context.Background()))
	return b
}

func scenarioRegistry(t *testing.T) *backend.Registry {
	r := backend.NewRegistry()
	r.Register("A", sim(t, "A", []backend.TaskType{backend.TaskClassification}, &backend.Range{Min: 200, Max: 500}))
	r.Register("B", sim(t, "B", []backend.TaskType{backend.TaskObjectDetection}, &backend.Range{Min: 150, Max: 400}))
	return r
}

func TestSelectBackend_Scenario(t *testing.T) {
	ctx := context.Background()
	s := New(scenarioRegistry(t), profiler.New(profiler.Config{}, nil), Options{}, zap.NewNop())

	cls := backend.Task{
		ID:   "t1",
		Type: backend.TaskClassification,
		Requirements: backend.ResourceRequirements{
			Memory: &backend.Range{Min: 100, Max: 300, Optimal: 250},
		},
	}
	sel, err := s.SelectBackend(ctx, cls, nil)
	require.NoError(t, err)
	assert.Equal(t, "A", sel.BackendID)
	assert.Greater(t, sel.Confidence, 0.3)
	assert.LessOrEqual(t, sel.Confidence, 1.0)

	det := backend.Task{ID: "t2", Type: backend.TaskObjectDetection}
	sel, err = s.SelectBackend(ctx, det, nil)
	require.NoError(t, err)
	assert.Equal(t, "B", sel.BackendID)
	assert.Greater(t, sel.Confidence, 0.5)
	assert.Empty(t, sel.Alternatives)
}

func TestSelectBackend_NoEligibleBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported type", func(t *testing.T) {
		s := New(scenarioRegistry(t), nil, Options{}, nil)
		_, err := s.SelectBackend(ctx, backend.Task{Type: backend.TaskSpeechRecognition}, nil)

		var ne *NoEligibleBackendError
		require.True(t, errors.As(err, &ne))
		assert.Len(t, ne.Rejected, 2)
		assert.Contains(t, err.Error(), "not supported")
	})

	t.Run("empty registry", func(t *testing.T) {
		s := New(backend.NewRegistry(), nil, Options{}, nil)
		_, err := s.SelectBackend(ctx, backend.Task{Type: backend.TaskClassification}, nil)

		var ne *NoEligibleBackendError
		require.True(t, errors.As(err, &ne))
		assert.Contains(t, err.Error(), "no backends registered")
	})

	t.Run("unavailable backend", func(t *testing.T) {
		r := backend.NewRegistry()
		b := sim(t, "down", []backend.TaskType{backend.TaskOCR}, nil)
		b.SetHealth(backend.HealthUnhealthy)
		r.Register("down", b)

		s := New(r, nil, Options{}, nil)
		_, err := s.SelectBackend(ctx, backend.Task{Type: backend.TaskOCR}, nil)
		var ne *NoEligibleBackendError
		require.True(t, errors.As(err, &ne))
		assert.Equal(t, "unavailable", ne.Rejected["down"])
	})

	t.Run("excluded and missing feature", func(t *testing.T) {
		s := New(scenarioRegistry(t), nil, Options{}, nil)
		_, err := s.SelectBackend(ctx, backend.Task{Type: backend.TaskClassification},
			&Criteria{Exclude: []string{"A"}})
		var ne *NoEligibleBackendError
		assert.True(t, errors.As(err, &ne))

		_, err = s.SelectBackend(ctx, backend.Task{Type: backend.TaskClassification},
			&Criteria{Constraints: Constraints{RequiredFeatures: []string{backend.FeatureGPU}}})
		assert.True(t, errors.As(err, &ne))
	})
}

func TestSelectBackend_InputFormatFilter(t *testing.T) {
	r := backend.NewRegistry()
	text := backend.NewSimulated(backend.SimulatedConfig{
		Name: "text",
		Capability: backend.Capability{
			TaskTypes:    []backend.TaskType{backend.TaskEmbedding},
			InputFormats: []backend.DataFormat{backend.FormatText},
		},
	})
	require.NoError(t, text.Initialize(context.Background()))
	r.Register("text", text)

	s := New(r, nil, Options{}, nil)
	task := backend.Task{Type: backend.TaskEmbedding, Input: backend.Input{Format: backend.FormatImage}}
	_, err := s.SelectBackend(context.Background(), task, nil)
	var ne *NoEligibleBackendError
	assert.True(t, errors.As(err, &ne))

	task.Input.Format = backend.FormatText
	sel, err := s.SelectBackend(context.Background(), task, nil)
	require.NoError(t, err)
	assert.Equal(t, "text", sel.BackendID)
}

func TestSelectBackend_TiesKeepRegistryOrder(t *testing.T) {
	r := backend.NewRegistry()
	for _, id := range []string{"z", "a", "m"} {
		r.Register(id, sim(t, id, []backend.TaskType{backend.TaskClassification}, nil))
	}
	s := New(r, nil, Options{}, nil)

	ranked, err := s.Rank(context.Background(), backend.Task{Type: backend.TaskClassification}, nil)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "z", ranked[0].BackendID)
	assert.Equal(t, "a", ranked[1].BackendID)
	assert.Equal(t, "m", ranked[2].BackendID)
	assert.Equal(t, ranked[0].Confidence, ranked[2].Confidence)
}

func TestSelectBackend_ResourceFit(t *testing.T) {
	tests := []struct {
		name     string
		v        float64
		r        backend.Range
		expected float64
	}{
		{"inside", 250, backend.Range{Min: 200, Max: 500}, 1},
		{"below by half width", 50, backend.Range{Min: 200, Max: 500}, 0.5},
		{"above by full width", 800, backend.Range{Min: 200, Max: 500}, 0},
		{"unbounded max", 10000, backend.Range{Min: 200}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, fit(tt.v, tt.r), 0.0001)
		})
	}

	task := backend.ResourceRequirements{
		Memory: &backend.Range{Optimal: 250},
		CPU:    &backend.Range{Optimal: 8},
	}
	be := backend.ResourceRequirements{
		Memory: &backend.Range{Min: 200, Max: 500},
		CPU:    &backend.Range{Min: 1, Max: 4},
	}
	assert.InDelta(t, 0.5, resourceFit(task, be), 0.0001)
	assert.Equal(t, 1.0, resourceFit(backend.ResourceRequirements{}, be))
}

func TestSelectBackend_LearnsFromHistory(t *testing.T) {
	ctx := context.Background()
	r := backend.NewRegistry()
	r.Register("slow", sim(t, "slow", []backend.TaskType{backend.TaskClassification}, nil))
	r.Register("fast", sim(t, "fast", []backend.TaskType{backend.TaskClassification}, nil))

	p := profiler.New(profiler.Config{}, nil)
	s := New(r, p, Options{}, nil)
	task := backend.Task{Type: backend.TaskClassification, ModelID: "m", Timeout: time.Second}

	sel, err := s.SelectBackend(ctx, task, nil)
	require.NoError(t, err)
	assert.Equal(t, "slow", sel.BackendID)
	assert.Equal(t, SourceNone, sel.EstimatedPerformance.Source)

	for i := 0; i < 10; i++ {
		p.RecordExecution("slow", task.Type, "m", profiler.Sample{InferenceTime: 900 * time.Millisecond, MemoryUsage: 100, Success: true})
		p.RecordExecution("fast", task.Type, "m", profiler.Sample{InferenceTime: 20 * time.Millisecond, MemoryUsage: 100, Success: true})
	}

	sel, err = s.SelectBackend(ctx, task, nil)
	require.NoError(t, err)
	assert.Equal(t, "fast", sel.BackendID)
	assert.Equal(t, SourceObserved, sel.EstimatedPerformance.Source)
	assert.Equal(t, 20*time.Millisecond, sel.EstimatedPerformance.InferenceTime)
	require.Len(t, sel.Alternatives, 1)
	assert.Equal(t, "slow", sel.Alternatives[0].BackendID)
}

func TestSelectBackend_StaticEstimate(t *testing.T) {
	r := backend.NewRegistry()
	quick := backend.NewSimulated(backend.SimulatedConfig{
		Name: "quick",
		Capability: backend.Capability{
			TaskTypes:   []backend.TaskType{backend.TaskOCR},
			Performance: backend.PerformanceEstimate{InferenceTime: 10 * time.Millisecond, MemoryUsage: 50},
		},
	})
	require.NoError(t, quick.Initialize(context.Background()))
	r.Register("unknown", sim(t, "unknown", []backend.TaskType{backend.TaskOCR}, nil))
	r.Register("quick", quick)

	s := New(r, nil, Options{}, nil)
	sel, err := s.SelectBackend(context.Background(), backend.Task{Type: backend.TaskOCR}, nil)
	require.NoError(t, err)
	assert.Equal(t, "quick", sel.BackendID)
	assert.Equal(t, SourceStatic, sel.EstimatedPerformance.Source)
}

func TestSelectBackend_ContextPenalty(t *testing.T) {
	ctx := context.Background()
	r := backend.NewRegistry()
	r.Register("big", sim(t, "big", []backend.TaskType{backend.TaskTextGeneration}, &backend.Range{Min: 1024, Max: 4096}))
	r.Register("cloud", sim(t, "cloud", []backend.TaskType{backend.TaskTextGeneration}, nil, backend.FeatureRemote))
	r.Register("small", sim(t, "small", []backend.TaskType{backend.TaskTextGeneration}, &backend.Range{Min: 64, Max: 256}))
	s := New(r, nil, Options{}, nil)
	task := backend.Task{Type: backend.TaskTextGeneration}

	sel, err := s.SelectBackend(ctx, task, &Criteria{Context: Context{DeviceType: DeviceMobile, NetworkCondition: NetworkOffline}})
	require.NoError(t, err)
	assert.Equal(t, "small", sel.BackendID)

	ranked, err := s.Rank(ctx, task, &Criteria{Context: Context{DeviceType: DeviceMobile, NetworkCondition: NetworkOffline}})
	require.NoError(t, err)
	byID := map[string]Candidate{}
	for _, c := range ranked {
		byID[c.BackendID] = c
	}
	assert.InDelta(t, 0.7, byID["big"].ContextMultiplier, 0.0001)
	assert.InDelta(t, 0.5, byID["cloud"].ContextMultiplier, 0.0001)
	assert.InDelta(t, 1.0, byID["small"].ContextMultiplier, 0.0001)
}

func TestSelectBackend_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(scenarioRegistry(t), nil, Options{}, nil)
	_, err := s.SelectBackend(ctx, backend.Task{Type: backend.TaskClassification}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWeights_Validate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{"defaults", DefaultWeights(), false},
		{"zero", Weights{}, false},
		{"performance only", Weights{Performance: 1}, false},
		{"negative resource", Weights{Resource: -1, Performance: 1}, true},
		{"negative performance", Weights{Resource: 1, Performance: -0.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_RejectsNegativeWeights(t *testing.T) {
	s := New(scenarioRegistry(t), nil, Options{Weights: Weights{Resource: 1, Performance: -1}}, nil)
	assert.Equal(t, DefaultWeights(), s.opts.Weights)

	ranked, err := s.Rank(context.Background(), backend.Task{Type: backend.TaskClassification}, nil)
	require.NoError(t, err)
	for _, c := range ranked {
		assert.False(t, math.IsNaN(c.Confidence), c.BackendID)
	}
}
