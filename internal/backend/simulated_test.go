package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_Lifecycle(t *testing.T) {
	ctx := context.Background()
	b := NewSimulated(SimulatedConfig{
		Name: "sim",
		Capability: Capability{
			TaskTypes:     []TaskType{TaskClassification},
			InputFormats:  []DataFormat{FormatImage},
			OutputFormats: []DataFormat{FormatJSON},
		},
		Latency: time.Millisecond,
	})

	assert.False(t, b.IsAvailable())
	_, err := b.LoadModel(ctx, "m1")
	var unavailable *UnavailableError
	assert.True(t, errors.As(err, &unavailable))

	require.NoError(t, b.Initialize(ctx))
	assert.True(t, b.IsAvailable())
	assert.Equal(t, HealthHealthy, b.Health(ctx).State)

	t.Run("inference before load fails", func(t *testing.T) {
		_, err := b.RunInference(ctx, "m1", Input{Format: FormatImage})
		assert.ErrorIs(t, err, ErrModelNotLoaded)
	})

	t.Run("load then infer", func(t *testing.T) {
		lm, err := b.LoadModel(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "m1", lm.ModelID)

		again, err := b.LoadModel(ctx, "m1")
		require.NoError(t, err)
		assert.Same(t, lm, again)

		res, err := b.RunInference(ctx, "m1", Input{Format: FormatImage, Dimensions: []int{224, 224}})
		require.NoError(t, err)
		assert.Equal(t, FormatJSON, res.Format)
		assert.Greater(t, res.InferenceTime, time.Duration(0))
		assert.Equal(t, []string{"m1"}, b.ListModels())
	})

	t.Run("rejects wrong input format", func(t *testing.T) {
		_, err := b.RunInference(ctx, "m1", Input{Format: FormatText})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("batch", func(t *testing.T) {
		results, err := b.RunBatchInference(ctx, "m1", []Input{{Format: FormatImage}, {Format: FormatImage}})
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("metrics", func(t *testing.T) {
		m := b.PerformanceMetrics()
		assert.Equal(t, int64(5), m.TotalInferences)
		assert.Equal(t, int64(2), m.FailedInferences)
		assert.InDelta(t, 0.4, m.ErrorRate(), 0.001)
		assert.Equal(t, 1, m.LoadedModels)
		assert.Greater(t, m.AverageLatency, time.Duration(0))
	})

	t.Run("unload", func(t *testing.T) {
		require.NoError(t, b.UnloadModel(ctx, "m1"))
		assert.ErrorIs(t, b.UnloadModel(ctx, "m1"), ErrModelNotLoaded)
		assert.Empty(t, b.ListModels())
	})

	require.NoError(t, b.Shutdown(ctx))
	assert.False(t, b.IsAvailable())
	assert.Equal(t, HealthUnhealthy, b.Health(ctx).State)
}

func TestSimulated_HonorsContext(t *testing.T) {
	b := NewSimulated(SimulatedConfig{
		Name:       "slow",
		Capability: Capability{TaskTypes: []TaskType{TaskEmbedding}},
		Latency:    time.Second,
	})
	require.NoError(t, b.Initialize(context.Background()))
	_, err := b.LoadModel(context.Background(), "m")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = b.RunInference(ctx, "m", Input{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulated_UnhealthyIsUnavailable(t *testing.T) {
	b := newTestBackend("sick", TaskOCR)
	require.NoError(t, b.Initialize(context.Background()))

	b.SetHealth(HealthUnhealthy)
	assert.False(t, b.IsAvailable())

	b.SetHealth(HealthDegraded)
	assert.True(t, b.IsAvailable())
}

func TestSimulated_OptimizeForTask(t *testing.T) {
	b := newTestBackend("opt", TaskClassification)
	ctx := context.Background()

	assert.Equal(t, time.Millisecond, b.latency())
	assert.NoError(t, b.OptimizeForTask(ctx, TaskClassification))
	assert.Equal(t, 800*time.Microsecond, b.latency())
	assert.Error(t, b.OptimizeForTask(ctx, TaskOCR))
}
