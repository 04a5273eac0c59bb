package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// doubleWasm exports infer(x f64) f64 returning x + x
var doubleWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type section: (f64) -> f64
	0x01, 0x06, 0x01, 0x60, 0x01, 0x7c, 0x01, 0x7c,
	// function section
	0x03, 0x02, 0x01, 0x00,
	// export "infer"
	0x07, 0x09, 0x01, 0x05, 0x69, 0x6e, 0x66, 0x65, 0x72, 0x00, 0x00,
	// code: local.get 0, local.get 0, f64.add
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x00, 0xa0, 0x0b,
}

func newWASM(t *testing.T) *WASM {
	t.Helper()
	w := NewWASM(WASMConfig{
		Name:       "wasm",
		Capability: Capability{TaskTypes: []TaskType{TaskEmbedding}},
	})
	w.AddModule("double", doubleWasm)
	require.NoError(t, w.Initialize(context.Background()))
	t.Cleanup(func() { _ = w.Shutdown(context.Background()) })
	return w
}

func TestWASM_RunInference(t *testing.T) {
	ctx := context.Background()
	w := newWASM(t)

	assert.True(t, w.Capabilities().HasFeature(FeatureWASM))
	assert.True(t, w.IsAvailable())

	_, err := w.LoadModel(ctx, "double")
	require.NoError(t, err)

	res, err := w.RunInference(ctx, "double", Input{Format: FormatTensor, Data: []float64{1, 2.5, -3}})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 5, -6}, res.Output)
	assert.Equal(t, FormatTensor, res.Format)

	res, err = w.RunInference(ctx, "double", Input{Data: []any{4.0}})
	require.NoError(t, err)
	assert.Equal(t, []float64{8}, res.Output)

	m := w.PerformanceMetrics()
	assert.Equal(t, int64(2), m.TotalInferences)
	assert.Equal(t, 1, m.LoadedModels)
}

func TestWASM_Errors(t *testing.T) {
	ctx := context.Background()
	w := newWASM(t)

	_, err := w.LoadModel(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownModel)

	_, err = w.RunInference(ctx, "double", Input{Data: []float64{1}})
	assert.ErrorIs(t, err, ErrModelNotLoaded)

	_, err = w.LoadModel(ctx, "double")
	require.NoError(t, err)

	_, err = w.RunInference(ctx, "double", Input{Data: "text"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, w.UnloadModel(ctx, "double"))
	assert.ErrorIs(t, w.UnloadModel(ctx, "double"), ErrModelNotLoaded)
	assert.Empty(t, w.ListModels())
}

func TestWASM_RejectsInvalidModule(t *testing.T) {
	ctx := context.Background()
	w := newWASM(t)
	w.AddModule("junk", []byte("not wasm"))

	_, err := w.LoadModel(ctx, "junk")
	assert.Error(t, err)
}
