// internal/backend/wasm.go
package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// inferExport is the function every WASM model must export: infer(f64) f64
const inferExport = "infer"

// WASMConfig configures a WASM backend
type WASMConfig struct {
	Name       string
	Capability Capability
	Resources  ResourceRequirements
}

type wasmModel struct {
	compiled wazero.CompiledModule
	module   api.Module
	infer    api.Function
	loaded   *LoadedModel
}

// WASM runs models shipped as WebAssembly modules. Each model is applied
// element-wise to a []float64 input.
type WASM struct {
	config WASMConfig

	mu      sync.Mutex
	runtime wazero.Runtime
	sources map[string][]byte
	models  map[string]*wasmModel
	metrics Metrics
	started time.Time
	latency time.Duration
}

// NewWASM creates a WASM backend. Modules are staged with AddModule.
func NewWASM(config WASMConfig) *WASM {
	if !config.Capability.HasFeature(FeatureWASM) {
		config.Capability.Features = append(config.Capability.Features, FeatureWASM)
	}
	return &WASM{
		config:  config,
		sources: make(map[string][]byte),
		models:  make(map[string]*wasmModel),
	}
}

// AddModule stages the wasm bytes for a model id
func (w *WASM) AddModule(modelID string, wasm []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sources[modelID] = wasm
}

// Name returns the backend name
func (w *WASM) Name() string { return w.config.Name }

// Capabilities returns the declared capability set
func (w *WASM) Capabilities() Capability { return w.config.Capability }

// Resources returns the declared resource profile
func (w *WASM) Resources() ResourceRequirements { return w.config.Resources }

// Initialize creates the wazero runtime
func (w *WASM) Initialize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.runtime != nil {
		return nil
	}
	r := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)
	w.runtime = r
	w.started = time.Now()
	return nil
}

// Shutdown closes every module and the runtime
func (w *WASM) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.runtime == nil {
		return nil
	}
	err := w.runtime.Close(ctx)
	w.runtime = nil
	w.models = make(map[string]*wasmModel)
	w.metrics.LoadedModels = 0
	return err
}

// IsAvailable reports whether the runtime is up
func (w *WASM) IsAvailable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runtime != nil
}

// Health reports the runtime state
func (w *WASM) Health(ctx context.Context) HealthStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := HealthStatus{State: HealthHealthy, LastCheck: time.Now()}
	if w.runtime == nil {
		status.State = HealthUnhealthy
		status.Message = "runtime not initialized"
	}
	return status
}

// LoadModel compiles and instantiates the staged module for modelID
func (w *WASM) LoadModel(ctx context.Context, modelID string) (*LoadedModel, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.runtime == nil {
		return nil, ErrUnavailable(w.config.Name, "runtime not initialized")
	}
	if m, ok := w.models[modelID]; ok {
		return m.loaded, nil
	}
	src, ok := w.sources[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: no module staged for %s", ErrUnknownModel, modelID)
	}

	compiled, err := w.runtime.CompileModule(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	mod, err := w.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(modelID))
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("instantiate module: %w", err)
	}
	fn := mod.ExportedFunction(inferExport)
	if fn == nil {
		_ = mod.Close(ctx)
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("module %s does not export %q", modelID, inferExport)
	}

	lm := &LoadedModel{
		ModelID:     modelID,
		LoadedAt:    time.Now(),
		MemoryUsage: float64(len(src)) / (1024 * 1024),
	}
	w.models[modelID] = &wasmModel{compiled: compiled, module: mod, infer: fn, loaded: lm}
	w.metrics.LoadedModels = len(w.models)
	return lm, nil
}

// UnloadModel closes the module instance
func (w *WASM) UnloadModel(ctx context.Context, modelID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	m, ok := w.models[modelID]
	if !ok {
		return ErrNotLoaded(w.config.Name, modelID)
	}
	delete(w.models, modelID)
	w.metrics.LoadedModels = len(w.models)
	if err := m.module.Close(ctx); err != nil {
		return err
	}
	return m.compiled.Close(ctx)
}

// ListModels returns loaded model ids, sorted
func (w *WASM) ListModels() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.models))
	for id := range w.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunInference applies the module's infer function to each input value
func (w *WASM) RunInference(ctx context.Context, modelID string, input Input) (*Result, error) {
	values, err := toFloats(input.Data)
	if err != nil {
		w.recordFailure()
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	m, ok := w.models[modelID]
	if !ok {
		w.metrics.TotalInferences++
		w.metrics.FailedInferences++
		return nil, ErrNotLoaded(w.config.Name, modelID)
	}

	start := time.Now()
	out := make([]float64, len(values))
	for i, v := range values {
		res, err := m.infer.Call(ctx, api.EncodeF64(v))
		if err != nil {
			w.metrics.TotalInferences++
			w.metrics.FailedInferences++
			return nil, fmt.Errorf("call %s: %w", inferExport, err)
		}
		out[i] = api.DecodeF64(res[0])
	}
	elapsed := time.Since(start)

	w.metrics.TotalInferences++
	w.latency += elapsed

	return &Result{
		Output:        out,
		Format:        FormatTensor,
		InferenceTime: elapsed,
		MemoryUsage:   m.loaded.MemoryUsage,
	}, nil
}

// RunBatchInference runs each input in order
func (w *WASM) RunBatchInference(ctx context.Context, modelID string, inputs []Input) ([]*Result, error) {
	results := make([]*Result, 0, len(inputs))
	for i, in := range inputs {
		res, err := w.RunInference(ctx, modelID, in)
		if err != nil {
			return results, fmt.Errorf("batch item %d: %w", i, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// OptimizeForTask is a no-op; compiled modules are already optimized
func (w *WASM) OptimizeForTask(ctx context.Context, taskType TaskType) error {
	if !w.config.Capability.Supports(taskType) {
		return fmt.Errorf("%s does not support %s", w.config.Name, taskType)
	}
	return nil
}

// PerformanceMetrics reports the counters collected so far
func (w *WASM) PerformanceMetrics() Metrics {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.metrics
	if ok := m.TotalInferences - m.FailedInferences; ok > 0 {
		m.AverageLatency = w.latency / time.Duration(ok)
	}
	for _, model := range w.models {
		m.MemoryUsage += model.loaded.MemoryUsage
	}
	if !w.started.IsZero() {
		if elapsed := time.Since(w.started).Seconds(); elapsed > 0 {
			m.Throughput = float64(m.TotalInferences) / elapsed
		}
	}
	return m
}

func (w *WASM) recordFailure() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics.TotalInferences++
	w.metrics.FailedInferences++
}

func toFloats(data any) ([]float64, error) {
	switch v := data.(type) {
	case []float64:
		return v, nil
	case float64:
		return []float64{v}, nil
	case []any:
		out := make([]float64, len(v))
		for i, item := range v {
			f, ok := item.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T", ErrInvalidInput, i, item)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected numeric data, got %T", ErrInvalidInput, data)
	}
}
