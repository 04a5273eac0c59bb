package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sample = `
server:
  addr: ":9000"
  rate_limit: 5
  shutdown_timeout: 3s
logging:
  level: debug
  format: json
engine:
  max_attempts: 3
  default_timeout: 2s
selector:
  weights:
    resource: 0.3
    performance: 0.7
monitoring:
  collection_interval: 10s
  max_events: 500
  alert_rules:
    - id: slow-inference
      condition: "inference_time_ms > 250"
      severity: critical
backends:
  - id: cpu
    type: simulated
    latency: 5ms
    capability:
      task_types: [classification]
      input_formats: [json]
`

func TestLoadFromBytes(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 5.0, cfg.Server.RateLimit)
	assert.Equal(t, 100, cfg.Server.Burst)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Engine.DefaultTimeout)
	assert.Equal(t, 0.7, cfg.Selector.Weights.Performance)
	assert.Equal(t, 10, cfg.Selector.MinSamples)

	assert.Equal(t, 10*time.Second, cfg.Monitoring.CollectionInterval)
	assert.Equal(t, 24*time.Hour, cfg.Monitoring.RetentionPeriod)
	assert.Equal(t, 500, cfg.Monitoring.MaxEvents)
	assert.True(t, cfg.Monitoring.EnableAnalytics)
	require.Len(t, cfg.Monitoring.AlertRules, 1)
	assert.Equal(t, "slow-inference", cfg.Monitoring.AlertRules[0].ID)

	require.Len(t, cfg.Backends, 1)
	b := cfg.Backends[0]
	assert.Equal(t, 5*time.Millisecond, b.Latency.Duration)
	assert.Equal(t, []backend.TaskType{backend.TaskClassification}, b.Capability.TaskTypes)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = LoadFromBytes([]byte("server:\n  shutdown_timeout: soon\n"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EDGEINFER_ADDR", ":7000")
	t.Setenv("EDGEINFER_LOG_LEVEL", "warn")
	t.Setenv("EDGEINFER_RATE_LIMIT", "2.5")
	t.Setenv("EDGEINFER_COLLECTION_INTERVAL", "1s")
	t.Setenv("EDGEINFER_MAX_EVENTS", "42")

	cfg, err := LoadFromBytes([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
	assert.Equal(t, time.Second, cfg.Monitoring.CollectionInterval)
	assert.Equal(t, 42, cfg.Monitoring.MaxEvents)

	t.Setenv("EDGEINFER_RETENTION_PERIOD", "forever")
	_, err = LoadFromBytes(nil)
	assert.Error(t, err)
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("EDGEINFER_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnvOrDefault("EDGEINFER_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnvOrDefault("EDGEINFER_TEST_UNSET", "fallback"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"negative weight", func(c *Config) { c.Selector.Weights.Resource = -0.1 }},
		{"monitoring", func(c *Config) { c.Monitoring.MaxEvents = -1 }},
		{"backend id", func(c *Config) {
			c.Backends = []BackendConfig{{Type: BackendSimulated}}
		}},
		{"duplicate backend", func(c *Config) {
			c.Backends = []BackendConfig{{ID: "a", Type: BackendSimulated}, {ID: "a", Type: BackendSimulated}}
		}},
		{"backend type", func(c *Config) {
			c.Backends = []BackendConfig{{ID: "a", Type: "tpu"}}
		}},
		{"wasm without modules", func(c *Config) {
			c.Backends = []BackendConfig{{ID: "a", Type: BackendWASM}}
		}},
	}

	assert.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBackendConfig_Build(t *testing.T) {
	dir := t.TempDir()

	sim, err := BackendConfig{ID: "cpu", Type: BackendSimulated}.Build(dir)
	require.NoError(t, err)
	assert.Equal(t, "cpu", sim.Name())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "double.wasm"), []byte{0x00, 0x61, 0x73, 0x6d}, 0o600))
	w, err := BackendConfig{
		ID:      "edge",
		Type:    BackendWASM,
		Name:    "edge-wasm",
		Modules: map[string]string{"double": "double.wasm"},
	}.Build(dir)
	require.NoError(t, err)
	assert.Equal(t, "edge-wasm", w.Name())
	assert.True(t, w.Capabilities().HasFeature(backend.FeatureWASM))

	_, err = BackendConfig{ID: "edge", Type: BackendWASM, Modules: map[string]string{"x": "missing.wasm"}}.Build(dir)
	assert.Error(t, err)

	_, err = BackendConfig{ID: "x", Type: "tpu"}.Build(dir)
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edgeinfer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("monitoring:\n  max_events: 10\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 8)
	require.NoError(t, Watch(ctx, path, zap.NewNop(), func(c *Config) { reloaded <- c }))

	// Invalid edits are skipped
	require.NoError(t, os.WriteFile(path, []byte("monitoring:\n  max_events: -5\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("monitoring:\n  max_events: 20\n"), 0o600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			require.GreaterOrEqual(t, cfg.Monitoring.MaxEvents, 0)
			if cfg.Monitoring.MaxEvents == 20 {
				return
			}
		case <-deadline:
			t.Fatal("config change was not observed")
		}
	}
}
