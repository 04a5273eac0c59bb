// internal/logging/logger_test.go
package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/FairForge/edgeinfer/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"defaults", Config{}, ""},
		{"json debug", Config{Level: LevelDebug, Format: FormatJSON}, ""},
		{"invalid level", Config{Level: "verbose"}, "level"},
		{"invalid format", Config{Format: "xml"}, "format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("json output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})
		require.NoError(t, err)

		logger.Debug("hidden")
		logger.Info("backend registered", zap.String("backend", "cpu"))
		require.NoError(t, logger.Sync())

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "backend registered", entry["msg"])
		assert.Equal(t, "cpu", entry["backend"])
		assert.Equal(t, "info", entry["level"])
		assert.Contains(t, entry, "time")
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: LevelError, Output: &buf})
		require.NoError(t, err)

		logger.Warn("ignored")
		assert.Zero(t, buf.Len())
		logger.Error("kept")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		_, err := New(Config{Format: "logfmt"})
		assert.Error(t, err)
	})
}

func TestWithContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	ctx := engine.WithRequestID(context.Background(), "req-1")
	ctx = engine.WithClientID(ctx, "edge-7")
	WithContext(ctx, logger).Info("scoped")
	WithContext(context.Background(), logger).Info("bare")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "edge-7", entries[0].ContextMap()["client_id"])
	assert.Empty(t, entries[1].ContextMap())
}
