// internal/monitoring/condition_test.go
package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		expr string
		ctx  AlertContext
		want bool
	}{
		{"cpu_usage > 80", AlertContext{"cpu_usage": 85.0}, true},
		{"cpu_usage > 80", AlertContext{"cpu_usage": 80.0}, false},
		{"cpu_usage >= 80", AlertContext{"cpu_usage": 80.0}, true},
		{"error_rate < 0.05", AlertContext{"error_rate": 0.01}, true},
		{"count <= 3", AlertContext{"count": 3}, true},
		{"count == 3", AlertContext{"count": int64(3)}, true},
		{"count != 3", AlertContext{"count": 3}, false},
		{"delta > -1", AlertContext{"delta": -0.5}, true},
		{"latency > 100", AlertContext{"latency": 150 * time.Millisecond}, true},
		{"missing > 1", AlertContext{}, false},
		{"name > 1", AlertContext{"name": "wasm"}, false},
		{"a > 1 && b > 1", AlertContext{"a": 2.0, "b": 2.0}, true},
		{"a > 1 && b > 1", AlertContext{"a": 2.0, "b": 0.0}, false},
		{"a > 1 || b > 1", AlertContext{"a": 0.0, "b": 2.0}, true},
		{"a > 1 || b > 1 && c > 1", AlertContext{"a": 0.0, "b": 2.0, "c": 0.0}, false},
		{"a > 1 || b > 1 && c > 1", AlertContext{"a": 2.0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			cond, err := ParseCondition(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cond(tt.ctx))
		})
	}
}

func TestParseCondition_Invalid(t *testing.T) {
	for _, expr := range []string{"", "   ", "cpu_usage", "cpu_usage >", "> 80", "cpu_usage ~ 80", "a > 1 &&", "a > 1.2.3"} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseCondition(expr)
			assert.Error(t, err)
		})
	}
}
