// internal/monitoring/alerts_test.go
package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAlertRules_Defaults(t *testing.T) {
	h := newHarness(t, nil)

	rules := h.sys.AlertRules()
	require.Len(t, rules, 3)
	assert.Equal(t, RuleHighCPU, rules[0].ID)
	assert.Equal(t, RuleHighMemory, rules[1].ID)
	assert.Equal(t, RuleHighErrorRate, rules[2].ID)
	assert.Equal(t, SeverityCritical, rules[2].Severity)

	tests := []struct {
		rule string
		ctx  AlertContext
		want bool
	}{
		{RuleHighCPU, AlertContext{MetricCPUUsage: 81.0}, true},
		{RuleHighCPU, AlertContext{MetricCPUUsage: 80.0}, false},
		{RuleHighMemory, AlertContext{MetricMemoryUsage: 90.0}, true},
		{RuleHighMemory, AlertContext{}, false},
		{RuleHighErrorRate, AlertContext{MetricErrorRate: 0.2}, true},
		{RuleHighErrorRate, AlertContext{MetricErrorRate: 0.01}, false},
	}
	byID := make(map[string]AlertRule)
	for _, r := range rules {
		byID[r.ID] = r
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			assert.Equal(t, tt.want, h.sys.evaluateAlertRule(byID[tt.rule], tt.ctx))
		})
	}
}

func TestAddRemoveAlertRule(t *testing.T) {
	h := newHarness(t, nil)
	before := len(h.sys.AlertRules())

	require.NoError(t, h.sys.AddAlertRule(AlertRule{
		ID:        "slow-inference",
		Condition: func(c AlertContext) bool { v, _ := c.Float(MetricInferenceTime); return v > 500 },
		Message:   "Inference took {inference_time_ms}ms",
	}))
	assert.Len(t, h.sys.AlertRules(), before+1)

	t.Run("replacing keeps the count", func(t *testing.T) {
		require.NoError(t, h.sys.AddAlertRule(AlertRule{ID: "slow-inference", Expr: "inference_time_ms > 1000"}))
		assert.Len(t, h.sys.AlertRules(), before+1)
	})

	assert.True(t, h.sys.RemoveAlertRule("slow-inference"))
	assert.Len(t, h.sys.AlertRules(), before)
	assert.False(t, h.sys.RemoveAlertRule("slow-inference"))

	t.Run("validation", func(t *testing.T) {
		assert.Error(t, h.sys.AddAlertRule(AlertRule{Expr: "x > 1"}), "missing id")
		assert.Error(t, h.sys.AddAlertRule(AlertRule{ID: "no-condition"}))
		assert.Error(t, h.sys.AddAlertRule(AlertRule{ID: "bad-expr", Expr: "x >> 1"}))
		assert.Len(t, h.sys.AlertRules(), before)
	})
}

func TestEvaluateAlertRule_PanicIsContained(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := newHarness(t, nil)
	h.sys.logger = zap.New(core)

	broken := AlertRule{
		ID:        "broken",
		Severity:  SeverityWarning,
		Condition: func(c AlertContext) bool { return c["missing"].(float64) > 1 },
	}
	require.NoError(t, h.sys.AddAlertRule(broken))
	require.NoError(t, h.sys.AddAlertRule(AlertRule{ID: "fine", Expr: "x > 0"}))

	assert.False(t, h.sys.evaluateAlertRule(broken, AlertContext{}))
	assert.Equal(t, 1, logs.FilterMessage("alert rule evaluation failed").Len())

	var raised []Alert
	require.NotPanics(t, func() {
		raised = h.sys.CheckAlerts(AlertContext{"x": 1.0})
	})
	require.Len(t, raised, 1)
	assert.Equal(t, "fine", raised[0].RuleID)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.sys.exporter.ruleErrors))
}

func TestCheckAlerts_RecordsEvent(t *testing.T) {
	h := newHarness(t, nil)

	var got []Event
	h.sys.Subscribe(EventAlert, func(e Event) error {
		got = append(got, e)
		return nil
	})

	raised := h.sys.CheckAlerts(AlertContext{MetricErrorRate: 0.5, "source": "engine"})
	require.Len(t, raised, 1)
	a := raised[0]
	assert.Regexp(t, `^alert_`, a.ID)
	assert.Equal(t, "engine", a.Source)
	assert.Equal(t, "Inference error rate is 0.50", a.Message)
	assert.Equal(t, 0.5, a.Data[MetricErrorRate])

	require.Len(t, got, 1)
	assert.Equal(t, LevelCritical, got[0].Level)
	assert.Equal(t, a.ID, got[0].Data["alert_id"])
	assert.Equal(t, 1.0, testutil.ToFloat64(h.sys.exporter.alerts.WithLabelValues(RuleHighErrorRate, SeverityCritical)))
}

func TestInterpolate(t *testing.T) {
	ctx := AlertContext{
		"value":   95.456,
		"backend": "wasm",
		"count":   3,
		"{value}": "loop",
	}
	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"float", "Value exceeded threshold: {value}", "Value exceeded threshold: 95.46"},
		{"string", "backend {backend} is down", "backend wasm is down"},
		{"int", "{count} failures", "3 failures"},
		{"missing stays", "{nope} and {value}", "{nope} and 95.46"},
		{"no placeholders", "plain", "plain"},
		{"not recursive", "{backend}{value}", "wasm95.46"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, interpolate(tt.tmpl, ctx))
		})
	}
}

func TestAcknowledgeAndResolve(t *testing.T) {
	h := newHarness(t, nil)
	raised := h.sys.CheckAlerts(AlertContext{MetricCPUUsage: 99.0})
	require.Len(t, raised, 1)
	id := raised[0].ID

	require.NoError(t, h.sys.AcknowledgeAlert(id))
	assert.True(t, h.sys.Alerts()[0].Acknowledged)
	assert.Len(t, h.sys.ActiveAlerts(), 1, "acknowledged alerts stay active")

	h.clock.Advance(time.Minute)
	require.NoError(t, h.sys.ResolveAlert(id))
	a := h.sys.Alerts()[0]
	assert.True(t, a.Resolved)
	assert.Equal(t, h.clock.Now(), a.ResolvedAt)
	assert.Empty(t, h.sys.ActiveAlerts())

	t.Run("fires again after manual resolve", func(t *testing.T) {
		again := h.sys.CheckAlerts(AlertContext{MetricCPUUsage: 99.0})
		assert.Len(t, again, 1)
	})

	t.Run("unknown id", func(t *testing.T) {
		assert.ErrorIs(t, h.sys.AcknowledgeAlert("alert_missing"), ErrAlertNotFound)
		assert.ErrorIs(t, h.sys.ResolveAlert("alert_missing"), ErrAlertNotFound)
	})
}

func TestGetRecentAlerts(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sys.AddAlertRule(AlertRule{ID: "old", Expr: "phase == 1"}))
	require.NoError(t, h.sys.AddAlertRule(AlertRule{ID: "new", Expr: "phase == 2"}))

	h.sys.CheckAlerts(AlertContext{"phase": 1})
	h.clock.Advance(10 * time.Minute)
	h.sys.CheckAlerts(AlertContext{"phase": 2})

	recent := h.sys.GetRecentAlerts(5 * time.Minute)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].RuleID)

	assert.Len(t, h.sys.GetRecentAlerts(time.Hour), 2)
}
