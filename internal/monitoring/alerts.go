// internal/monitoring/alerts.go
package monitoring

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Built-in rule ids
const (
	RuleHighCPU       = "high-cpu-usage"
	RuleHighMemory    = "high-memory-usage"
	RuleHighErrorRate = "high-error-rate"
)

func defaultRules() []AlertRule {
	decl := []RuleConfig{
		{
			ID:          RuleHighCPU,
			Name:        "High CPU usage",
			Description: "Host CPU usage is above 80%",
			Severity:    SeverityWarning,
			Category:    "system",
			Condition:   "cpu_usage > 80",
			Message:     "CPU usage is {cpu_usage}%",
		},
		{
			ID:          RuleHighMemory,
			Name:        "High memory usage",
			Description: "Host memory usage is above 85%",
			Severity:    SeverityWarning,
			Category:    "system",
			Condition:   "memory_usage > 85",
			Message:     "Memory usage is {memory_usage}%",
		},
		{
			ID:          RuleHighErrorRate,
			Name:        "High error rate",
			Description: "More than 5% of inferences are failing",
			Severity:    SeverityCritical,
			Category:    "performance",
			Condition:   "error_rate > 0.05",
			Message:     "Inference error rate is {error_rate}",
		},
	}

	rules := make([]AlertRule, 0, len(decl))
	for i := range decl {
		r, err := decl[i].Rule()
		if err != nil {
			panic(err)
		}
		rules = append(rules, r)
	}
	return rules
}

// putRule adds or replaces a rule. A replaced rule keeps its position.
func (s *System) putRule(r AlertRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		s.ruleOrder = append(s.ruleOrder, r.ID)
	}
	s.rules[r.ID] = r
}

// AddAlertRule adds a rule, replacing any rule with the same id
func (s *System) AddAlertRule(r AlertRule) error {
	if r.ID == "" {
		return errors.New("monitoring: rule id is required")
	}
	if r.Condition == nil {
		if r.Expr == "" {
			return fmt.Errorf("monitoring: rule %s: condition is required", r.ID)
		}
		cond, err := ParseCondition(r.Expr)
		if err != nil {
			return fmt.Errorf("monitoring: rule %s: %w", r.ID, err)
		}
		r.Condition = cond
	}
	if r.Name == "" {
		r.Name = r.ID
	}
	if r.Severity == "" {
		r.Severity = SeverityWarning
	}
	s.putRule(r)
	s.logger.Info("alert rule added", zap.String("rule", r.ID), zap.String("severity", r.Severity))
	return nil
}

// RemoveAlertRule removes a rule and reports whether it existed
func (s *System) RemoveAlertRule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return false
	}
	delete(s.rules, id)
	for i, rid := range s.ruleOrder {
		if rid == id {
			s.ruleOrder = append(s.ruleOrder[:i:i], s.ruleOrder[i+1:]...)
			break
		}
	}
	return true
}

// AlertRules returns the rules in insertion order
func (s *System) AlertRules() []AlertRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AlertRule, 0, len(s.ruleOrder))
	for _, id := range s.ruleOrder {
		out = append(out, s.rules[id])
	}
	return out
}

// evaluateAlertRule runs a rule condition. A panicking condition is logged
// and counts as false.
func (s *System) evaluateAlertRule(r AlertRule, actx AlertContext) (fired bool) {
	defer func() {
		if rec := recover(); rec != nil {
			err := &RuleEvaluationError{RuleID: r.ID, Cause: rec}
			s.exporter.ruleErrors.Inc()
			s.logger.Error("alert rule evaluation failed", zap.String("rule", r.ID), zap.Error(err))
			fired = false
		}
	}()
	if r.Condition == nil {
		return false
	}
	return r.Condition(actx)
}

// CheckAlerts evaluates every rule against actx and returns the alerts it
// raised. A rule with an unresolved alert does not fire again; once its
// condition clears, that alert is resolved.
func (s *System) CheckAlerts(actx AlertContext) []Alert {
	rules := s.AlertRules()

	fired := make(map[string]bool, len(rules))
	for _, r := range rules {
		fired[r.ID] = s.evaluateAlertRule(r, actx)
	}

	now := s.now()
	var raised []Alert

	s.mu.Lock()
	open := make(map[string]*Alert)
	for _, a := range s.alerts.items() {
		if !a.Resolved {
			open[a.RuleID] = a
		}
	}
	for _, r := range rules {
		a, active := open[r.ID]
		switch {
		case fired[r.ID] && !active:
			alert := s.createAlert(r, actx, now)
			raised = append(raised, *alert)
		case !fired[r.ID] && active:
			a.Resolved = true
			a.ResolvedAt = now
		}
	}
	s.mu.Unlock()

	for _, a := range raised {
		s.exporter.observeAlert(a)
		s.logger.Warn("alert raised",
			zap.String("alert", a.ID),
			zap.String("rule", a.RuleID),
			zap.String("severity", a.Severity),
			zap.String("message", a.Message))
		s.RecordEvent(Event{
			Type:    EventAlert,
			Level:   alertLevel(a.Severity),
			Source:  a.Source,
			Message: a.Message,
			Data:    map[string]any{"alert_id": a.ID, "rule_id": a.RuleID, "severity": a.Severity},
		})
	}
	return raised
}

// createAlert builds an alert from a rule and appends it. Caller holds s.mu.
func (s *System) createAlert(r AlertRule, actx AlertContext, now time.Time) *Alert {
	source := "monitoring"
	if v, ok := actx["source"].(string); ok && v != "" {
		source = v
	}
	data := make(map[string]any, len(actx))
	for k, v := range actx {
		data[k] = v
	}
	a := &Alert{
		ID:        "alert_" + uuid.New().String(),
		RuleID:    r.ID,
		Severity:  r.Severity,
		Message:   interpolate(r.Message, actx),
		Timestamp: now,
		Source:    source,
		Data:      data,
	}
	s.alerts.push(a)
	return a
}

// GetRecentAlerts returns alerts raised within window of now, oldest first
func (s *System) GetRecentAlerts(window time.Duration) []Alert {
	since := s.now().Add(-window)
	return s.alertsWhere(func(a *Alert) bool { return a.Timestamp.After(since) })
}

// ActiveAlerts returns unresolved alerts
func (s *System) ActiveAlerts() []Alert {
	return s.alertsWhere(func(a *Alert) bool { return !a.Resolved })
}

// Alerts returns every stored alert
func (s *System) Alerts() []Alert {
	return s.alertsWhere(func(*Alert) bool { return true })
}

// AcknowledgeAlert marks an alert acknowledged
func (s *System) AcknowledgeAlert(id string) error {
	return s.updateAlert(id, func(a *Alert) { a.Acknowledged = true })
}

// ResolveAlert marks an alert resolved
func (s *System) ResolveAlert(id string) error {
	now := s.now()
	return s.updateAlert(id, func(a *Alert) {
		if !a.Resolved {
			a.Resolved = true
			a.ResolvedAt = now
		}
	})
}

func (s *System) updateAlert(id string, fn func(*Alert)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts.items() {
		if a.ID == id {
			fn(a)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

func (s *System) alertsWhere(keep func(*Alert) bool) []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Alert, 0)
	for _, a := range s.alerts.items() {
		if keep(a) {
			out = append(out, *a)
		}
	}
	return out
}

func alertLevel(severity string) string {
	switch severity {
	case SeverityCritical:
		return LevelCritical
	case SeverityWarning:
		return LevelWarning
	default:
		return LevelInfo
	}
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_.]+)\}`)

// interpolate substitutes {field} with values from actx. Unknown fields are
// left as written; substituted values are not expanded again.
func interpolate(tmpl string, actx AlertContext) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := actx[key]
		if !ok {
			return m
		}
		switch x := v.(type) {
		case float64:
			return strconv.FormatFloat(x, 'f', 2, 64)
		case float32:
			return strconv.FormatFloat(float64(x), 'f', 2, 32)
		case string:
			return x
		default:
			return fmt.Sprint(x)
		}
	})
}
