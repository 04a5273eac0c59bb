// internal/monitoring/config.go
package monitoring

import (
	"errors"
	"fmt"
	"time"
)

// RuleConfig declares an alert rule whose condition is an expression such as
// "cpu_usage > 80"
type RuleConfig struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Severity    string `yaml:"severity" json:"severity"`
	Category    string `yaml:"category" json:"category"`
	Condition   string `yaml:"condition" json:"condition"`
	Message     string `yaml:"message" json:"message"`
}

// Validate checks the rule declaration
func (c *RuleConfig) Validate() error {
	if c.ID == "" {
		return errors.New("monitoring: rule id is required")
	}
	if c.Condition == "" {
		return fmt.Errorf("monitoring: rule %s: condition is required", c.ID)
	}
	if _, err := ParseCondition(c.Condition); err != nil {
		return fmt.Errorf("monitoring: rule %s: %w", c.ID, err)
	}
	return nil
}

// Rule compiles the declaration into an AlertRule
func (c *RuleConfig) Rule() (AlertRule, error) {
	cond, err := ParseCondition(c.Condition)
	if err != nil {
		return AlertRule{}, fmt.Errorf("monitoring: rule %s: %w", c.ID, err)
	}
	name := c.Name
	if name == "" {
		name = c.ID
	}
	severity := c.Severity
	if severity == "" {
		severity = SeverityWarning
	}
	return AlertRule{
		ID:          c.ID,
		Name:        name,
		Description: c.Description,
		Severity:    severity,
		Category:    c.Category,
		Condition:   cond,
		Expr:        c.Condition,
		Message:     c.Message,
	}, nil
}

// Config configures a monitoring system
type Config struct {
	CollectionInterval       time.Duration `yaml:"collection_interval" json:"collection_interval"`
	RetentionPeriod          time.Duration `yaml:"retention_period" json:"retention_period"`
	MaxEvents                int           `yaml:"max_events" json:"max_events"`
	MaxAlerts                int           `yaml:"max_alerts" json:"max_alerts"`
	EnableRealTimeMonitoring bool          `yaml:"enable_real_time_monitoring" json:"enable_real_time_monitoring"`
	EnableAnalytics          bool          `yaml:"enable_analytics" json:"enable_analytics"`
	EnableReporting          bool          `yaml:"enable_reporting" json:"enable_reporting"`
	AlertRules               []RuleConfig  `yaml:"alert_rules" json:"alert_rules"`
}

// DefaultConfig returns the system defaults
func DefaultConfig() Config {
	return Config{
		CollectionInterval:       5 * time.Second,
		RetentionPeriod:          24 * time.Hour,
		MaxEvents:                10000,
		MaxAlerts:                1000,
		EnableRealTimeMonitoring: true,
		EnableAnalytics:          true,
		EnableReporting:          true,
	}
}

// ApplyDefaults fills in zero sizes and durations
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.CollectionInterval <= 0 {
		c.CollectionInterval = def.CollectionInterval
	}
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = def.RetentionPeriod
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = def.MaxEvents
	}
	if c.MaxAlerts <= 0 {
		c.MaxAlerts = def.MaxAlerts
	}
}

// Validate checks configuration
func (c *Config) Validate() error {
	if c.CollectionInterval < 0 {
		return errors.New("monitoring: collection interval must not be negative")
	}
	if c.RetentionPeriod < 0 {
		return errors.New("monitoring: retention period must not be negative")
	}
	if c.MaxEvents < 0 || c.MaxAlerts < 0 {
		return errors.New("monitoring: max events and max alerts must not be negative")
	}
	seen := make(map[string]bool)
	for i := range c.AlertRules {
		if err := c.AlertRules[i].Validate(); err != nil {
			return err
		}
		if seen[c.AlertRules[i].ID] {
			return fmt.Errorf("monitoring: duplicate rule id %s", c.AlertRules[i].ID)
		}
		seen[c.AlertRules[i].ID] = true
	}
	return nil
}
