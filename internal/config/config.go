// Package config loads edgeinfer configuration from YAML files and
// environment variables. Precedence: environment > file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
	"github.com/FairForge/edgeinfer/internal/engine"
	"github.com/FairForge/edgeinfer/internal/logging"
	"github.com/FairForge/edgeinfer/internal/monitoring"
	"github.com/FairForge/edgeinfer/internal/profiler"
	"github.com/FairForge/edgeinfer/internal/selector"
	"gopkg.in/yaml.v3"
)

// Duration accepts "15s" style strings in YAML
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Logging    logging.Config    `yaml:"logging"`
	Engine     engine.Config     `yaml:"engine"`
	Selector   selector.Options  `yaml:"selector"`
	Profiler   profiler.Config   `yaml:"profiler"`
	Monitoring monitoring.Config `yaml:"monitoring"`
	Backends   []BackendConfig   `yaml:"backends"`
	// Models are paths of JSON model manifests registered at startup
	Models []string `yaml:"models"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	RateLimit       float64  `yaml:"rate_limit"` // requests/second per client, 0 disables
	Burst           int      `yaml:"burst"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// BackendConfig declares one backend
type BackendConfig struct {
	ID         string                       `yaml:"id"`
	Type       string                       `yaml:"type"` // simulated or wasm
	Name       string                       `yaml:"name"`
	Capability backend.Capability           `yaml:"capability"`
	Resources  backend.ResourceRequirements `yaml:"resources"`
	Latency    Duration                     `yaml:"latency"`
	// Modules maps model ids to .wasm files, for wasm backends
	Modules map[string]string `yaml:"modules"`
}

// Backend types
const (
	BackendSimulated = "simulated"
	BackendWASM      = "wasm"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimit:       50,
			Burst:           100,
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
		Engine:     engine.DefaultConfig(),
		Selector:   selector.DefaultOptions(),
		Profiler:   profiler.Config{WindowSize: profiler.DefaultWindowSize},
		Monitoring: monitoring.DefaultConfig(),
	}
}

// LoadFromBytes parses YAML over the defaults and applies environment
// overrides
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config data: %w", err)
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a YAML file. An empty path or a missing file yields defaults
// plus environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromBytes(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		return LoadFromBytes(nil)
	}
	return LoadFromBytes(data)
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server addr is required")
	}
	if c.Server.RateLimit < 0 || c.Server.Burst < 0 {
		return errors.New("rate limit and burst must not be negative")
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Selector.Weights.Validate(); err != nil {
		return err
	}
	if err := c.Monitoring.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for i, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backends[%d]: id is required", i)
		}
		if seen[b.ID] {
			return fmt.Errorf("backends[%d]: duplicate id %s", i, b.ID)
		}
		seen[b.ID] = true
		switch b.Type {
		case BackendSimulated:
		case BackendWASM:
			if len(b.Modules) == 0 {
				return fmt.Errorf("backend %s: wasm backends need modules", b.ID)
			}
		default:
			return fmt.Errorf("backend %s: unknown type %q", b.ID, b.Type)
		}
	}
	return nil
}
