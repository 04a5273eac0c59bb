package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LoadFromEnv applies EDGEINFER_* environment overrides
func LoadFromEnv(cfg *Config) error {
	if addr := os.Getenv("EDGEINFER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := os.Getenv("EDGEINFER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("EDGEINFER_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if v := os.Getenv("EDGEINFER_RATE_LIMIT"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("EDGEINFER_RATE_LIMIT: %w", err)
		}
		cfg.Server.RateLimit = limit
	}

	// Monitoring settings
	if v := os.Getenv("EDGEINFER_COLLECTION_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("EDGEINFER_COLLECTION_INTERVAL: %w", err)
		}
		cfg.Monitoring.CollectionInterval = d
	}
	if v := os.Getenv("EDGEINFER_RETENTION_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("EDGEINFER_RETENTION_PERIOD: %w", err)
		}
		cfg.Monitoring.RetentionPeriod = d
	}
	if v := os.Getenv("EDGEINFER_MAX_EVENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EDGEINFER_MAX_EVENTS: %w", err)
		}
		cfg.Monitoring.MaxEvents = n
	}
	return nil
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
