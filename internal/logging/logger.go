// internal/logging/logger.go
package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/FairForge/edgeinfer/internal/engine"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log formats
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config configures a logger
type Config struct {
	Level  string    `yaml:"level" json:"level"`
	Format string    `yaml:"format" json:"format"`
	Output io.Writer `yaml:"-" json:"-"`
}

// Validate checks configuration
func (c *Config) Validate() error {
	switch c.Level {
	case "", LevelDebug, LevelInfo, LevelWarn, LevelError:
	default:
		return fmt.Errorf("logging: invalid level: %s", c.Level)
	}
	switch c.Format {
	case "", FormatJSON, FormatConsole:
	default:
		return fmt.Errorf("logging: invalid format: %s", c.Format)
	}
	return nil
}

// ApplyDefaults fills in default values
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = LevelInfo
	}
	if c.Format == "" {
		c.Format = FormatConsole
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
}

func (c *Config) level() zapcore.Level {
	switch c.Level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a zap logger writing to cfg.Output
func New(cfg Config) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	encoder := zapcore.NewConsoleEncoder(encoderConfig)
	if cfg.Format == FormatJSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(cfg.Output), cfg.level())
	return zap.New(core), nil
}

// WithContext returns logger annotated with the request and client ids
// carried by ctx
func WithContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	fields := make([]zap.Field, 0, 2)
	if id, ok := engine.RequestIDFromContext(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := engine.ClientIDFromContext(ctx); ok {
		fields = append(fields, zap.String("client_id", id))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
