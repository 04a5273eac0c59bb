// cmd/edgeinfer/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/FairForge/edgeinfer/internal/api"
	"github.com/FairForge/edgeinfer/internal/backend"
	"github.com/FairForge/edgeinfer/internal/config"
	"github.com/FairForge/edgeinfer/internal/engine"
	"github.com/FairForge/edgeinfer/internal/logging"
	"github.com/FairForge/edgeinfer/internal/models"
	"github.com/FairForge/edgeinfer/internal/monitoring"
	"github.com/FairForge/edgeinfer/internal/profiler"
	"github.com/FairForge/edgeinfer/internal/selector"
	"go.uber.org/zap"
)

var (
	// version is set at build time via -ldflags
	version = "dev"

	configPath  = flag.String("config", config.GetEnvOrDefault("EDGEINFER_CONFIG", "edgeinfer.yaml"), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("edgeinfer %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("edgeinfer failed", zap.Error(err))
	}
	logger.Info("edgeinfer stopped")
}

// run wires every component and blocks until ctx is cancelled
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	backends := backend.Default()

	prof := profiler.New(cfg.Profiler, logger.Named("profiler"))
	if err := prof.Initialize(ctx); err != nil {
		return fmt.Errorf("start profiler: %w", err)
	}

	mon, err := monitoring.Instance(cfg.Monitoring, logger.Named("monitoring"), monitoring.WithBackends(backends))
	if err != nil {
		return fmt.Errorf("create monitoring: %w", err)
	}

	registry := models.NewRegistry(backends, logger.Named("models"))
	for _, path := range cfg.Models {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read model manifest: %w", err)
		}
		md, err := registry.RegisterManifest(data)
		if err != nil {
			return fmt.Errorf("register %s: %w", path, err)
		}
		logger.Info("model registered", zap.String("model", md.ID), zap.String("version", md.Version))
	}

	eng := engine.New(cfg.Engine, engine.Components{
		Backends: backends,
		Models:   registry,
		Profiler: prof,
		Selector: selector.New(backends, prof, cfg.Selector, logger.Named("selector")),
		Monitor:  mon,
	}, logger.Named("engine"))

	dir := filepath.Dir(*configPath)
	for _, bc := range cfg.Backends {
		b, err := bc.Build(dir)
		if err != nil {
			return err
		}
		if err := eng.RegisterBackend(ctx, bc.ID, b); err != nil {
			return err
		}
	}

	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("start monitoring: %w", err)
	}

	if _, err := os.Stat(*configPath); err == nil {
		err := config.Watch(ctx, *configPath, logger.Named("config"), func(next *config.Config) {
			if err := mon.Reconfigure(next.Monitoring); err != nil {
				logger.Warn("monitoring reconfiguration rejected", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		}
	}

	server := api.NewServer(cfg.Server, eng, logger.Named("api"))
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	logger.Info("edgeinfer running",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.Int("backends", backends.Len()),
		zap.Duration("collection_interval", cfg.Monitoring.CollectionInterval))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	return errors.Join(
		server.Shutdown(shutdownCtx),
		mon.Stop(shutdownCtx),
		eng.Shutdown(shutdownCtx),
		prof.Stop(shutdownCtx),
	)
}
