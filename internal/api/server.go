package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/FairForge/edgeinfer/internal/config"
	"github.com/FairForge/edgeinfer/internal/engine"
	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	config     config.ServerConfig
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
	engine     *engine.Engine
	metrics    *Metrics
	limiter    *RateLimiter
	registry   *prometheus.Registry

	startTime time.Time
}

// NewServer builds the HTTP surface over eng. API metrics are registered
// on the monitoring registry so one /metrics endpoint serves both.
func NewServer(cfg config.ServerConfig, eng *engine.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	if mon := eng.Monitor(); mon != nil {
		registry = mon.Exporter().Registry()
	}

	s := &Server{
		config:    cfg,
		logger:    logger,
		router:    chi.NewRouter(),
		engine:    eng,
		metrics:   NewMetrics(registry),
		registry:  registry,
		startTime: time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.Burst)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      gzhttp.GzipHandler(s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(s.logger, s.metrics))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(RateLimitMiddleware(s.limiter, s.metrics))
		}

		r.Get("/backends", s.handleListBackends)
		r.Post("/select", s.handleSelect)
		r.Post("/tasks", s.handleExecute)
		r.Get("/models", s.handleListModels)
		r.Post("/models", s.handleRegisterModel)

		r.Route("/monitoring", func(r chi.Router) {
			r.Use(s.requireMonitor)
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/alerts", s.handleAlerts)
			r.Post("/alerts/{id}/ack", s.handleAcknowledgeAlert)
			r.Post("/alerts/{id}/resolve", s.handleResolveAlert)
			r.Get("/insights", s.handleInsights)
			r.Get("/report", s.handleReport)
		})
	})
}

// Handler returns the HTTP handler, without compression
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.config.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requireMonitor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.engine.Monitor() == nil {
			writeError(w, http.StatusServiceUnavailable, "monitoring is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
