package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
	"github.com/FairForge/edgeinfer/internal/engine"
	"github.com/FairForge/edgeinfer/internal/models"
	"github.com/FairForge/edgeinfer/internal/monitoring"
	"github.com/FairForge/edgeinfer/internal/selector"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	maxBodyBytes     = 1 << 20
	defaultWindow    = time.Hour
	defaultRptWindow = 24 * time.Hour
)

// TaskRequest is the body of /select and /tasks
type TaskRequest struct {
	Task     backend.Task       `json:"task"`
	Criteria *selector.Criteria `json:"criteria,omitempty"`
}

// BackendInfo describes one registered backend
type BackendInfo struct {
	ID           string                       `json:"id"`
	Name         string                       `json:"name"`
	Available    bool                         `json:"available"`
	Capabilities backend.Capability           `json:"capabilities"`
	Resources    backend.ResourceRequirements `json:"resources"`
	Health       backend.HealthStatus         `json:"health"`
	Metrics      backend.Metrics              `json:"metrics"`
	Models       []string                     `json:"models"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	health := map[string]interface{}{
		"status":   "healthy",
		"uptime":   time.Since(s.startTime).Seconds(),
		"backends": s.engine.Backends().Len(),
	}
	if err := s.engine.HealthCheck(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		health["status"] = "unhealthy"
		health["error"] = err.Error()
	}
	writeJSON(w, status, health)
}

func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	entries := s.engine.Backends().List()
	out := make([]BackendInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, BackendInfo{
			ID:           e.ID,
			Name:         e.Backend.Name(),
			Available:    e.Backend.IsAvailable(),
			Capabilities: e.Backend.Capabilities(),
			Resources:    e.Backend.Resources(),
			Health:       e.Backend.Health(r.Context()),
			Metrics:      e.Backend.PerformanceMetrics(),
			Models:       e.Backend.ListModels(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) decodeTask(w http.ResponseWriter, r *http.Request) (*TaskRequest, bool) {
	var req TaskRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	if req.Task.Type == "" {
		writeError(w, http.StatusBadRequest, "task type is required")
		return nil, false
	}
	return &req, true
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTask(w, r)
	if !ok {
		return
	}
	sel, err := s.engine.Selector().SelectBackend(r.Context(), req.Task, req.Criteria)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTask(w, r)
	if !ok {
		return
	}
	exec, err := s.engine.Execute(r.Context(), req.Task, req.Criteria)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// writeEngineError maps domain errors to status codes
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var (
		noBackend   *selector.NoEligibleBackendError
		notFound    *models.ModelNotFoundError
		unavailable *backend.UnavailableError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidTask), errors.Is(err, backend.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &noBackend):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &unavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Models().List())
}

func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	md, err := s.engine.Models().RegisterManifest(data)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, models.ErrInvalidMetadata):
			status = http.StatusBadRequest
		case errors.Is(err, models.ErrChecksumMismatch):
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, md)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.engine.Monitor().HTTPHandler().ServeHTTP(w, r)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	mon := s.engine.Monitor()
	var alerts []monitoring.Alert
	switch {
	case r.URL.Query().Get("active") == "true":
		alerts = mon.ActiveAlerts()
	case r.URL.Query().Get("window") != "":
		window, err := time.ParseDuration(r.URL.Query().Get("window"))
		if err != nil || window <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		alerts = mon.GetRecentAlerts(window)
	default:
		alerts = mon.Alerts()
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	s.updateAlert(w, r, s.engine.Monitor().AcknowledgeAlert)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	s.updateAlert(w, r, s.engine.Monitor().ResolveAlert)
}

func (s *Server) updateAlert(w http.ResponseWriter, r *http.Request, update func(string) error) {
	id := chi.URLParam(r, "id")
	if err := update(id); err != nil {
		if errors.Is(err, monitoring.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	tr, err := timeRange(r, defaultWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	insights, err := s.engine.Monitor().GenerateInsights(tr)
	if err != nil {
		writeError(w, monitoringStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	tr, err := timeRange(r, defaultRptWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	title := q.Get("title")
	if title == "" {
		title = "edgeinfer report"
	}
	format := q.Get("format")
	if format == "" {
		format = monitoring.FormatJSON
	}
	if format != monitoring.FormatJSON && format != monitoring.FormatCSV {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
		return
	}

	report, err := s.engine.Monitor().GenerateReport(title, q.Get("description"), tr)
	if err != nil {
		writeError(w, monitoringStatus(err), err.Error())
		return
	}

	if format == monitoring.FormatCSV {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", report.ID))
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	if err := monitoring.ExportReport(w, report, format); err != nil {
		s.logger.Error("failed to export report", zap.String("report", report.ID), zap.Error(err))
	}
}

// timeRange reads ?window=1h, or ?start=&end= in RFC 3339
func timeRange(r *http.Request, fallback time.Duration) (monitoring.TimeRange, error) {
	q := r.URL.Query()
	now := time.Now()

	if start := q.Get("start"); start != "" {
		tr := monitoring.TimeRange{}
		var err error
		if tr.Start, err = time.Parse(time.RFC3339, start); err != nil {
			return tr, fmt.Errorf("invalid start: %w", err)
		}
		if end := q.Get("end"); end != "" {
			if tr.End, err = time.Parse(time.RFC3339, end); err != nil {
				return tr, fmt.Errorf("invalid end: %w", err)
			}
		}
		return tr, nil
	}

	window := fallback
	if v := q.Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return monitoring.TimeRange{}, fmt.Errorf("invalid window %q", v)
		}
		window = d
	}
	return monitoring.TimeRange{Start: now.Add(-window), End: now}, nil
}

func monitoringStatus(err error) int {
	switch {
	case errors.Is(err, monitoring.ErrAnalyticsDisabled), errors.Is(err, monitoring.ErrReportingDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, monitoring.ErrInvalidTimeRange):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
