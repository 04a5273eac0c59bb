package api

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/FairForge/edgeinfer/internal/engine"
	"github.com/FairForge/edgeinfer/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Middleware is a function that wraps an HTTP handler
type Middleware func(http.Handler) http.Handler

// Request headers
const (
	HeaderRequestID = "X-Request-ID"
	HeaderClientID  = "X-Client-ID"
)

// RequestIDMiddleware tags the request context with a request id and a
// client id. Both are taken from headers when present.
func RequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set(HeaderRequestID, requestID)

			ctx := engine.WithRequestID(r.Context(), requestID)
			ctx = engine.WithClientID(ctx, clientID(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientID(r *http.Request) string {
	if id := r.Header.Get(HeaderClientID); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LoggingMiddleware logs every request and records its metrics
func LoggingMiddleware(logger *zap.Logger, metrics *Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			latency := time.Since(start)

			if metrics != nil {
				metrics.IncrementRequest(r.Method, route, status)
				metrics.RecordLatency(r.Method, route, latency.Seconds())
			}

			logging.WithContext(r.Context(), logger).Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("latency", latency),
			)
		})
	}
}

// RateLimitMiddleware enforces per-client rate limits
func RateLimitMiddleware(limiter *RateLimiter, metrics *Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, ok := engine.ClientIDFromContext(r.Context())
			if !ok {
				client = clientID(r)
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%g", limiter.Limit()))
			if !limiter.Allow(client) {
				if metrics != nil {
					metrics.IncrementRateLimitHit(r.Method)
				}
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
