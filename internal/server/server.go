// Package server implements the HTTP API of the pipeline master.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/darkace1998/video-pipeline/internal/admin"
	"github.com/darkace1998/video-pipeline/internal/apikey"
	"github.com/darkace1998/video-pipeline/internal/auth"
	"github.com/darkace1998/video-pipeline/internal/config"
	"github.com/darkace1998/video-pipeline/internal/ingest"
	"github.com/darkace1998/video-pipeline/internal/lifecycle"
	"github.com/darkace1998/video-pipeline/internal/logger"
	"github.com/darkace1998/video-pipeline/internal/metrics"
	"github.com/darkace1998/video-pipeline/internal/store"
	"github.com/darkace1998/video-pipeline/internal/webhook"
)

const maxBodyBytes = 1 << 20

// Deps are the services the API routes call into
type Deps struct {
	Store     store.Store
	Lifecycle *lifecycle.Lifecycle
	Webhook   *webhook.Handler
	Ingest    *ingest.Service
	APIKeys   *apikey.Service
	Admin     *admin.Service
	Registry  *config.Registry
	Auth      *auth.Authority
	Metrics   *metrics.Metrics
}

// Server handles HTTP API requests
type Server struct {
	deps        Deps
	addr        string
	server      *http.Server
	handler     http.Handler
	rateLimiter *rateLimiter
	log         *logger.ComponentLogger
}

// New creates a server listening on addr. A rateLimitPerMinute of zero
// disables per-IP limiting.
func New(addr string, deps Deps, rateLimitPerMinute int) *Server {
	s := &Server{
		deps:        deps,
		addr:        addr,
		rateLimiter: newRateLimiter(rateLimitPerMinute),
		log:         logger.NewComponentLogger("server"),
	}
	s.handler = s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health checks and metrics skip rate limiting
	mux.HandleFunc("GET /healthz", s.HealthzLive)
	mux.HandleFunc("GET /readyz", s.HealthzReady)
	mux.Handle("GET /metrics", metrics.Handler())

	api := func(h http.HandlerFunc) http.Handler {
		return s.correlationMiddleware(s.instrumentMiddleware(s.rateLimitMiddleware(h)))
	}
	frontend := func(h http.HandlerFunc) http.Handler {
		return api(s.apiKeyMiddleware(h))
	}
	operator := func(h http.HandlerFunc) http.Handler {
		return api(s.adminMiddleware(h))
	}

	// Encoder callbacks
	mux.Handle("POST /api/webhook/encoding", api(s.EncodingWebhook))
	mux.Handle("POST /api/webhook/progress", api(s.ProgressWebhook))

	// Frontend API
	mux.Handle("POST /api/uploads", frontend(s.StartUpload))
	mux.Handle("POST /api/uploads/complete", frontend(s.CompleteUpload))
	mux.Handle("GET /api/videos", api(s.ListVideos))
	mux.Handle("GET /api/videos/{permlink}", api(s.GetVideo))
	mux.Handle("POST /api/videos/{permlink}/thumbnail", frontend(s.SetThumbnail))

	// Admin API
	mux.Handle("GET /api/admin/stats", operator(s.AdminStats))
	mux.Handle("GET /api/admin/jobs", operator(s.AdminJobs))
	mux.Handle("POST /api/admin/jobs/retry", operator(s.AdminRetryJob))
	mux.Handle("GET /api/admin/encoders", operator(s.AdminEncoders))
	mux.Handle("POST /api/admin/encoders/{name}/enable", operator(s.AdminSetEncoder(true)))
	mux.Handle("POST /api/admin/encoders/{name}/disable", operator(s.AdminSetEncoder(false)))
	mux.Handle("POST /api/admin/apikeys", operator(s.AdminMintAPIKey))
	mux.Handle("GET /api/admin/videos/stale", operator(s.AdminStaleVideos))
	mux.Handle("POST /api/admin/videos/{permlink}/delete", operator(s.AdminDeleteVideo))

	return mux
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.log.Info("HTTP server starting", "addr", s.addr, "metrics_endpoint", "/metrics", "health_endpoints", "/healthz, /readyz")
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.stop()

	s.log.Info("Shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// HealthzLive handles the liveness check
func (s *Server) HealthzLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthzReady reports ready when the record store answers a ping
func (s *Server) HealthzReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.log.Warn("Readiness check failed: database unavailable", "error", err)
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]any{
			"status":    "not_ready",
			"timestamp": time.Now(),
			"reason":    "database unavailable",
		})
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}
