package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cohenjo/plansync/pkg/config"
	"github.com/cohenjo/plansync/pkg/metrics"
	"github.com/rs/zerolog/log"
)

// Server is the HTTP front end that triggers sync runs
type Server struct {
	httpServer *http.Server
	health     *HealthService
	syncer     Syncer
	telemetry  *metrics.TelemetryManager
	version    string
}

// NewServer creates a new HTTP API server
func NewServer(cfg config.ServerConfig, syncer Syncer, health *HealthService, telemetry *metrics.TelemetryManager) (*Server, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer is required")
	}
	if health == nil {
		health = NewHealthService(config.Version, "")
	}

	server := &Server{
		health:    health,
		syncer:    syncer,
		telemetry: telemetry,
		version:   config.Version,
	}

	server.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:      server.createMux(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("address", server.httpServer.Addr).
		Bool("cors_enabled", cfg.CORS.Enabled).
		Bool("auth_enabled", len(cfg.AuthTokens) > 0).
		Msg("HTTP API server created")

	return server, nil
}

// createMux creates the HTTP multiplexer with all routes and middleware
func (s *Server) createMux(cfg config.ServerConfig) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", s.health)
	mux.Handle("/metrics", s.telemetry.Handler())

	mux.HandleFunc("/api/sync-tracking-plans", s.handleSyncTrackingPlans)
	mux.HandleFunc("/api/sync-event-properties", s.handleSyncEventProperties)
	mux.HandleFunc("/api/sync", s.handleSyncAll)

	mux.HandleFunc("/", s.handleRoot)

	var handler http.Handler = mux
	handler = s.metricsMiddleware(handler)
	if cfg.CORS.Enabled {
		handler = corsMiddleware(handler, cfg.CORS.AllowedOrigins)
	}
	if len(cfg.AuthTokens) > 0 {
		handler = authMiddleware(handler, cfg.AuthTokens)
	}
	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)
	return handler
}

// Handler returns the fully wrapped handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Stop is called; it returns nil after a graceful stop
func (s *Server) Start() error {
	log.Info().Str("address", s.httpServer.Addr).Msg("Starting HTTP API server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping HTTP API server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, errorResponse{Status: "error", Detail: "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the plansync API!",
		"version": s.version,
	})
}
