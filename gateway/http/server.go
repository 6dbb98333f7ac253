// Package http is the ingress surface: the REST batch endpoint, the
// controller telemetry WebSocket, and the dashboard stream WebSocket,
// all feeding the ingestion pipeline and the broadcast hub.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/c360/telemetryhub/broadcast"
	"github.com/c360/telemetryhub/health"
	"github.com/c360/telemetryhub/metric"
	"github.com/c360/telemetryhub/pipeline"
)

// Config tunes the listener.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server routes ingress traffic to the pipeline and hub.
type Server struct {
	cfg      Config
	pipeline *pipeline.Pipeline
	hub      *broadcast.Hub
	verifier *TokenVerifier
	registry *metric.MetricsRegistry
	logger   *slog.Logger
	upgrader websocket.Upgrader
	monitor  *health.Monitor

	httpServer *http.Server
}

// ServerOption customizes the gateway server.
type ServerOption func(*Server)

// WithHealth wires a health monitor behind the readiness endpoint.
func WithHealth(monitor *health.Monitor) ServerOption {
	return func(s *Server) { s.monitor = monitor }
}

// New creates the gateway server.
func New(cfg Config, p *pipeline.Pipeline, hub *broadcast.Hub, verifier *TokenVerifier, registry *metric.MetricsRegistry, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		pipeline: p,
		hub:      hub,
		verifier: verifier,
		registry: registry,
		logger:   logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Device firmware and dashboards connect from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/datapoints/batch", s.handleBatch)
	r.Get("/controller/telemetry", s.handleControllerTelemetry)
	r.Get("/datapoints/stream", s.handleDatapointStream)
	r.Get("/healthz", s.handleHealthz)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", s.registry.Handler())
	}
	return r
}

// Serve blocks on the listener until Shutdown or failure.
func (s *Server) Serve() error {
	s.logger.Info("gateway listening", "addr", s.cfg.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		return
	}

	overall := s.monitor.Overall("telemetryhub")
	status := http.StatusOK
	if overall.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, overall)
}
