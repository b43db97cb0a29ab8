package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/config"
	"voxpipe-server/pkg/metrics"
	"voxpipe-server/pkg/ratelimit"
	"voxpipe-server/pkg/version"
)

// Server exposes the voice pipeline over HTTP: submission and job polling,
// the job-update websocket, health endpoints and Prometheus metrics.
type Server struct {
	config     *config.HTTPConfig
	logger     *logrus.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	handler    *VoiceHandler
	wsHub      *JobHub
	startTime  time.Time
}

// NewServer creates the HTTP server and registers all endpoints. limiter may
// be nil when rate limiting is not configured.
func NewServer(logger *logrus.Logger, cfg *config.HTTPConfig, handler *VoiceHandler, wsHub *JobHub, limiter *ratelimit.Middleware) *Server {
	server := &Server{
		config:    cfg,
		logger:    logger,
		handler:   handler,
		wsHub:     wsHub,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	server.mux = mux

	addServerHeader := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			next(w, r)
		}
	}

	mux.HandleFunc("/health", addServerHeader(server.healthHandler))
	mux.HandleFunc("/health/live", addServerHeader(server.livenessHandler))
	mux.HandleFunc("/health/ready", addServerHeader(server.readinessHandler))
	mux.HandleFunc("/status", addServerHeader(server.statusHandler))

	if handler != nil {
		mux.HandleFunc("/api/voice/submit", addServerHeader(handler.SubmitVoice))
		mux.HandleFunc("/api/voice/jobs/", addServerHeader(handler.GetJob))
	}
	if wsHub != nil {
		mux.HandleFunc("/ws/jobs", wsHub.ServeWs)
		logger.Info("Job update WebSocket endpoint registered at /ws/jobs")
	}

	if cfg.EnableMetrics {
		if metrics.GetRegistry() != nil {
			promHandler := metrics.Handler()
			mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Server", version.ServerHeader())
				promHandler.ServeHTTP(w, r)
			})
			logger.Info("Prometheus metrics endpoint enabled at /metrics")
		}
	} else {
		logger.Info("Metrics endpoint disabled")
	}

	var root http.Handler = mux
	if limiter != nil {
		root = limiter.Wrap(root)
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      root,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.WithField("port", s.config.Port).Info("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports overall service health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": version.Version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

// livenessHandler answers liveness probes.
func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "alive"})
}

// readinessHandler answers readiness probes. The server is ready once the
// pipeline handler is wired.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.handler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

// statusHandler reports version and uptime.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"version":    version.Version,
		"uptime":     time.Since(s.startTime).String(),
		"started_at": s.startTime.Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
