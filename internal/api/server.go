// Package api provides the HTTP surface of the gateway: schedule management,
// the websocket upgrade endpoint, the SSE observer feed, and health checks.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/config"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/events"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/gateway"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/logging"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/scheduler"
)

// Server wires the REST routes, the websocket endpoint, and the SSE feed.
type Server struct {
	router     chi.Router
	schedules  *scheduler.Service
	executions core.ExecutionStore
	gateway    *gateway.Gateway
	bus        *events.Bus
	collector  *diagnostics.Collector
	auth       *Authenticator
	logger     *logging.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCollector sets the system metrics collector behind /health/system.
func WithCollector(c *diagnostics.Collector) ServerOption {
	return func(s *Server) {
		s.collector = c
	}
}

// NewServer creates the API server.
func NewServer(schedules *scheduler.Service, executions core.ExecutionStore, gw *gateway.Gateway, bus *events.Bus, authCfg config.AuthConfig, opts ...ServerOption) *Server {
	s := &Server{
		schedules:  schedules,
		executions: executions,
		gateway:    gw,
		bus:        bus,
		auth:       NewAuthenticator(authCfg),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.collector == nil {
		s.collector = diagnostics.NewCollector()
	}

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	// CORS for browser clients
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-User-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	// Health checks
	r.Get("/health", s.handleHealth)
	r.Get("/health/system", s.handleSystemHealth)

	// Workflow connection endpoint. No request timeout middleware here: the
	// connection is long-lived.
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Get("/ws", s.handleWS)
	})

	// REST + SSE
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/agents/{agentID}/schedule", s.handleCreateSchedule)
			r.Get("/agents/{agentID}/schedule", s.handleGetSchedule)
			r.Put("/agents/{agentID}/schedule", s.handleUpdateSchedule)
			r.Delete("/agents/{agentID}/schedule", s.handleDeleteSchedule)
			r.Get("/schedules/usage", s.handleScheduleUsage)
			r.Get("/executions/{executionID}", s.handleGetExecution)
		})

		// A triggered run blocks until the workflow reaches a terminal state
		// and executions carry no duration limit, so the route stays outside
		// the timeout group. Same for the long-lived SSE stream.
		r.Post("/agents/{agentID}/schedule/run", s.handleRunSchedule)
		r.Get("/events", s.handleSSE)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// handleWS hands the authenticated request to the connection gateway.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.gateway.ServeWS(w, r, UserID(r.Context()))
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSystemHealth returns a host resource snapshot.
func (s *Server) handleSystemHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.collector.Collect())
}

// handleGetExecution returns a stored execution record.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.executions.Get(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	// Execution records are owner-scoped like agents.
	if exec.UserID != UserID(r.Context()) {
		s.respondDomainError(w, core.ErrNotFound(core.CodeExecutionNotFound, "execution", exec.ID))
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
