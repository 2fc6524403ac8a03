// Package api is the HTTP surface: session execution, workspace preparation,
// prompt building, the event stream and metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/mntdata/internal/attach"
	"github.com/mattjoyce/mntdata/internal/events"
	"github.com/mattjoyce/mntdata/internal/interpreter"
	"github.com/mattjoyce/mntdata/internal/workspace"
)

// Runner executes code for a session. Prepare shares the session's
// execution lock so it never rewrites links under a running execution.
type Runner interface {
	Run(ctx context.Context, req interpreter.Request) (*interpreter.Result, error)
	Prepare(ctx context.Context, sessionID string, refs []workspace.FileRef) (*workspace.Report, error)
	Prompt(ctx context.Context, sessionID, base string) (string, error)
}

// Workspaces is the subset of workspace.Manager the API exposes.
type Workspaces interface {
	List(ctx context.Context, sessionID string) ([]workspace.Entry, error)
	Remove(ctx context.Context, sessionID string) error
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the bearer token required on every route except /healthz.
	APIKey        string
	MaxConcurrent int
	// MaxTimeout caps the per-request execution timeout. Zero means no cap.
	MaxTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	runner     Runner
	workspaces Workspaces
	resolver   attach.Resolver
	events     *events.Hub
	metrics    http.Handler
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
	execSem    chan struct{}
}

// Deps are the collaborators the server routes to. Resolver, Events and
// Metrics are optional.
type Deps struct {
	Runner     Runner
	Workspaces Workspaces
	Resolver   attach.Resolver
	Events     *events.Hub
	Metrics    http.Handler
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}
	if deps.Events == nil {
		deps.Events = events.NewHub(256)
	}
	return &Server{
		config:     config,
		runner:     deps.Runner,
		workspaces: deps.Workspaces,
		resolver:   deps.Resolver,
		events:     deps.Events,
		metrics:    deps.Metrics,
		logger:     logger,
		startedAt:  time.Now(),
		execSem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // long enough for remote executions
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/openapi.json", s.handleOpenAPI)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/execute", s.handleExecute)
			r.Post("/prepare", s.handlePrepare)
			r.Post("/prompt", s.handlePrompt)
			r.Get("/files", s.handleListFiles)
			r.Delete("/workspace", s.handleRemoveWorkspace)
		})
		r.Get("/events", s.handleEvents)
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
