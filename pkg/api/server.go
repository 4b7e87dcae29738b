package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/unmanic/unmanicd/pkg/log"
	"github.com/unmanic/unmanicd/pkg/pushmsg"
	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue"
	"github.com/unmanic/unmanicd/pkg/workerauth"
)

// LibraryNamer resolves a task's library id to its name for the claim
// response's settings projection (spec.md §6.1 claim resp
// {task_id, source_file, cache_path, settings}).
type LibraryNamer interface {
	Get(id int64) (LibraryInfo, bool)
}

// LibraryInfo is the subset of pkg/library.Library the claim handler
// projects into a task's "settings".
type LibraryInfo struct {
	Name           string
	EnabledPlugins []string
	PluginFlow     []string
}

// Checkers are the named probes GET /health reports under "components"
// (spec.md §6.2: database, config, cache).
type Checkers map[string]Checker

// Checker is the one-method probe GET /health calls. It is declared here
// rather than imported from pkg/health, whose Checker returns
// health.Result and also has Type(), so pkg/health checkers do not
// satisfy it directly; cmd/unmanicd supplies its own implementations.
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckResult mirrors pkg/health.Result's two fields the health
// endpoints need.
type CheckResult struct {
	Healthy bool
	Message string
}

// Server wires the distributed-worker REST API and health endpoints
// around the orchestrator's already-built collaborators.
type Server struct {
	queue    taskqueue.Interface
	scratch  *task.ScratchStore
	auth     *workerauth.Manager
	push     *pushmsg.Bus
	libs     LibraryNamer
	checkers Checkers

	version   string
	startedAt time.Time

	router *chi.Mux
	http   *http.Server
	logger zerolog.Logger
}

// New builds a Server ready to ListenAndServe.
func New(queue taskqueue.Interface, scratch *task.ScratchStore, auth *workerauth.Manager, push *pushmsg.Bus, libs LibraryNamer, checkers Checkers, version string) *Server {
	s := &Server{
		queue:     queue,
		scratch:   scratch,
		auth:      auth,
		push:      push,
		libs:      libs,
		checkers:  checkers,
		version:   version,
		startedAt: time.Now(),
		logger:    log.WithComponent("api"),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Route("/api/v2/workers", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/token", s.handleIssueToken)
		r.Post("/token/revoke", s.handleRevokeToken)
		r.Get("/list", s.handleListWorkers)
		r.Get("/{id}", s.handleGetWorker)
		r.Put("/{id}", s.handleUpdateWorker)
		r.Delete("/{id}", s.handleDeleteWorker)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth())
			r.Post("/token/refresh", s.handleRefreshToken)
			r.Get("/verify", s.handleVerify)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth(workerauth.RoleWorker, workerauth.RoleAdmin))
			r.Post("/heartbeat", s.handleHeartbeat)
		})
	})

	r.Route("/api/v2/tasks", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth(workerauth.RoleWorker, workerauth.RoleAdmin))
			r.Post("/claim", s.handleClaim)
			r.Post("/{id}/status", s.handleStatus)
		})
	})

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/api/v2/push/ws", s.handlePushWS)

	return r
}

// Router exposes the underlying chi.Mux for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving addr in its own goroutine.
func (s *Server) Start(addr string) {
	s.http = &http.Server{Addr: addr, Handler: s.router}
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("api server stopped")
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
