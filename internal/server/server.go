// Package server assembles the HTTP application of a serving process: the
// global middleware chain, the compiled controller routes, and the health and
// metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"

	cerrors "github.com/ship-components/ceres-framework-sub000/internal/errors"
	"github.com/ship-components/ceres-framework-sub000/internal/httputil"
	"github.com/ship-components/ceres-framework-sub000/internal/metrics"
	"github.com/ship-components/ceres-framework-sub000/pkg/config"
	"github.com/ship-components/ceres-framework-sub000/pkg/controller"
	"github.com/ship-components/ceres-framework-sub000/pkg/logger"
	"github.com/ship-components/ceres-framework-sub000/pkg/middleware"
	"github.com/ship-components/ceres-framework-sub000/pkg/model"
)

// HealthPath is served by every process.
const HealthPath = "/health"

// HealthCheck reports whether a backing service is usable.
type HealthCheck func(ctx context.Context) error

// Options configure New.
type Options struct {
	Config       *config.Config
	Log          *logger.Logger
	Controllers  []*controller.Controller
	Models       map[string]model.Model
	HealthChecks map[string]HealthCheck
}

// Server is the HTTP application of one process.
type Server struct {
	cfg       *config.Config
	log       *logger.Logger
	router    *mux.Router
	routes    []controller.CompiledRoute
	env       *controller.Env
	scheduler *cron.Cron
	checks    map[string]HealthCheck
}

// New builds the router. Any controller that fails to compile fails New.
func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}

	responder := cerrors.NewResponder(cfg.IsProduction(), log)
	responder.OnError(metrics.RecordError)

	scheduler := cron.New()
	registry := middleware.NewRegistry(responder.Handle)
	if err := middleware.Install(registry, middleware.Options{Config: cfg, Logger: log, Scheduler: scheduler}); err != nil {
		return nil, fmt.Errorf("install middleware: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		log:       log.WithComponent("server"),
		router:    mux.NewRouter(),
		scheduler: scheduler,
		checks:    opts.HealthChecks,
		env: &controller.Env{
			Config:   cfg,
			Log:      log,
			Models:   opts.Models,
			Registry: registry,
			Errors:   responder,
		},
	}

	s.router.Use(middleware.RealIPMiddleware, middleware.LoggingMiddleware(log))
	if cfg.Metrics.Enabled {
		s.router.Use(metrics.InstrumentHandler(cfg.Metrics.Path))
	}
	if len(cfg.CORS.Origins) > 0 {
		s.router.Use(middleware.NewCORSMiddleware(cfg.CORS.Origins).Handler)
	}
	if cfg.CSRF.Enabled {
		s.router.Use(middleware.NewCSRFMiddleware(cfg.CSRF, responder.Handle).Handler)
	}

	s.router.HandleFunc(HealthPath, s.health).Methods(http.MethodGet, http.MethodHead)
	if cfg.Metrics.Enabled {
		s.router.Handle(cfg.Metrics.Path, metrics.Handler()).Methods(http.MethodGet)
	}

	for _, c := range opts.Controllers {
		routes, err := controller.Mount(s.router, c, s.env)
		if err != nil {
			return nil, err
		}
		s.routes = append(s.routes, routes...)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		responder.Handle(w, r, cerrors.NotFound(r.URL.Path))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		responder.Handle(w, r, &cerrors.Error{Status: http.StatusMethodNotAllowed, Message: r.Method + " not allowed"})
	})
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Routes lists every compiled controller route.
func (s *Server) Routes() []controller.CompiledRoute { return s.routes }

// Env is the environment handlers run with.
func (s *Server) Env() *controller.Env { return s.env }

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.scheduler.Start()
	defer s.scheduler.Stop()

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("listening")
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("graceful shutdown incomplete")
		return srv.Close()
	}
	return nil
}

type healthBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "ok"}
	status := http.StatusOK
	if len(s.checks) > 0 {
		body.Checks = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check(r.Context()); err != nil {
				body.Checks[name] = err.Error()
				body.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			body.Checks[name] = "ok"
		}
	}
	_ = httputil.WriteJSON(w, status, body)
}
