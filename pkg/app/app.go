// Package app sequences a ceres application: Configure loads configuration and
// logging, Connect opens the database and cache, and Run hands the process to
// the topology manager. Each stage fires its hooks at most once.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/ship-components/ceres-framework-sub000/internal/cache"
	"github.com/ship-components/ceres-framework-sub000/internal/database"
	"github.com/ship-components/ceres-framework-sub000/internal/pidfile"
	"github.com/ship-components/ceres-framework-sub000/internal/server"
	"github.com/ship-components/ceres-framework-sub000/internal/topology"
	"github.com/ship-components/ceres-framework-sub000/pkg/config"
	"github.com/ship-components/ceres-framework-sub000/pkg/controller"
	"github.com/ship-components/ceres-framework-sub000/pkg/logger"
	"github.com/ship-components/ceres-framework-sub000/pkg/model"
)

var (
	// ErrNotConfigured is returned by stages that need Configure first.
	ErrNotConfigured = errors.New("ceres: not configured")
	// ErrSecretRequired is returned by Run when no secret is configured.
	ErrSecretRequired = errors.New("ceres: a secret is required to serve traffic")
)

// Hook runs at a lifecycle stage.
type Hook func(ctx context.Context, a *App) error

// ControllerFactory builds controllers once the application is connected.
type ControllerFactory func(a *App) ([]*controller.Controller, error)

// Options are passed to Configure.
type Options struct {
	Config config.Options
	// AfterConnect runs at the end of Connect, before the Connected hooks.
	AfterConnect Hook
}

// App is the explicit application context. Create one per process with New.
type App struct {
	mu sync.Mutex

	cfg   *config.Config
	log   *logger.Logger
	role  topology.Role
	db    *sqlx.DB
	cache cache.Client

	wrotePID     bool
	connected    bool
	afterConnect Hook

	controllers []*controller.Controller
	factories   []ControllerFactory
	models      map[string]model.Model

	configured, connectedHooks, afterSetup   []Hook
	onceConfigured, onceConnected, onceSetup sync.Once

	spawner topology.Spawner
	signals <-chan os.Signal
	listen  func(network, addr string) (net.Listener, error)
	getenv  func(string) string
	exit    func(int)
	stderr  io.Writer
}

// Option configures New.
type Option func(*App)

// WithControllers registers ready-made controllers.
func WithControllers(cs ...*controller.Controller) Option {
	return func(a *App) { a.controllers = append(a.controllers, cs...) }
}

// WithControllerFactory registers controllers built after Connect, so they can
// use the database and cache.
func WithControllerFactory(f ControllerFactory) Option {
	return func(a *App) { a.factories = append(a.factories, f) }
}

// WithModel registers a named model available to every handler.
func WithModel(name string, m model.Model) Option {
	return func(a *App) { a.models[name] = m }
}

// WithSpawner replaces the worker spawner.
func WithSpawner(s topology.Spawner) Option {
	return func(a *App) { a.spawner = s }
}

// WithSignals replaces SIGINT/SIGTERM delivery.
func WithSignals(ch <-chan os.Signal) Option {
	return func(a *App) { a.signals = ch }
}

// WithListen replaces net.Listen.
func WithListen(fn func(network, addr string) (net.Listener, error)) Option {
	return func(a *App) { a.listen = fn }
}

// WithGetenv replaces os.Getenv for role detection.
func WithGetenv(fn func(string) string) Option {
	return func(a *App) { a.getenv = fn }
}

// WithExit replaces os.Exit in Fatal.
func WithExit(fn func(int)) Option {
	return func(a *App) { a.exit = fn }
}

// WithStderr replaces the stream Fatal writes to.
func WithStderr(w io.Writer) Option {
	return func(a *App) { a.stderr = w }
}

// New creates an unconfigured application.
func New(opts ...Option) *App {
	a := &App{
		models: make(map[string]model.Model),
		getenv: os.Getenv,
		exit:   os.Exit,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnConfigured registers a hook for the end of Configure.
func (a *App) OnConfigured(h Hook) { a.configured = append(a.configured, h) }

// OnConnected registers a hook for the end of Connect.
func (a *App) OnConnected(h Hook) { a.connectedHooks = append(a.connectedHooks, h) }

// OnAfterSetup registers a hook run by Exec before its command.
func (a *App) OnAfterSetup(h Hook) { a.afterSetup = append(a.afterSetup, h) }

func (a *App) fire(ctx context.Context, once *sync.Once, hooks []Hook) error {
	var err error
	once.Do(func() {
		for _, h := range hooks {
			if err = h(ctx, a); err != nil {
				return
			}
		}
	})
	return err
}

// =============================================================================
// Stages
// =============================================================================

// Configure loads the configuration, sets up logging, determines the process
// role and, for a master, writes the PID file. Calling it again is a no-op.
func (a *App) Configure(ctx context.Context, opts Options) error {
	a.mu.Lock()
	if a.cfg != nil {
		a.mu.Unlock()
		return nil
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("configure: %w", err)
	}
	a.cfg = cfg
	a.log = logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).WithComponent(cfg.Name)
	a.role = topology.CurrentRole(a.getenv)
	a.afterConnect = opts.AfterConnect
	a.log = a.log.WithFields(map[string]interface{}{"role": a.role.String(), "pid": os.Getpid()})

	if a.role == topology.RoleMaster && cfg.PID != "" {
		if err := pidfile.Write(cfg.PID, a.log); err != nil {
			a.mu.Unlock()
			return fmt.Errorf("configure: %w", err)
		}
		a.wrotePID = true
	}
	a.mu.Unlock()

	a.log.WithFields(map[string]interface{}{
		"env":      cfg.Env,
		"config":   cfg.File,
		"strategy": topology.Select(cfg),
	}).Info("configured")
	if err := a.fire(ctx, &a.onceConfigured, a.configured); err != nil {
		a.removePID()
		return err
	}
	return nil
}

// Connect opens the database, when a recognized type is configured, and the
// cache. Unknown database types are skipped.
func (a *App) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.cfg == nil {
		a.mu.Unlock()
		return ErrNotConfigured
	}
	if a.connected {
		a.mu.Unlock()
		return nil
	}
	cfg := a.cfg

	switch {
	case cfg.DB.Type == "":
		a.log.Debug("no database configured")
	case !database.Recognized(cfg.DB.Type):
		a.log.WithField("type", cfg.DB.Type).Info("unrecognized database type, skipping database setup")
	default:
		db, err := database.Open(ctx, cfg.DB)
		if err != nil {
			a.mu.Unlock()
			return fmt.Errorf("connect database: %w", err)
		}
		a.db = db
	}

	c, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("connect cache: %w", err)
	}
	a.cache = c
	a.connected = true
	a.mu.Unlock()

	if a.afterConnect != nil {
		if err := a.afterConnect(ctx, a); err != nil {
			return fmt.Errorf("after connect: %w", err)
		}
	}
	a.log.Info("connected")
	return a.fire(ctx, &a.onceConnected, a.connectedHooks)
}

// Run serves traffic with the configured topology. Serving processes connect
// before they bind; a cluster or fork master only supervises.
func (a *App) Run(ctx context.Context) error {
	if a.cfg == nil {
		return ErrNotConfigured
	}
	if a.cfg.Secret == "" {
		return ErrSecretRequired
	}
	defer a.removePID()

	runner, err := topology.New(topology.Options{
		Config:  a.cfg,
		Log:     a.log,
		Serve:   a.Serve,
		Spawner: a.spawner,
		Signals: a.signals,
		Listen:  a.listen,
		Getenv:  a.getenv,
	})
	if err != nil {
		return err
	}
	a.log.WithField("runner", runner.Name()).Info("starting")
	return runner.Run(ctx)
}

// Serve connects if needed, builds the server and serves on ln until ctx ends.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.Connect(ctx); err != nil {
		return err
	}
	srv, err := a.Server()
	if err != nil {
		return err
	}
	return srv.Serve(ctx, ln)
}

// Exec configures the application, fires the AfterSetup hooks and runs cmd.
func (a *App) Exec(ctx context.Context, opts Options, cmd func(ctx context.Context, a *App) error) error {
	if err := a.Configure(ctx, opts); err != nil {
		return err
	}
	if err := a.fire(ctx, &a.onceSetup, a.afterSetup); err != nil {
		return err
	}
	return cmd(ctx, a)
}

// Fatal logs err to the logger, when there is one, and to stderr, then exits
// non-zero.
func (a *App) Fatal(err error) {
	if a.log != nil {
		a.log.WithError(err).Error("fatal")
	}
	fmt.Fprintf(a.stderr, "ceres: %v\n", err)
	a.removePID()
	a.exit(1)
}

// Close releases the database, cache and log file, and removes the PID file
// if this process wrote it.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removePID()
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
		a.cache = nil
	}
	if a.log != nil {
		errs = append(errs, a.log.Close())
	}
	a.connected = false
	return errors.Join(errs...)
}

func (a *App) removePID() {
	if !a.wrotePID {
		return
	}
	if err := pidfile.Remove(a.cfg.PID); err != nil && a.log != nil {
		a.log.WithError(err).Warn("unable to remove pid file")
	}
	a.wrotePID = false
}

// =============================================================================
// Assembly
// =============================================================================

// Controllers returns the registered controllers followed by those built by
// the factories.
func (a *App) Controllers() ([]*controller.Controller, error) {
	out := append([]*controller.Controller(nil), a.controllers...)
	for _, f := range a.factories {
		cs, err := f(a)
		if err != nil {
			return nil, err
		}
		out = append(out, cs...)
	}
	return out, nil
}

// Server assembles the HTTP application.
func (a *App) Server() (*server.Server, error) {
	if a.cfg == nil {
		return nil, ErrNotConfigured
	}
	controllers, err := a.Controllers()
	if err != nil {
		return nil, err
	}

	models := make(map[string]model.Model, len(a.models)+len(controllers))
	for _, c := range controllers {
		if c.Model != nil {
			models[c.Name] = c.Model
		}
	}
	for name, m := range a.models {
		models[name] = m
	}

	checks := map[string]server.HealthCheck{}
	if a.db != nil {
		checks["db"] = a.db.PingContext
	}
	if a.cache != nil {
		checks["cache"] = a.cache.Ping
	}

	return server.New(server.Options{
		Config:       a.cfg,
		Log:          a.log,
		Controllers:  controllers,
		Models:       models,
		HealthChecks: checks,
	})
}

// Cached wraps m with the application cache. It returns m unchanged before
// Connect.
func (a *App) Cached(m model.Model, prefix string) model.Model {
	if a.cache == nil {
		return m
	}
	return model.NewCached(m, a.cache, prefix, a.cfg.Cache.TTL)
}

// Config returns the configuration, nil before Configure.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the application logger, nil before Configure.
func (a *App) Logger() *logger.Logger { return a.log }

// Role returns the process role determined by Configure.
func (a *App) Role() topology.Role { return a.role }

// DB returns the database handle, nil when none is configured.
func (a *App) DB() *sqlx.DB { return a.db }

// Cache returns the cache client, nil before Connect.
func (a *App) Cache() cache.Client { return a.cache }

// Model returns a registered model.
func (a *App) Model(name string) (model.Model, bool) {
	m, ok := a.models[name]
	return m, ok
}
