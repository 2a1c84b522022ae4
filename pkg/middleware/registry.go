// Package middleware provides the named middleware registry handed to
// controller middleware factories, and the framework's built-in middleware.
package middleware

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"

	"github.com/ship-components/ceres-framework-sub000/pkg/config"
	"github.com/ship-components/ceres-framework-sub000/pkg/logger"
)

// Built-in middleware names.
const (
	RequestLogger = "requestLogger"
	CORS          = "cors"
	RateLimit     = "rateLimit"
	JWT           = "jwt"
	CSRF          = "csrf"
	RealIP        = "realIP"
)

// FailFunc hands an error to the terminal error handler.
type FailFunc func(w http.ResponseWriter, r *http.Request, err error)

// Registry maps names to middleware.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]mux.MiddlewareFunc
	fail    FailFunc
}

// NewRegistry creates an empty registry. fail receives errors raised by
// middleware; a nil fail writes a bare 500.
func NewRegistry(fail FailFunc) *Registry {
	if fail == nil {
		fail = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
	return &Registry{entries: make(map[string]mux.MiddlewareFunc), fail: fail}
}

// Register adds or replaces a named middleware.
func (r *Registry) Register(name string, mw mux.MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = mw
}

// Get returns a named middleware.
func (r *Registry) Get(name string) (mux.MiddlewareFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mw, ok := r.entries[name]
	return mw, ok
}

// Lookup resolves several names in order.
func (r *Registry) Lookup(names ...string) ([]mux.MiddlewareFunc, error) {
	out := make([]mux.MiddlewareFunc, 0, len(names))
	for _, name := range names {
		mw, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("middleware %q is not registered", name)
		}
		out = append(out, mw)
	}
	return out, nil
}

// Names lists registered middleware, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fail hands err to the terminal error handler.
func (r *Registry) Fail(w http.ResponseWriter, req *http.Request, err error) {
	r.fail(w, req, err)
}

// Options configure the built-in middleware.
type Options struct {
	Config    *config.Config
	Logger    *logger.Logger
	Scheduler *cron.Cron
}

// Install registers every built-in middleware. The rate limiter's cleanup job is
// added to opts.Scheduler when one is given.
func Install(reg *Registry, opts Options) error {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	reg.Register(RequestLogger, LoggingMiddleware(log))
	reg.Register(CORS, NewCORSMiddleware(cfg.CORS.Origins).Handler)
	reg.Register(RealIP, RealIPMiddleware)

	limiter := NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, log, reg.Fail)
	reg.Register(RateLimit, limiter.Handler)
	if opts.Scheduler != nil {
		if err := limiter.ScheduleCleanup(opts.Scheduler, "@every 1m"); err != nil {
			return err
		}
	}

	reg.Register(JWT, NewAuthMiddleware([]byte(cfg.Secret), log, reg.Fail, nil).Handler)
	reg.Register(CSRF, NewCSRFMiddleware(cfg.CSRF, reg.Fail).Handler)
	return nil
}
