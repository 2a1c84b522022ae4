package controller

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ship-components/ceres-framework-sub000/pkg/config"
	"github.com/ship-components/ceres-framework-sub000/pkg/middleware"
)

// Routes maps "<method> <path>" keys to handlers, e.g. "get /:id".
type Routes map[string]Route

// Route references the handler of one route entry, optionally preceded by
// per-route middleware.
type Route struct {
	middleware []mux.MiddlewareFunc
	handler    HandlerFunc
	method     string
}

// Handle references fn directly.
func Handle(fn HandlerFunc) Route {
	return Route{handler: fn}
}

// Call references a controller method by name. The name is resolved once, when
// the route table is compiled.
func Call(name string) Route {
	return Route{method: name}
}

// Chain runs mws, in order, before target.
func Chain(target Route, mws ...mux.MiddlewareFunc) Route {
	chained := make([]mux.MiddlewareFunc, 0, len(mws)+len(target.middleware))
	chained = append(chained, mws...)
	chained = append(chained, target.middleware...)
	target.middleware = chained
	return target
}

// name is used in logs and errors.
func (r Route) name() string {
	if r.method != "" {
		return r.method
	}
	if r.handler == nil {
		return "<nil>"
	}
	full := runtime.FuncForPC(reflect.ValueOf(r.handler).Pointer()).Name()
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		full = full[i+1:]
	}
	return full
}

// =============================================================================
// Controller middleware
// =============================================================================

// MiddlewareFactory builds controller middleware from the registry and config.
type MiddlewareFactory func(reg *middleware.Registry, cfg *config.Config) ([]mux.MiddlewareFunc, error)

// MiddlewareSet is either a fixed list or a factory, resolved at compile time.
type MiddlewareSet struct {
	list    []mux.MiddlewareFunc
	factory MiddlewareFactory
}

// Use declares a fixed middleware list.
func Use(mws ...mux.MiddlewareFunc) MiddlewareSet {
	return MiddlewareSet{list: mws}
}

// UseFactory declares middleware built by f.
func UseFactory(f MiddlewareFactory) MiddlewareSet {
	return MiddlewareSet{factory: f}
}

// UseNamed declares middleware looked up by name in the registry.
func UseNamed(names ...string) MiddlewareSet {
	return UseFactory(func(reg *middleware.Registry, _ *config.Config) ([]mux.MiddlewareFunc, error) {
		return reg.Lookup(names...)
	})
}

func (s MiddlewareSet) resolve(env *Env) ([]mux.MiddlewareFunc, error) {
	if s.factory != nil {
		return s.factory(env.Registry, env.Config)
	}
	return s.list, nil
}
