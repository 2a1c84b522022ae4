package controller

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ship-components/ceres-framework-sub000/internal/metrics"
)

// ErrRoutesRequired is returned for a controller without a route table.
var ErrRoutesRequired = errors.New("routes are required")

// RouteParseError reports a route key that is not "<method> <path>".
type RouteParseError struct {
	Controller string
	Route      string
}

func (e *RouteParseError) Error() string {
	return fmt.Sprintf("controller %s: unable to parse route %q, expected \"<method> <path>\"", e.Controller, e.Route)
}

// MiddlewareTypeError reports a nil middleware entry. Route is empty for
// controller level middleware.
type MiddlewareTypeError struct {
	Controller string
	Route      string
	Index      int
}

func (e *MiddlewareTypeError) Error() string {
	if e.Route == "" {
		return fmt.Sprintf("controller %s: middleware %d is not a function", e.Controller, e.Index)
	}
	return fmt.Sprintf("controller %s: middleware %d of route %q is not a function", e.Controller, e.Index, e.Route)
}

// MethodError reports an HTTP method the router does not support.
type MethodError struct {
	Controller string
	Method     string
	Path       string
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("controller %s: unsupported method %q for %s", e.Controller, e.Method, e.Path)
}

// HandlerError reports a route whose handler is missing or does not resolve.
type HandlerError struct {
	Controller string
	Route      string
	Handler    string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("controller %s: route %q references unknown handler %q", e.Controller, e.Route, e.Handler)
}

// methods the router accepts; "all" matches any method.
var methods = map[string]string{
	"get":     http.MethodGet,
	"post":    http.MethodPost,
	"put":     http.MethodPut,
	"patch":   http.MethodPatch,
	"delete":  http.MethodDelete,
	"head":    http.MethodHead,
	"options": http.MethodOptions,
	"all":     "",
}

var (
	duplicateSlash = regexp.MustCompile(`/{2,}`)
	namedParam     = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)
)

// CompiledRoute is one dispatchable route.
type CompiledRoute struct {
	// Method is the lower-case verb.
	Method string
	// Path is the declared full path, e.g. /widgets/:id.
	Path string
	// Pattern is Path in router syntax, e.g. /widgets/{id}.
	Pattern string
	// Middleware runs outermost first: controller middleware, then per-route.
	Middleware  []mux.MiddlewareFunc
	Handler     http.Handler
	HandlerName string
}

// Args returns [path, ...middleware, handler].
func (r CompiledRoute) Args() []interface{} {
	args := make([]interface{}, 0, len(r.Middleware)+2)
	args = append(args, r.Path)
	for _, mw := range r.Middleware {
		args = append(args, mw)
	}
	return append(args, r.Handler)
}

// Chain composes the middleware around the handler.
func (r CompiledRoute) Chain() http.Handler {
	h := r.Handler
	for i := len(r.Middleware) - 1; i >= 0; i-- {
		h = r.Middleware[i](h)
	}
	return h
}

// HTTPMethod is the upper-case method, or "" for "all".
func (r CompiledRoute) HTTPMethod() string {
	return methods[r.Method]
}

// Compile turns the controller's route table into routes ordered by path then
// method. Any malformed entry fails the whole table.
func Compile(c *Controller, env *Env) ([]CompiledRoute, error) {
	if c == nil || c.Routes == nil {
		name := ""
		if c != nil {
			name = c.Name
		}
		return nil, fmt.Errorf("controller %s: %w", name, ErrRoutesRequired)
	}
	env = env.withDefaults()

	shared, err := c.Middleware.resolve(env)
	if err != nil {
		return nil, fmt.Errorf("controller %s: middleware factory: %w", c.Name, err)
	}
	for i, mw := range shared {
		if mw == nil {
			return nil, &MiddlewareTypeError{Controller: c.Name, Index: i}
		}
	}

	keys := make([]string, 0, len(c.Routes))
	for key := range c.Routes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	log := env.Log.WithComponent("router")
	out := make([]CompiledRoute, 0, len(keys))
	for _, key := range keys {
		parts := strings.Fields(key)
		if len(parts) != 2 {
			return nil, &RouteParseError{Controller: c.Name, Route: key}
		}
		method := strings.ToLower(parts[0])
		path := joinPath(c.Endpoint, parts[1])
		if _, ok := methods[method]; !ok {
			return nil, &MethodError{Controller: c.Name, Method: method, Path: path}
		}

		route := c.Routes[key]
		fn := route.handler
		if route.method != "" {
			fn = c.Methods[route.method]
		}
		if fn == nil {
			return nil, &HandlerError{Controller: c.Name, Route: key, Handler: route.name()}
		}

		chain := make([]mux.MiddlewareFunc, 0, len(shared)+len(route.middleware))
		chain = append(chain, shared...)
		for i, mw := range route.middleware {
			if mw == nil {
				return nil, &MiddlewareTypeError{Controller: c.Name, Route: key, Index: i}
			}
			chain = append(chain, mw)
		}

		compiled := CompiledRoute{
			Method:      method,
			Path:        path,
			Pattern:     toPattern(path),
			Middleware:  chain,
			Handler:     Wrap(fn, c, env),
			HandlerName: route.name(),
		}
		out = append(out, compiled)

		log.WithFields(map[string]interface{}{
			"controller": c.Name,
			"method":     method,
			"path":       path,
			"handler":    compiled.HandlerName,
		}).Trace("compiled route")
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Method < out[j].Method
	})

	metrics.SetRoutes(c.Name, len(out))
	return out, nil
}

// Mount compiles c and registers its routes on router.
func Mount(router *mux.Router, c *Controller, env *Env) ([]CompiledRoute, error) {
	routes, err := Compile(c, env)
	if err != nil {
		return nil, err
	}
	for _, r := range routes {
		register(router, r.Pattern, r)
		if len(r.Pattern) > 1 && strings.HasSuffix(r.Pattern, "/") {
			register(router, strings.TrimSuffix(r.Pattern, "/"), r)
		}
	}
	return routes, nil
}

func register(router *mux.Router, pattern string, r CompiledRoute) {
	route := router.Handle(pattern, r.Chain())
	if m := r.HTTPMethod(); m != "" {
		route.Methods(m)
	}
}

func joinPath(endpoint, path string) string {
	return duplicateSlash.ReplaceAllString(endpoint+path, "/")
}

// toPattern converts :name segments to {name} and a trailing * to a catch-all.
func toPattern(path string) string {
	p := namedParam.ReplaceAllString(path, "{$1}")
	if strings.HasSuffix(p, "*") {
		p = strings.TrimSuffix(p, "*") + "{rest:.*}"
	}
	return p
}
