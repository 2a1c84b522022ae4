package controller

import (
	"fmt"
	"net/http"
	"runtime/debug"

	cerrors "github.com/ship-components/ceres-framework-sub000/internal/errors"
	"github.com/ship-components/ceres-framework-sub000/pkg/config"
	"github.com/ship-components/ceres-framework-sub000/pkg/logger"
	"github.com/ship-components/ceres-framework-sub000/pkg/middleware"
	"github.com/ship-components/ceres-framework-sub000/pkg/model"
)

// HandlerFunc is a controller action. A non-nil error is routed to the error
// handler; otherwise the value is sent as JSON unless the handler already
// responded.
type HandlerFunc func(ctx *Context) (interface{}, error)

// ErrorHandler is the terminal error handler of a request.
type ErrorHandler interface {
	Handle(w http.ResponseWriter, r *http.Request, err error)
}

// Env carries the process-wide collaborators handlers and compiled routes need.
type Env struct {
	Config   *config.Config
	Log      *logger.Logger
	Models   map[string]model.Model
	Registry *middleware.Registry
	Errors   ErrorHandler
}

// withDefaults returns a copy of e with every nil collaborator filled in.
func (e *Env) withDefaults() *Env {
	out := &Env{}
	if e != nil {
		*out = *e
	}
	if out.Config == nil {
		out.Config = config.Default()
	}
	if out.Log == nil {
		out.Log = logger.NewNop()
	}
	if out.Models == nil {
		out.Models = map[string]model.Model{}
	}
	if out.Errors == nil {
		out.Errors = cerrors.NewResponder(out.Config.IsProduction(), out.Log)
	}
	if out.Registry == nil {
		out.Registry = middleware.NewRegistry(out.Errors.Handle)
	}
	return out
}

func (e *Env) fail(w http.ResponseWriter, r *http.Request, err error) {
	e.Errors.Handle(w, r, err)
}

// Wrap adapts h to an http.Handler. Each request gets a fresh Context; panics
// and returned errors go to the error handler and never escape the wrapper.
func Wrap(h HandlerFunc, c *Controller, env *Env) http.Handler {
	env = env.withDefaults()
	if c == nil {
		c = &Controller{Name: "anonymous"}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := NewResponseWriter(w)
		ctx := newContext(rw, r, c, env)

		value, err := invoke(h, ctx)
		if err != nil {
			ctx.next(err)
			return
		}
		if !rw.Writable() {
			ctx.Log.WithField("path", r.URL.Path).Debug("response already sent, skipping auto send")
			return
		}
		ctx.Send(value)
	})
}

func invoke(h HandlerFunc, ctx *Context) (value interface{}, err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
		if e, ok := rec.(error); ok {
			err = e
			ctx.Log.WithError(e).WithField("stack", string(debug.Stack())).Error("handler panicked")
			return
		}
		err = &cerrors.Error{
			Status:  http.StatusInternalServerError,
			Message: fmt.Sprint(rec),
			Stack:   string(debug.Stack()),
		}
	}()
	return h(ctx)
}
