package controller

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	cerrors "github.com/ship-components/ceres-framework-sub000/internal/errors"
	"github.com/ship-components/ceres-framework-sub000/internal/httputil"
	"github.com/ship-components/ceres-framework-sub000/pkg/config"
	"github.com/ship-components/ceres-framework-sub000/pkg/logger"
	"github.com/ship-components/ceres-framework-sub000/pkg/model"
)

// =============================================================================
// Response writer
// =============================================================================

// ResponseWriter tracks whether a response has started and whether it was
// ended by one of the Context helpers.
type ResponseWriter struct {
	http.ResponseWriter
	status      int
	headersSent bool
	finished    bool
}

// NewResponseWriter wraps w.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	if rw, ok := w.(*ResponseWriter); ok {
		return rw
	}
	return &ResponseWriter{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader records the status and forwards it once.
func (w *ResponseWriter) WriteHeader(code int) {
	if w.headersSent {
		return
	}
	w.status = code
	w.headersSent = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *ResponseWriter) Write(b []byte) (int, error) {
	if !w.headersSent {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Status is the status code written, or 200 when nothing was written yet.
func (w *ResponseWriter) Status() int { return w.status }

// HeadersSent reports whether the status line has been written.
func (w *ResponseWriter) HeadersSent() bool { return w.headersSent }

// Finished reports whether a helper ended the response.
func (w *ResponseWriter) Finished() bool { return w.finished }

// Writable reports whether a response can still be emitted.
func (w *ResponseWriter) Writable() bool { return !w.finished && !w.headersSent }

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *ResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *ResponseWriter) end() { w.finished = true }

// =============================================================================
// Context
// =============================================================================

// Context is the per-request execution context handed to every HandlerFunc.
type Context struct {
	Request    *http.Request
	Response   *ResponseWriter
	Controller *Controller
	Config     *config.Config
	Log        *logger.Logger
	Models     map[string]model.Model
	App        *Env
	// Values holds the controller's properties plus anything set during the request.
	Values map[string]interface{}

	next func(error)
}

func newContext(w *ResponseWriter, r *http.Request, c *Controller, env *Env) *Context {
	values := make(map[string]interface{}, len(c.Properties))
	for k, v := range c.Properties {
		values[k] = v
	}
	ctx := &Context{
		Request:    r,
		Response:   w,
		Controller: c,
		Config:     env.Config,
		Log:        env.Log.WithContext(r.Context()).WithComponent(c.Name),
		Models:     env.Models,
		App:        env,
		Values:     values,
	}
	ctx.next = func(err error) { env.fail(w, r, err) }
	return ctx
}

// Param returns a path parameter.
func (c *Context) Param(name string) string {
	return mux.Vars(c.Request)[name]
}

// Decode reads a JSON request body into dst. Malformed bodies are Bad Request errors.
func (c *Context) Decode(dst interface{}) error {
	if err := httputil.DecodeJSON(c.Request, dst); err != nil {
		return cerrors.BadRequest(err.Error())
	}
	return nil
}

// Send writes v as a 200 JSON body and ends the response. Calling it on a
// response that was already sent logs a warning and does nothing.
func (c *Context) Send(v interface{}) {
	c.SendStatus(http.StatusOK, v)
}

// SendStatus is Send with an explicit status.
func (c *Context) SendStatus(status int, v interface{}) {
	if !c.Response.Writable() {
		c.Log.WithField("path", c.Request.URL.Path).Warn("send called on a response that was already sent")
		return
	}
	if err := httputil.WriteJSON(c.Response, status, v); err != nil {
		if errors.Is(err, httputil.ErrEncode) {
			c.Fail(err)
			return
		}
		c.Log.WithError(err).Warn("failed to write response")
	}
	c.Response.end()
}

// NoContent ends the response with 204.
func (c *Context) NoContent() {
	if !c.Response.Writable() {
		c.Log.WithField("path", c.Request.URL.Path).Warn("noContent called on a response that was already sent")
		return
	}
	c.Response.WriteHeader(http.StatusNoContent)
	c.Response.end()
}

// Fail forwards err to the error handler. It never swallows an error; a nil err
// is reported as an unclassified failure.
func (c *Context) Fail(err error) {
	if err == nil {
		err = cerrors.New("fail called without an error")
	}
	c.next(err)
}

// NotFound fails the request with "Not Found: <context>".
func (c *Context) NotFound(context string) { c.Fail(cerrors.NotFound(context)) }

// Forbidden fails the request with "Forbidden: <context>".
func (c *Context) Forbidden(context string) { c.Fail(cerrors.Forbidden(context)) }

// BadRequest fails the request with "Bad Request: <context>".
func (c *Context) BadRequest(context string) { c.Fail(cerrors.BadRequest(context)) }
