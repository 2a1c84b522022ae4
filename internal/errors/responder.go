package errors

import (
	stderrors "errors"
	"fmt"
	"html"
	"net/http"

	"github.com/ship-components/ceres-framework-sub000/internal/httputil"
	"github.com/ship-components/ceres-framework-sub000/pkg/logger"
)

// RequestIDHeader carries the correlation id of a failed request.
const RequestIDHeader = "X-Request-ID"

// Body is the JSON error payload.
type Body struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Context   string `json:"context,omitempty"`
	Stack     string `json:"stack,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type headersSent interface{ HeadersSent() bool }

// Responder is the terminal error handler of every request.
type Responder struct {
	production bool
	log        *logger.Logger
	observe    func(status int)
}

// NewResponder creates a responder. In production, context and stack are
// omitted and unclassified messages are replaced.
func NewResponder(production bool, log *logger.Logger) *Responder {
	if log == nil {
		log = logger.NewNop()
	}
	return &Responder{production: production, log: log.WithComponent("errors")}
}

// OnError registers a callback invoked with the status of every handled error.
func (r *Responder) OnError(fn func(status int)) {
	r.observe = fn
}

// Production reports whether production output is used.
func (r *Responder) Production() bool { return r.production }

// Handle classifies err and writes the error response. Nothing is written when
// the response was already started; the error is still logged.
func (r *Responder) Handle(w http.ResponseWriter, req *http.Request, err error) {
	c := Classify(err, r.production)

	requestID := logger.GetTraceID(req.Context())
	if requestID == "" {
		requestID = logger.NewTraceID()
	}

	entry := r.log.WithContext(req.Context()).WithFields(map[string]interface{}{
		"request_id": requestID,
		"status":     c.Status,
		"method":     req.Method,
		"path":       req.URL.Path,
	})
	if c.Status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithError(err).Debug("request rejected")
	}
	if r.observe != nil {
		r.observe(c.Status)
	}

	if hs, ok := w.(headersSent); ok && hs.HeadersSent() {
		entry.Warn("error after response was sent; not writing error body")
		return
	}

	body := Body{Status: c.Status, Message: c.Message, RequestID: requestID}
	if !r.production {
		body.Context = c.Context
		var e *Error
		if As(err, &e) && e.Stack != "" {
			body.Stack = e.Stack
		}
	}

	w.Header().Set(RequestIDHeader, requestID)
	if httputil.PrefersHTML(req) {
		_ = httputil.WriteHTML(w, c.Status, renderHTML(body))
		return
	}
	_ = httputil.WriteJSON(w, c.Status, body)
}

func renderHTML(b Body) string {
	title := fmt.Sprintf("%d %s", b.Status, http.StatusText(b.Status))
	doc := "<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>" + html.EscapeString(title) +
		"</title></head><body><h1>" + html.EscapeString(title) + "</h1><p>" + html.EscapeString(b.Message) + "</p>"
	if b.Stack != "" {
		doc += "<pre>" + html.EscapeString(b.Stack) + "</pre>"
	}
	if b.RequestID != "" {
		doc += "<small>" + html.EscapeString(b.RequestID) + "</small>"
	}
	return doc + "</body></html>"
}

// As and Is re-export the standard library helpers so callers need one import.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// New creates a plain error.
func New(text string) error { return stderrors.New(text) }
