// Package errors classifies application errors into HTTP outcomes.
//
// Handlers signal common failures by returning an error whose message starts
// with a well-known prefix ("Not Found: widget missing"), by carrying an
// explicit status, or by carrying a well-known code. Classify maps any error to
// a status and a client-safe message using an ordered, first-match rule table.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// CodeBadCSRFToken marks errors raised by the csrf middleware.
const CodeBadCSRFToken = "EBADCSRFTOKEN"

// GenericMessage replaces unclassified error messages in production.
const GenericMessage = "Something went wrong"

// Error is an application error carrying an HTTP status.
type Error struct {
	Status  int
	Code    string
	Message string
	Stack   string
	Err     error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return http.StatusText(e.Status)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the explicit status.
func (e *Error) HTTPStatus() int { return e.Status }

// ErrorCode returns the machine readable code.
func (e *Error) ErrorCode() string { return e.Code }

type statusCarrier interface{ HTTPStatus() int }

type codeCarrier interface{ ErrorCode() string }

// =============================================================================
// Rules
// =============================================================================

// Rule is one entry of the classification table.
type Rule struct {
	Name    string
	Prefix  string
	Code    string
	Status  int
	Default string

	pattern *regexp.Regexp
}

func prefixRule(prefix string, status int, def string) Rule {
	return Rule{
		Name:    prefix,
		Prefix:  prefix,
		Status:  status,
		Default: def,
		pattern: regexp.MustCompile(`(?is)^` + regexp.QuoteMeta(prefix) + `\b\s*:?\s*(.*)$`),
	}
}

// Rules is the ordered classification table.
var Rules = []Rule{
	prefixRule("Forbidden", http.StatusUnauthorized, "Please login first"),
	prefixRule("Permission Denied", http.StatusForbidden, "You do not have permission to access this."),
	prefixRule("Not Found", http.StatusNotFound, "Unable to find resource"),
	prefixRule("Bad Request", http.StatusBadRequest, "Bad Request"),
	{Name: "Bad Token", Code: CodeBadCSRFToken, Status: http.StatusBadRequest, Default: "Bad Token"},
}

// match returns the captured context when the rule's prefix matches message.
func (r Rule) match(message string) (string, bool) {
	if r.pattern == nil {
		return "", false
	}
	m := r.pattern.FindStringSubmatch(strings.TrimSpace(message))
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// =============================================================================
// Classification
// =============================================================================

// Classification is the outcome of Classify.
type Classification struct {
	Status  int
	Message string
	Context string
	Rule    string
	Known   bool
}

// Classify maps err to a status and message. Field based rules (code, then
// explicit status) are consulted before message prefixes. Unmatched errors are
// a 500 whose message is hidden when production is true.
func Classify(err error, production bool) Classification {
	if err == nil {
		return Classification{Status: http.StatusInternalServerError, Message: GenericMessage}
	}
	message := err.Error()

	var cc codeCarrier
	if stderrors.As(err, &cc) && cc.ErrorCode() != "" {
		for _, rule := range Rules {
			if rule.Code != "" && rule.Code == cc.ErrorCode() {
				return Classification{Status: rule.Status, Message: rule.Default, Rule: rule.Name, Known: true}
			}
		}
	}

	var sc statusCarrier
	if stderrors.As(err, &sc) && sc.HTTPStatus() != 0 {
		status := sc.HTTPStatus()
		for _, rule := range Rules {
			if rule.Status != status || rule.pattern == nil {
				continue
			}
			ctx, matched := rule.match(message)
			switch {
			case matched && ctx != "":
				return Classification{Status: status, Message: ctx, Context: ctx, Rule: rule.Name, Known: true}
			case matched:
				return Classification{Status: status, Message: rule.Default, Rule: rule.Name, Known: true}
			}
		}
		for _, rule := range Rules {
			if rule.Status == status && rule.pattern != nil {
				msg := strings.TrimSpace(message)
				if msg == "" || msg == http.StatusText(status) {
					msg = rule.Default
				}
				return Classification{Status: status, Message: msg, Rule: rule.Name, Known: true}
			}
		}
		if status >= 400 && status < 500 {
			return Classification{Status: status, Message: message, Known: true}
		}
	}

	for _, rule := range Rules {
		ctx, matched := rule.match(message)
		if !matched {
			continue
		}
		msg := rule.Default
		if ctx != "" {
			msg = ctx
		}
		return Classification{Status: rule.Status, Message: msg, Context: ctx, Rule: rule.Name, Known: true}
	}

	c := Classification{Status: http.StatusInternalServerError, Message: message}
	if production || message == "" {
		c.Message = GenericMessage
	}
	return c
}

// StatusOf is shorthand for Classify(err, false).Status.
func StatusOf(err error) int {
	return Classify(err, false).Status
}

// =============================================================================
// Constructors
// =============================================================================

func prefixed(prefix string, status int, context string) *Error {
	msg := prefix
	if context = strings.TrimSpace(context); context != "" {
		msg = fmt.Sprintf("%s: %s", prefix, context)
	}
	return &Error{Status: status, Message: msg}
}

// NotFound builds a "Not Found: <context>" error with status 404.
func NotFound(context string) *Error {
	return prefixed("Not Found", http.StatusNotFound, context)
}

// Forbidden builds a "Forbidden: <context>" error with status 401.
func Forbidden(context string) *Error {
	return prefixed("Forbidden", http.StatusUnauthorized, context)
}

// PermissionDenied builds a "Permission Denied: <context>" error with status 403.
func PermissionDenied(context string) *Error {
	return prefixed("Permission Denied", http.StatusForbidden, context)
}

// BadRequest builds a "Bad Request: <context>" error with status 400.
func BadRequest(context string) *Error {
	return prefixed("Bad Request", http.StatusBadRequest, context)
}

// BadToken builds the error raised on CSRF token mismatch.
func BadToken() *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeBadCSRFToken, Message: "invalid csrf token"}
}

// RateLimitExceeded builds a 429 error.
func RateLimitExceeded(limit int, window string) *Error {
	return &Error{
		Status:  http.StatusTooManyRequests,
		Code:    "RATE_LIMITED",
		Message: fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window),
	}
}

// Wrap attaches a status to an existing error.
func Wrap(err error, status int) *Error {
	if err == nil {
		return nil
	}
	return &Error{Status: status, Message: err.Error(), Err: err}
}
