package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestClassifyMessagePrefixes(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found with context", New("Not Found: widget missing"), 404, "widget missing"},
		{"forbidden bare", New("Forbidden"), 401, "Please login first"},
		{"forbidden lower case", New("forbidden: session expired"), 401, "session expired"},
		{"permission denied", New("Permission Denied"), 403, "You do not have permission to access this."},
		{"bad request", New("Bad Request: name is required"), 400, "name is required"},
		{"bad request bare", New("Bad Request"), 400, "Bad Request"},
		{"prefix must be a word", New("Forbiddenness"), 500, "Forbiddenness"},
		{"unclassified", New("database exploded"), 500, "database exploded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err, false)
			assert.Equal(t, tt.status, c.Status)
			assert.Equal(t, tt.message, c.Message)
		})
	}
}

func TestClassifyCSRFCodeWinsOverMessage(t *testing.T) {
	err := &Error{Code: CodeBadCSRFToken, Message: "Not Found: whatever"}
	c := Classify(err, false)
	assert.Equal(t, http.StatusBadRequest, c.Status)
	assert.Equal(t, "Bad Token", c.Message)

	wrapped := fmt.Errorf("middleware: %w", BadToken())
	assert.Equal(t, http.StatusBadRequest, Classify(wrapped, true).Status)
}

func TestClassifyExplicitStatus(t *testing.T) {
	c := Classify(&Error{Status: 404, Message: "widget gone"}, false)
	assert.Equal(t, 404, c.Status)
	assert.Equal(t, "widget gone", c.Message)

	c = Classify(&Error{Status: 404}, false)
	assert.Equal(t, "Unable to find resource", c.Message)

	c = Classify(NotFound("widget 7"), false)
	assert.Equal(t, 404, c.Status)
	assert.Equal(t, "widget 7", c.Message)

	c = Classify(RateLimitExceeded(10, "1s"), false)
	assert.Equal(t, http.StatusTooManyRequests, c.Status)
}

func TestClassifyProductionHidesMessage(t *testing.T) {
	c := Classify(New("pq: relation users does not exist"), true)
	assert.Equal(t, 500, c.Status)
	assert.Equal(t, GenericMessage, c.Message)
	assert.False(t, c.Known)

	c = Classify(NotFound("widget"), true)
	assert.Equal(t, "widget", c.Message)
}

func TestConstructorsArePrefixed(t *testing.T) {
	assert.Equal(t, "Not Found: widget", NotFound("widget").Error())
	assert.Equal(t, "Forbidden", Forbidden("").Error())
	assert.Equal(t, 401, Forbidden("").Status)
	assert.Equal(t, 403, PermissionDenied("x").Status)
	assert.Equal(t, 400, BadRequest("x").Status)
	assert.Nil(t, Wrap(nil, 400))
}

func TestResponderJSON(t *testing.T) {
	r := NewResponder(false, nil)
	var observed int
	r.OnError(func(status int) { observed = status })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/widgets/1", nil)
	r.Handle(rec, req, New("Not Found: widget missing"))

	assert.Equal(t, 404, rec.Code)
	assert.Equal(t, 404, observed)
	body := rec.Body.String()
	assert.Equal(t, "widget missing", gjson.Get(body, "message").String())
	assert.Equal(t, "widget missing", gjson.Get(body, "context").String())
	assert.NotEmpty(t, gjson.Get(body, "requestId").String())
	assert.Equal(t, gjson.Get(body, "requestId").String(), rec.Header().Get(RequestIDHeader))
}

func TestResponderProductionOmitsDetail(t *testing.T) {
	r := NewResponder(true, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Handle(rec, req, &Error{Message: "boom", Stack: "goroutine 1"})

	var body Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 500, body.Status)
	assert.Equal(t, GenericMessage, body.Message)
	assert.Empty(t, body.Stack)
	assert.Empty(t, body.Context)
}

func TestResponderHTML(t *testing.T) {
	r := NewResponder(false, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "text/html")
	r.Handle(rec, req, New("Forbidden"))

	assert.Equal(t, 401, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "Please login first")
}

type sentRecorder struct {
	*httptest.ResponseRecorder
}

func (sentRecorder) HeadersSent() bool { return true }

func TestResponderSkipsWhenAlreadySent(t *testing.T) {
	r := NewResponder(false, nil)
	rec := sentRecorder{httptest.NewRecorder()}
	r.Handle(rec, httptest.NewRequest(http.MethodGet, "/", nil), New("late"))
	assert.Equal(t, 0, rec.Body.Len())
}
