package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ship-components/ceres-framework-sub000/pkg/config"
	"github.com/ship-components/ceres-framework-sub000/pkg/controller"
	"github.com/ship-components/ceres-framework-sub000/pkg/logger"
	"github.com/ship-components/ceres-framework-sub000/pkg/model"
	"github.com/ship-components/ceres-framework-sub000/pkg/testutil"
)

func widgets(t *testing.T) *controller.Controller {
	t.Helper()
	c, err := controller.Extend(controller.Definition{
		Name:     "widgets",
		Endpoint: "/widgets",
		Model:    model.NewMemory("widget"),
	})
	require.NoError(t, err)
	return c
}

func newServer(t *testing.T, cfg *config.Config, checks map[string]HealthCheck) *Server {
	t.Helper()
	s, err := New(Options{Config: cfg, Log: logger.NewNop(), Controllers: []*controller.Controller{widgets(t)}, HealthChecks: checks})
	require.NoError(t, err)
	return s
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerRoutesControllers(t *testing.T) {
	s := newServer(t, config.Default(), nil)
	assert.Len(t, s.Routes(), len(controller.DefaultRoutes()))

	rec := do(s, http.MethodPost, "/widgets/", `{"name":"cog"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(s, http.MethodGet, "/widgets", "")
	assert.Equal(t, "cog", gjson.Get(rec.Body.String(), "0.name").String())
}

func TestServerNotFoundAndMethodNotAllowed(t *testing.T) {
	s := newServer(t, config.Default(), nil)

	rec := do(s, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "/nope", gjson.Get(rec.Body.String(), "message").String())

	rec = do(s, http.MethodPatch, "/widgets/1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerHealth(t *testing.T) {
	s := newServer(t, config.Default(), map[string]HealthCheck{
		"cache": func(context.Context) error { return nil },
	})
	rec := do(s, http.MethodGet, HealthPath, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "checks.cache").String())

	s = newServer(t, config.Default(), map[string]HealthCheck{
		"db": func(context.Context) error { return errors.New("down") },
	})
	rec = do(s, http.MethodGet, HealthPath, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", gjson.Get(rec.Body.String(), "status").String())
}

func TestServerMetricsEndpoint(t *testing.T) {
	s := newServer(t, testutil.Config(func(c *config.Config) {
		c.Metrics.Enabled = true
		c.Metrics.Path = "/metrics"
	}), nil)

	do(s, http.MethodGet, "/widgets/", "")
	rec := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ceres_http_requests_total{method="GET",route="/widgets/",status="200"}`)
}

func TestServerCSRF(t *testing.T) {
	s := newServer(t, testutil.Config(func(c *config.Config) { c.CSRF.Enabled = true }), nil)

	rec := do(s, http.MethodPost, "/widgets/", `{"name":"cog"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Bad Token", gjson.Get(rec.Body.String(), "message").String())
}

func TestServerRejectsBadController(t *testing.T) {
	bad := controller.MustExtend(controller.Definition{
		Name:   "bad",
		Routes: controller.Routes{"get /": controller.Call("missing")},
	})
	_, err := New(Options{Controllers: []*controller.Controller{bad}})
	var herr *controller.HandlerError
	assert.ErrorAs(t, err, &herr)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newServer(t, testutil.Config(nil), nil)
	ln := testutil.Listen(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + HealthPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
