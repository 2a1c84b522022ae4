package controller

import (
	stderrors "errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	cerrors "github.com/ship-components/ceres-framework-sub000/internal/errors"
	"github.com/ship-components/ceres-framework-sub000/internal/httputil"
	"github.com/ship-components/ceres-framework-sub000/pkg/config"
	"github.com/ship-components/ceres-framework-sub000/pkg/logger"
	"github.com/ship-components/ceres-framework-sub000/pkg/middleware"
	"github.com/ship-components/ceres-framework-sub000/pkg/model"
)

// recordingErrors captures every error routed to the error handler.
type recordingErrors struct {
	errs []error
}

func (r *recordingErrors) Handle(w http.ResponseWriter, _ *http.Request, err error) {
	r.errs = append(r.errs, err)
	w.WriteHeader(cerrors.StatusOf(err))
}

func testEnv(errs ErrorHandler) *Env {
	return &Env{Config: config.Default(), Log: logger.NewNop(), Errors: errs}
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Compile
// =============================================================================

func TestCompileWidgetsPaths(t *testing.T) {
	c := MustExtend(Definition{
		Name:     "widgets",
		Endpoint: "/widgets",
		Model:    model.NewMemory("widget"),
		Routes: Routes{
			"get /":    Call("getAll"),
			"put /:id": Call("putUpdate"),
		},
	})

	routes, err := Compile(c, testEnv(nil))
	require.NoError(t, err)
	require.Len(t, routes, 2)

	assert.Equal(t, "get", routes[0].Method)
	assert.Equal(t, "/widgets/", routes[0].Path)
	assert.Equal(t, "getAll", routes[0].HandlerName)

	assert.Equal(t, "put", routes[1].Method)
	assert.Equal(t, "/widgets/:id", routes[1].Path)
	assert.Equal(t, "/widgets/{id}", routes[1].Pattern)
}

func TestCompileCountMatchesEntries(t *testing.T) {
	c := MustExtend(Definition{Name: "widgets", Endpoint: "/widgets", Model: model.NewMemory("widget")})
	routes, err := Compile(c, testEnv(nil))
	require.NoError(t, err)
	assert.Len(t, routes, len(DefaultRoutes()))

	for i := 1; i < len(routes); i++ {
		prev, cur := routes[i-1], routes[i]
		assert.True(t, prev.Pattern < cur.Pattern || (prev.Pattern == cur.Pattern && prev.Method < cur.Method))
	}
}

func TestCompileCollapsesSlashes(t *testing.T) {
	c := MustExtend(Definition{
		Endpoint: "/api/",
		Routes:   Routes{"get //things//:id": Handle(func(*Context) (interface{}, error) { return nil, nil })},
	})
	routes, err := Compile(c, testEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, "/api/things/:id", routes[0].Path)
}

func TestCompileErrors(t *testing.T) {
	noop := Handle(func(*Context) (interface{}, error) { return nil, nil })

	t.Run("routes required", func(t *testing.T) {
		_, err := Compile(&Controller{Name: "bare"}, testEnv(nil))
		assert.ErrorIs(t, err, ErrRoutesRequired)
	})

	for _, key := range []string{"get", "get /a /b", ""} {
		t.Run("parse "+key, func(t *testing.T) {
			c := MustExtend(Definition{Name: "bad", Routes: Routes{key: noop}})
			_, err := Compile(c, testEnv(nil))
			var perr *RouteParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, key, perr.Route)
		})
	}

	t.Run("unknown method name", func(t *testing.T) {
		c := MustExtend(Definition{Name: "bad", Routes: Routes{"get /": Call("missing")}})
		_, err := Compile(c, testEnv(nil))
		var herr *HandlerError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, "missing", herr.Handler)
	})

	t.Run("nil handler", func(t *testing.T) {
		c := MustExtend(Definition{Name: "bad", Routes: Routes{"get /": Handle(nil)}})
		_, err := Compile(c, testEnv(nil))
		var herr *HandlerError
		assert.ErrorAs(t, err, &herr)
	})

	t.Run("unsupported http method", func(t *testing.T) {
		c := MustExtend(Definition{Name: "bad", Endpoint: "/x", Routes: Routes{"fetch /": noop}})
		_, err := Compile(c, testEnv(nil))
		var merr *MethodError
		require.ErrorAs(t, err, &merr)
		assert.Equal(t, "bad", merr.Controller)
		assert.Equal(t, "fetch", merr.Method)
		assert.Equal(t, "/x/", merr.Path)
	})

	t.Run("nil controller middleware", func(t *testing.T) {
		c := MustExtend(Definition{Name: "bad", Routes: Routes{"get /": noop}, Middleware: Use(nil)})
		_, err := Compile(c, testEnv(nil))
		var terr *MiddlewareTypeError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, 0, terr.Index)
	})

	t.Run("nil route middleware", func(t *testing.T) {
		c := MustExtend(Definition{Name: "bad", Routes: Routes{"get /": Chain(noop, passthrough, nil)}})
		_, err := Compile(c, testEnv(nil))
		var terr *MiddlewareTypeError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, 1, terr.Index)
		assert.Equal(t, "get /", terr.Route)
	})

	t.Run("method names are case insensitive", func(t *testing.T) {
		c := MustExtend(Definition{Name: "ok", Routes: Routes{"GET /": noop}})
		routes, err := Compile(c, testEnv(nil))
		require.NoError(t, err)
		assert.Equal(t, "get", routes[0].Method)
	})
}

func passthrough(next http.Handler) http.Handler { return next }

func tagger(tag string, order *[]string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*order = append(*order, tag)
			next.ServeHTTP(w, r)
		})
	}
}

func TestMiddlewareOrdering(t *testing.T) {
	var order []string
	c := MustExtend(Definition{
		Name:       "ordered",
		Middleware: Use(tagger("c1", &order), tagger("c2", &order)),
		Routes: Routes{
			"get /": Chain(Handle(func(*Context) (interface{}, error) {
				order = append(order, "handler")
				return "ok", nil
			}), tagger("r1", &order), tagger("r2", &order)),
		},
	})

	routes, err := Compile(c, testEnv(nil))
	require.NoError(t, err)
	args := routes[0].Args()
	require.Len(t, args, 6)
	assert.Equal(t, "/", args[0])

	router, err := c.Router(testEnv(nil))
	require.NoError(t, err)
	rec := serve(t, router, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"c1", "c2", "r1", "r2", "handler"}, order)
}

func TestMiddlewareFactory(t *testing.T) {
	var gotCfg *config.Config
	env := testEnv(nil)
	c := MustExtend(Definition{
		Name: "factory",
		Middleware: UseFactory(func(_ *middleware.Registry, cfg *config.Config) ([]mux.MiddlewareFunc, error) {
			gotCfg = cfg
			return []mux.MiddlewareFunc{passthrough}, nil
		}),
		Routes: Routes{"get /": Call("getAll")},
	})
	_, err := Compile(c, env)
	require.NoError(t, err)
	assert.Same(t, env.Config, gotCfg)

	failing := MustExtend(Definition{
		Name: "factory",
		Middleware: UseFactory(func(*middleware.Registry, *config.Config) ([]mux.MiddlewareFunc, error) {
			return nil, stderrors.New("boom")
		}),
	})
	_, err = Compile(failing, env)
	assert.ErrorContains(t, err, "boom")

	named := MustExtend(Definition{Name: "named", Middleware: UseNamed("nope")})
	_, err = Compile(named, env)
	assert.Error(t, err)
}

// =============================================================================
// Wrap
// =============================================================================

func TestWrapPanicGoesToErrorHandler(t *testing.T) {
	errs := &recordingErrors{}
	boom := stderrors.New("boom")
	h := Wrap(func(*Context) (interface{}, error) { panic(boom) }, nil, testEnv(errs))

	var rec *httptest.ResponseRecorder
	require.NotPanics(t, func() { rec = serve(t, h, http.MethodGet, "/", "") })
	require.Len(t, errs.errs, 1)
	assert.Same(t, boom, errs.errs[0])
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWrapNonErrorPanic(t *testing.T) {
	errs := &recordingErrors{}
	h := Wrap(func(*Context) (interface{}, error) { panic("oops") }, nil, testEnv(errs))
	serve(t, h, http.MethodGet, "/", "")
	require.Len(t, errs.errs, 1)
	assert.Equal(t, "oops", errs.errs[0].Error())
}

func TestWrapReturnedErrorGoesToErrorHandler(t *testing.T) {
	errs := &recordingErrors{}
	want := cerrors.NotFound("widget missing")
	h := Wrap(func(*Context) (interface{}, error) { return "ignored", want }, nil, testEnv(errs))

	rec := serve(t, h, http.MethodGet, "/", "")
	require.Len(t, errs.errs, 1)
	assert.Same(t, want, errs.errs[0])
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "ignored")
}

func TestWrapSendsValueWhenWritable(t *testing.T) {
	h := Wrap(func(*Context) (interface{}, error) {
		return map[string]int{"answer": 42}, nil
	}, nil, testEnv(nil))

	rec := serve(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), gjson.Get(rec.Body.String(), "answer").Int())
}

func TestWrapSkipsSendWhenNotWritable(t *testing.T) {
	h := Wrap(func(ctx *Context) (interface{}, error) {
		ctx.NoContent()
		assert.False(t, ctx.Response.Writable())
		return map[string]int{"answer": 42}, nil
	}, nil, testEnv(nil))

	rec := serve(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestSendIsIdempotent(t *testing.T) {
	h := Wrap(func(ctx *Context) (interface{}, error) {
		ctx.Send("first")
		require.NotPanics(t, func() {
			ctx.Send("second")
			ctx.NoContent()
		})
		assert.True(t, ctx.Response.Finished())
		return nil, nil
	}, nil, testEnv(nil))

	rec := serve(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "first", gjson.Parse(rec.Body.String()).String())
}

func TestContextHelpersFail(t *testing.T) {
	cases := []struct {
		name   string
		call   func(*Context)
		status int
		prefix string
	}{
		{"notFound", func(c *Context) { c.NotFound("widget") }, http.StatusNotFound, "Not Found: widget"},
		{"forbidden", func(c *Context) { c.Forbidden("") }, http.StatusUnauthorized, "Forbidden"},
		{"badRequest", func(c *Context) { c.BadRequest("nope") }, http.StatusBadRequest, "Bad Request: nope"},
		{"fail nil", func(c *Context) { c.Fail(nil) }, http.StatusInternalServerError, "fail called"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := &recordingErrors{}
			h := Wrap(func(ctx *Context) (interface{}, error) {
				tc.call(ctx)
				return "late", nil
			}, nil, testEnv(errs))

			rec := serve(t, h, http.MethodGet, "/", "")
			require.Len(t, errs.errs, 1)
			assert.True(t, strings.HasPrefix(errs.errs[0].Error(), tc.prefix), errs.errs[0].Error())
			assert.Equal(t, tc.status, rec.Code)
			assert.NotContains(t, rec.Body.String(), "late")
		})
	}
}

func TestContextValuesCopyControllerProperties(t *testing.T) {
	c := MustExtend(Definition{
		Name:       "props",
		Properties: map[string]interface{}{"greeting": "hi"},
		Routes: Routes{"get /": Handle(func(ctx *Context) (interface{}, error) {
			ctx.Values["greeting"] = "changed"
			return ctx.Values, nil
		})},
	})
	router, err := c.Router(testEnv(nil))
	require.NoError(t, err)

	serve(t, router, http.MethodGet, "/", "")
	assert.Equal(t, "hi", c.Properties["greeting"])
}

func TestWrapWithResponderWritesClassifiedError(t *testing.T) {
	env := &Env{Config: config.Default(), Log: logger.NewNop()}
	h := Wrap(func(*Context) (interface{}, error) {
		return nil, stderrors.New("Not Found: widget missing")
	}, nil, env)

	rec := serve(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "widget missing", gjson.Get(rec.Body.String(), "message").String())
}

func TestWrapUnencodableValueIsServerError(t *testing.T) {
	h := Wrap(func(*Context) (interface{}, error) {
		return math.NaN(), nil
	}, nil, nil)

	rec := serve(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, int64(500), gjson.Get(rec.Body.String(), "status").Int())
	assert.NotEmpty(t, gjson.Get(rec.Body.String(), "message").String())
}

func TestSendUnencodableValueGoesToErrorHandler(t *testing.T) {
	errs := &recordingErrors{}
	h := Wrap(func(ctx *Context) (interface{}, error) {
		ctx.SendStatus(http.StatusCreated, map[string]interface{}{"ch": make(chan int)})
		return nil, nil
	}, nil, testEnv(errs))

	rec := serve(t, h, http.MethodGet, "/", "")
	require.Len(t, errs.errs, 1)
	assert.ErrorIs(t, errs.errs[0], httputil.ErrEncode)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// =============================================================================
// Default CRUD
// =============================================================================

func TestDefaultCRUD(t *testing.T) {
	var created, deleted []interface{}
	c := MustExtend(Definition{
		Name:     "widgets",
		Endpoint: "/widgets",
		Model:    model.NewMemory("widget"),
		Init: func(c *Controller) error {
			c.On(EventCreated, func(p interface{}) { created = append(created, p) })
			c.On(EventDeleted, func(p interface{}) { deleted = append(deleted, p) })
			return nil
		},
	})
	router, err := c.Router(testEnv(nil))
	require.NoError(t, err)

	rec := serve(t, router, http.MethodPost, "/widgets", `{"name":"sprocket"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := gjson.Get(rec.Body.String(), "id").String()
	require.NotEmpty(t, id)
	assert.Len(t, created, 1)

	rec = serve(t, router, http.MethodGet, "/widgets/"+id, "")
	assert.Equal(t, "sprocket", gjson.Get(rec.Body.String(), "name").String())

	rec = serve(t, router, http.MethodPut, "/widgets/"+id, `{"name":"cog"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, router, http.MethodGet, "/widgets/", "")
	assert.Equal(t, "cog", gjson.Get(rec.Body.String(), "0.name").String())

	rec = serve(t, router, http.MethodDelete, "/widgets/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []interface{}{id}, deleted)

	rec = serve(t, router, http.MethodGet, "/widgets/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, router, http.MethodPost, "/widgets", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtendOverridesAndInit(t *testing.T) {
	calls := 0
	c, err := Extend(Definition{
		Name: "custom",
		Methods: map[string]HandlerFunc{
			"getAll": func(*Context) (interface{}, error) { return "custom", nil },
		},
		Init: func(*Controller) error { calls++; return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, c.Methods, "getOne")

	router, err := c.Router(testEnv(nil))
	require.NoError(t, err)
	rec := serve(t, router, http.MethodGet, "/", "")
	assert.Equal(t, "custom", gjson.Parse(rec.Body.String()).String())

	_, err = Extend(Definition{Init: func(*Controller) error { return stderrors.New("nope") }})
	assert.ErrorContains(t, err, "nope")
}

func TestEmitter(t *testing.T) {
	var e Emitter
	var got []interface{}
	id := e.On("ping", func(p interface{}) { got = append(got, p) })
	e.On("ping", func(p interface{}) { got = append(got, p) })

	assert.Equal(t, 2, e.Emit("ping", 1))
	assert.True(t, e.RemoveListener("ping", id))
	assert.False(t, e.RemoveListener("ping", id))
	assert.Equal(t, 1, e.Emit("ping", 2))
	assert.Equal(t, []interface{}{1, 1, 2}, got)
	assert.Equal(t, 0, e.Emit("other", nil))
}
