package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"

	cerrors "github.com/ship-components/ceres-framework-sub000/internal/errors"
	"github.com/ship-components/ceres-framework-sub000/pkg/config"
)

// CSRFMiddleware implements the double-submit cookie pattern: safe requests get
// a token cookie, unsafe requests must echo it in a header or form field.
type CSRFMiddleware struct {
	cookie string
	header string
	fail   FailFunc
}

// NewCSRFMiddleware creates the csrf middleware.
func NewCSRFMiddleware(cfg config.CSRFConfig, fail FailFunc) *CSRFMiddleware {
	m := &CSRFMiddleware{cookie: cfg.Cookie, header: cfg.Header, fail: fail}
	if m.cookie == "" {
		m.cookie = "_csrf"
	}
	if m.header == "" {
		m.header = "X-CSRF-Token"
	}
	return m
}

// Handler returns the csrf middleware handler.
func (m *CSRFMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(m.cookie)
		token := ""
		if err == nil {
			token = cookie.Value
		}

		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			if token == "" {
				token = newCSRFToken()
				http.SetCookie(w, &http.Cookie{
					Name:     m.cookie,
					Value:    token,
					Path:     "/",
					SameSite: http.SameSiteLaxMode,
				})
			}
			w.Header().Set(m.header, token)
			next.ServeHTTP(w, r)
			return
		}

		sent := r.Header.Get(m.header)
		if sent == "" {
			sent = r.PostFormValue("_csrf")
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(sent)) != 1 {
			m.fail(w, r, cerrors.BadToken())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newCSRFToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
