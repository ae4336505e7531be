package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat/wa-relay-go/internal/model"
)

type fakeValidator struct {
	enabled  bool
	sessions map[string]*model.AdminSession
	err      error
}

func (v *fakeValidator) Enabled() bool { return v.enabled }

func (v *fakeValidator) Session(_ context.Context, token string) (*model.AdminSession, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.sessions[token], nil
}

func TestRequireAdmin(t *testing.T) {
	var seen *model.AdminSession
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = AdminSession(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	request := func(token string) *http.Request {
		req := httptest.NewRequest("GET", "/admin/api/status", nil)
		if token != "" {
			req.AddCookie(&http.Cookie{Name: AdminSessionCookie, Value: token})
		}
		return req
	}

	live := &fakeValidator{enabled: true, sessions: map[string]*model.AdminSession{"tok": {ID: "s1"}}}

	tests := []struct {
		name      string
		validator *fakeValidator
		token     string
		status    int
	}{
		{"disabled without password hash", &fakeValidator{}, "tok", http.StatusServiceUnavailable},
		{"missing cookie", live, "", http.StatusUnauthorized},
		{"unknown session", live, "other", http.StatusUnauthorized},
		{"store failure", &fakeValidator{enabled: true, err: errors.New("db down")}, "tok", http.StatusInternalServerError},
		{"valid session", live, "tok", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			rec := httptest.NewRecorder()
			RequireAdmin(tc.validator)(next).ServeHTTP(rec, request(tc.token))
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, "s1", seen.ID)
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}

func TestSessionCookie(t *testing.T) {
	expires := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	rec := httptest.NewRecorder()
	SetSessionCookie(rec, "tok", expires, true)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, AdminSessionCookie, c.Name)
	assert.Equal(t, "/admin", c.Path)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.True(t, expires.Equal(c.Expires))

	rec = httptest.NewRecorder()
	ClearSessionCookie(rec)
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestCSRF(t *testing.T) {
	handler := CSRF(false)(okHandler())

	t.Run("safe request issues a cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/admin/api/status", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, CSRFCookieName, cookies[0].Name)
		assert.False(t, cookies[0].HttpOnly)
	})

	t.Run("post without header is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/admin/api/sites", nil)
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "abc"})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("post with mismatched header is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/admin/api/sites", nil)
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "abc"})
		req.Header.Set(CSRFHeaderName, "xyz")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("post with matching header passes", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/admin/api/sites", nil)
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "abc"})
		req.Header.Set(CSRFHeaderName, "abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestLimitBody(t *testing.T) {
	t.Run("declared length over the cap", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/message", nil)
		req.ContentLength = 9
		rec := httptest.NewRecorder()
		LimitBody(8)(okHandler()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("undeclared body is capped while reading", func(t *testing.T) {
		var readErr error
		handler := LimitBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, readErr = io.ReadAll(r.Body)
		}))
		req := httptest.NewRequest("POST", "/api/message", strings.NewReader("0123456789"))
		req.ContentLength = -1
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Error(t, readErr)
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	NewSecurityHeadersMiddleware(true).Handler(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/admin/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "img-src 'self' data:")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRequestLogger(t *testing.T) {
	handler := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWidgetCORS(t *testing.T) {
	handler := WidgetCORS([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/send", nil)
		req.Header.Set("Origin", "https://shop.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("simple request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
		req.Header.Set("Origin", "https://shop.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
	})
}
