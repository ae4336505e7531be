package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/sitechat/wa-relay-go/internal/errors"
	"github.com/sitechat/wa-relay-go/internal/httputil"
	"github.com/sitechat/wa-relay-go/internal/model"
)

const (
	AdminSessionCookie = "admin_session"
	adminCookiePath    = "/admin"
)

const adminSessionKey contextKey = "adminSession"

// SessionValidator resolves console cookies. AdminService implements it.
type SessionValidator interface {
	Enabled() bool
	Session(ctx context.Context, token string) (*model.AdminSession, error)
}

// AdminSession returns the session attached by RequireAdmin.
func AdminSession(ctx context.Context) *model.AdminSession {
	session, _ := ctx.Value(adminSessionKey).(*model.AdminSession)
	return session
}

// RequireAdmin rejects console requests without a live session cookie.
func RequireAdmin(validator SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validator.Enabled() {
				httputil.WriteError(w, apperrors.AdminDisabled())
				return
			}

			var token string
			if cookie, err := r.Cookie(AdminSessionCookie); err == nil {
				token = cookie.Value
			}

			session, err := validator.Session(r.Context(), token)
			if err != nil {
				log.Error().Err(err).Msg("admin session lookup failed")
				httputil.WriteError(w, apperrors.Database(err))
				return
			}
			if session == nil {
				httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminSessionKey, session)))
		})
	}
}

// SetSessionCookie scopes the console cookie to /admin so widget requests
// never carry it.
func SetSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AdminSessionCookie,
		Value:    token,
		Path:     adminCookiePath,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     AdminSessionCookie,
		Path:     adminCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
	})
}
