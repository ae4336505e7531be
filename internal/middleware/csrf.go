package middleware

import (
	"net/http"
	"time"

	apperrors "github.com/sitechat/wa-relay-go/internal/errors"
	"github.com/sitechat/wa-relay-go/internal/httputil"
	"github.com/sitechat/wa-relay-go/internal/util"
)

const (
	CSRFCookieName = "csrf_token"
	CSRFHeaderName = "X-CSRF-Token"

	csrfCookieTTL = 24 * time.Hour
)

// CSRF guards the console with a double-submit cookie: state-changing
// requests must echo the csrf_token cookie back in X-CSRF-Token.
func CSRF(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookieToken := ""
			if c, err := r.Cookie(CSRFCookieName); err == nil {
				cookieToken = c.Value
			}

			if cookieToken == "" {
				issued, err := util.GenerateToken()
				if err != nil {
					httputil.WriteError(w, apperrors.Internal("Failed to generate security token"))
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     CSRFCookieName,
					Value:    issued,
					Path:     adminCookiePath,
					MaxAge:   int(csrfCookieTTL.Seconds()),
					Secure:   secure,
					SameSite: http.SameSiteStrictMode,
				})
				cookieToken = issued
			}

			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			sent := r.Header.Get(CSRFHeaderName)
			switch {
			case sent == "":
				httputil.WriteError(w, apperrors.Forbidden("Missing CSRF token"))
			case !util.ConstantTimeEqual(cookieToken, sent):
				httputil.WriteError(w, apperrors.Forbidden("Invalid CSRF token"))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
