package middleware

import (
	"net/http"

	apperrors "github.com/sitechat/wa-relay-go/internal/errors"
	"github.com/sitechat/wa-relay-go/internal/httputil"
)

// DefaultMaxBodySize fits any widget message plus its JSON envelope.
const DefaultMaxBodySize = 64 << 10

// LimitBody rejects declared oversize bodies up front and caps the rest
// while they are read.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				httputil.WriteError(w, apperrors.PayloadTooLarge())
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
