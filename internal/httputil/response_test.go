package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sitechat/wa-relay-go/internal/errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   apperrors.ErrorCode
	}{
		{"not connected", apperrors.NotConnected(), http.StatusServiceUnavailable, apperrors.ErrCodeNotConnected},
		{"site not found", apperrors.SiteNotFound(), http.StatusNotFound, apperrors.ErrCodeSiteNotFound},
		{"timeout", apperrors.Timeout("slow"), http.StatusGatewayTimeout, apperrors.ErrCodeTimeout},
		{"logged out", apperrors.LoggedOut(), http.StatusServiceUnavailable, apperrors.ErrCodeLoggedOut},
		{"validation", apperrors.MissingRequired("message"), http.StatusBadRequest, apperrors.ErrCodeMissingRequired},
		{"conflict", apperrors.Conflict("replaced"), http.StatusConflict, apperrors.ErrCodeConflict},
		{"admin disabled", apperrors.AdminDisabled(), http.StatusServiceUnavailable, apperrors.ErrCodeAdminDisabled},
		{"rate limited", apperrors.RateLimitExceeded(), http.StatusTooManyRequests, apperrors.ErrCodeRateLimitExceeded},
		{"wrapped", fmt.Errorf("lookup: %w", apperrors.SiteNotFound()), http.StatusNotFound, apperrors.ErrCodeSiteNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, apperrors.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}
