package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sitechat/wa-relay-go/internal/whatsapp"
)

// Pinger is satisfied by *database.DB.
type Pinger interface {
	Healthy(ctx context.Context) error
}

// StatusSource is satisfied by *whatsapp.Manager.
type StatusSource interface {
	Status() whatsapp.Status
}

// Health answers 200 while the database is reachable. A disconnected
// WhatsApp session is reported but does not fail the check, since the
// relay recovers from it on its own.
func Health(db Pinger, wa StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"status":    "ok",
			"database":  "ok",
			"whatsapp":  wa.Status().State,
			"timestamp": time.Now().UnixMilli(),
		}
		status := http.StatusOK
		if err := db.Healthy(r.Context()); err != nil {
			log.Warn().Err(err).Msg("health check: database unreachable")
			resp["status"] = "degraded"
			resp["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
