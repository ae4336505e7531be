// Package audit records console actions on a separate, filterable stream.
package audit

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/sitechat/wa-relay-go/internal/middleware"
)

type EventType string

const (
	EventLoginSuccess     EventType = "login_success"
	EventLoginFailure     EventType = "login_failure"
	EventLogout           EventType = "logout"
	EventSiteCreate       EventType = "site_create"
	EventForceReconnect   EventType = "whatsapp_force_reconnect"
	EventPairingCodeShown EventType = "pairing_code_shown"
)

type Event struct {
	Type      EventType
	SiteID    string
	SessionID string
	IP        string
	UserAgent string
	Details   map[string]any
}

// Log writes one info line tagged audit=security. Empty fields are left out.
func Log(_ context.Context, event Event) {
	e := log.Info().
		Str("audit", "security").
		Str("event_type", string(event.Type))

	for key, val := range map[string]string{
		"site_id":    event.SiteID,
		"session_id": event.SessionID,
		"ip":         event.IP,
		"user_agent": event.UserAgent,
	} {
		if val != "" {
			e = e.Str(key, val)
		}
	}
	if len(event.Details) > 0 {
		e = e.Fields(event.Details)
	}
	e.Msg("audit")
}

// LogFromRequest fills in the caller address, user agent and console session.
func LogFromRequest(r *http.Request, event Event) {
	event.IP = middleware.ClientIP(r)
	event.UserAgent = r.UserAgent()
	if session := middleware.AdminSession(r.Context()); session != nil && event.SessionID == "" {
		event.SessionID = session.ID
	}
	Log(r.Context(), event)
}
