package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/sitechat/wa-relay-go/internal/errors"
	"github.com/sitechat/wa-relay-go/internal/httputil"
	"github.com/sitechat/wa-relay-go/internal/model"
	"github.com/sitechat/wa-relay-go/internal/service"
)

// WidgetHandler serves the public API used by the chat widget embedded on
// customer sites.
type WidgetHandler struct {
	relay       *service.RelayService
	waitTimeout time.Duration
}

func NewWidgetHandler(relay *service.RelayService, waitTimeout time.Duration) *WidgetHandler {
	return &WidgetHandler{relay: relay, waitTimeout: waitTimeout}
}

func (h *WidgetHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/site/{code}", h.GetSite)
	r.Post("/message", h.SendMessage)
	r.Get("/messages", h.ListMessages)

	return r
}

func (h *WidgetHandler) GetSite(w http.ResponseWriter, r *http.Request) {
	site, err := h.relay.Site(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code":      site.Code,
		"site_name": site.DisplayName,
		"status":    map[string]bool{"connected": h.relay.Status().Connected},
	})
}

type sendMessageRequest struct {
	SiteCode     string  `json:"site_code"`
	VisitorID    string  `json:"visitor_id"`
	Message      string  `json:"message"`
	VisitorName  *string `json:"visitor_name"`
	VisitorPhone *string `json:"visitor_phone"`
}

// SendMessage forwards widget text to the operator. With ?wait=true the
// request stays open until the operator answers or the wait times out.
func (h *WidgetHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid JSON body"))
		return
	}

	params := service.SendParams{
		SiteCode:     req.SiteCode,
		VisitorID:    req.VisitorID,
		VisitorName:  req.VisitorName,
		VisitorPhone: req.VisitorPhone,
		Text:         req.Message,
	}

	if r.URL.Query().Get("wait") != "true" {
		result, err := h.relay.Send(r.Context(), params)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"conversation_id": result.ConversationID,
			"closed":          result.Closed,
		})
		return
	}

	result, err := h.relay.SendAndWait(r.Context(), params, h.waitTimeout)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := map[string]any{
		"success":         true,
		"conversation_id": result.ConversationID,
		"closed":          result.Closed,
	}
	if result.Reply != nil {
		resp["reply"] = toWidgetMessages([]model.Message{*result.Reply})[0]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *WidgetHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	siteCode, visitorID := q.Get("site_code"), q.Get("visitor_id")
	if siteCode == "" || visitorID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("site_code and visitor_id"))
		return
	}

	since, ok := parseSince(q.Get("since"))
	if !ok {
		httputil.WriteError(w, apperrors.InvalidInput("since", "must be a unix timestamp in milliseconds"))
		return
	}

	result, err := h.relay.Messages(r.Context(), siteCode, visitorID, since)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := map[string]any{"messages": toWidgetMessages(result.Messages)}
	if result.ConversationID != "" {
		resp["conversation_id"] = result.ConversationID
		resp["conversation_status"] = result.Status
	}
	writeJSON(w, http.StatusOK, resp)
}
