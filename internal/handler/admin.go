package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/sitechat/wa-relay-go/internal/audit"
	apperrors "github.com/sitechat/wa-relay-go/internal/errors"
	"github.com/sitechat/wa-relay-go/internal/httputil"
	"github.com/sitechat/wa-relay-go/internal/middleware"
	"github.com/sitechat/wa-relay-go/internal/service"
)

const qrImageSize = 256

type AdminHandler struct {
	adminService      *service.AdminService
	siteService       *service.SiteService
	relay             *service.RelayService
	sessionMiddleware func(http.Handler) http.Handler
	loginRateLimiter  *middleware.RateLimitMiddleware
	isProduction      bool
}

func NewAdminHandler(
	adminService *service.AdminService,
	siteService *service.SiteService,
	relay *service.RelayService,
	sessionMiddleware func(http.Handler) http.Handler,
	isProduction bool,
) *AdminHandler {
	return &AdminHandler{
		adminService:      adminService,
		siteService:       siteService,
		relay:             relay,
		sessionMiddleware: sessionMiddleware,
		loginRateLimiter:  middleware.NewLoginRateLimiter(),
		isProduction:      isProduction,
	}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.loginRateLimiter.Handler).Post("/api/login", h.Login)
	r.Post("/api/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(h.sessionMiddleware)
		r.Get("/api/status", h.Status)
		r.Get("/api/qr", h.QR)
		r.Post("/api/whatsapp/reconnect", h.Reconnect)

		r.Get("/api/sites", h.ListSites)
		r.Post("/api/sites", h.CreateSite)
	})

	return r
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		httputil.WriteError(w, apperrors.MissingRequired("password"))
		return
	}

	if !h.adminService.Enabled() {
		httputil.WriteError(w, apperrors.AdminDisabled())
		return
	}

	result, err := h.adminService.Login(r.Context(), req.Password, service.LoginMeta{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		log.Error().Err(err).Msg("admin login error")
		httputil.WriteError(w, apperrors.Internal("Login failed"))
		return
	}

	if result == nil {
		audit.LogFromRequest(r, audit.Event{Type: audit.EventLoginFailure})
		httputil.WriteError(w, apperrors.Unauthorized("Invalid password"))
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLoginSuccess})
	middleware.SetSessionCookie(w, result.Token, result.ExpiresAt, h.isProduction)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.AdminSessionCookie)
	if err == nil && cookie.Value != "" {
		if err := h.adminService.Logout(r.Context(), cookie.Value); err != nil {
			log.Warn().Err(err).Msg("failed to delete admin session")
		}
		audit.LogFromRequest(r, audit.Event{Type: audit.EventLogout})
	}

	middleware.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	sites, err := h.siteService.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list sites")
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"whatsapp": h.relay.Status(),
		"sites":    sites,
	})
}

// QR renders the current pairing code as a PNG data URL. qr is null while
// the session is connected or no code has been issued yet.
func (h *AdminHandler) QR(w http.ResponseWriter, r *http.Request) {
	status := h.relay.Status()
	resp := map[string]any{
		"connected": status.Connected,
		"state":     status.State,
		"qr":        nil,
	}

	code := h.relay.PairingCode()
	if code == "" || status.Connected {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to render pairing qr")
		httputil.WriteError(w, apperrors.Internal("Failed to render QR code"))
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventPairingCodeShown})
	resp["qr"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.relay.ForceReconnect(r.Context()); err != nil {
		log.Error().Err(err).Msg("force reconnect failed")
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventForceReconnect})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"whatsapp": h.relay.Status(),
	})
}

func (h *AdminHandler) ListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.siteService.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list sites")
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": sites,
		"total": len(sites),
	})
}

func (h *AdminHandler) CreateSite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OperatorPhone string  `json:"operatorPhone"`
		DisplayName   *string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.OperatorPhone == "" {
		httputil.WriteError(w, apperrors.MissingRequired("operatorPhone"))
		return
	}

	site, err := h.siteService.Create(r.Context(), service.CreateSiteParams{
		OperatorPhone: req.OperatorPhone,
		DisplayName:   req.DisplayName,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventSiteCreate, SiteID: site.ID})
	writeJSON(w, http.StatusCreated, site)
}
