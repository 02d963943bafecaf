package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/http/middleware"
	"github.com/navihealth/navi-portal/internal/messaging"
	"github.com/navihealth/navi-portal/internal/observability"
	"github.com/navihealth/navi-portal/internal/security"
	"github.com/navihealth/navi-portal/internal/service"
)

// activityParams survive the magic-token redirect.
var activityParams = []string{"track_id", "activity_id", "stakeholder_id"}

type EmbedHandler struct {
	sessions service.SessionServiceInterface
	branding service.BrandingServiceInterface
	cookies  security.CookiePolicy
}

func NewEmbedHandler(sessions service.SessionServiceInterface, branding service.BrandingServiceInterface, cookies security.CookiePolicy) *EmbedHandler {
	return &EmbedHandler{sessions: sessions, branding: branding, cookies: cookies}
}

// Embed serves /embed/{session_id}. With ?token= the path segment is a careflow
// ID and the magic token is exchanged for a session first.
func (h *EmbedHandler) Embed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if token := r.URL.Query().Get("token"); token != "" {
		h.bootstrapMagicSession(w, r, id, token)
		return
	}
	h.renderSession(w, r, id)
}

func (h *EmbedHandler) bootstrapMagicSession(w http.ResponseWriter, r *http.Request, careflowID, token string) {
	session, err := h.sessions.CreateFromMagicToken(r.Context(), careflowID, token)
	switch {
	case errors.Is(err, security.ErrSessionTokenExpired):
		observability.Audit(r, "magic_token.rejected", "reason", "expired")
		plainError(w, http.StatusBadRequest, "Token expired")
		return
	case errors.Is(err, security.ErrInvalidSessionToken):
		observability.Audit(r, "magic_token.rejected", "reason", "invalid")
		plainError(w, http.StatusBadRequest, "Invalid token")
		return
	case errors.Is(err, service.ErrCareflowMismatch):
		observability.Audit(r, "magic_token.rejected", "reason", "careflow_mismatch")
		plainError(w, http.StatusBadRequest, "Careflow mismatch")
		return
	case err != nil:
		plainError(w, http.StatusInternalServerError, "Unable to create session")
		return
	}
	observability.Audit(r, "session.created", "kind", string(session.Kind), "org_id", session.OrgID)

	target := url.URL{Path: "/embed/" + session.ID}
	q := url.Values{}
	for _, p := range activityParams {
		if v := r.URL.Query().Get(p); v != "" {
			q.Set(p, v)
		}
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

type embedScript struct {
	Source     string            `json:"source"`
	InstanceID string            `json:"instanceId"`
	SessionID  string            `json:"sessionId"`
	Page       string            `json:"page"`
	StatusURL  string            `json:"statusUrl,omitempty"`
	Events     map[string]string `json:"events"`
}

type embedPage struct {
	Title                string
	SessionID            string
	Page                 string
	CareflowID           string
	CareflowDefinitionID string
	Branding             []cssVar
	Script               embedScript
}

func (h *EmbedHandler) renderSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()
	session, err := h.sessions.Load(ctx, sessionID)
	if errors.Is(err, service.ErrSessionNotFound) {
		plainError(w, http.StatusNotFound, "Session not found or expired")
		return
	}
	if err != nil {
		plainError(w, http.StatusInternalServerError, "Unable to load session")
		return
	}

	cookieID := security.GetCookie(r, security.SessionCookieName)
	if survivor, redirect, err := h.sessions.Dedup(ctx, cookieID, session); err == nil && redirect {
		observability.Audit(r, "session.dedup_redirect", "org_id", session.OrgID)
		target := url.URL{Path: "/embed/" + survivor, RawQuery: r.URL.RawQuery}
		http.Redirect(w, r, target.String(), http.StatusFound)
		return
	}

	if session.State == domain.SessionStateError {
		msg := session.ErrorMessage
		if msg == "" {
			msg = "This session could not be started"
		}
		plainError(w, http.StatusBadRequest, msg)
		return
	}

	branding := h.branding.ForOrg(ctx, session.OrgID)
	token, err := h.sessions.MintJWT(session)
	if err != nil {
		plainError(w, http.StatusInternalServerError, "Unable to create session")
		return
	}

	page := session.Page()
	script := embedScript{
		Source:     messaging.Source,
		InstanceID: r.URL.Query().Get("instance_id"),
		SessionID:  session.ID,
		Page:       string(page),
		Events: map[string]string{
			"sessionReady":  string(messaging.SessionReady),
			"sessionError":  string(messaging.SessionError),
			"heightChanged": string(messaging.HeightChanged),
		},
	}
	if page == domain.PagePreparing {
		script.StatusURL = "/api/careflow-status?session_id=" + url.QueryEscape(session.ID)
	}
	title, _ := branding["title"].(string)
	if title == "" {
		title = "Care journey"
	}

	http.SetCookie(w, h.cookies.SessionCookie(session.ID))
	http.SetCookie(w, h.cookies.JWTCookie(token))
	middleware.AllowAnyFrameAncestor(w)
	renderPage(w, r, http.StatusOK, "embed.html", embedPage{
		Title:                title,
		SessionID:            session.ID,
		Page:                 string(page),
		CareflowID:           session.CareflowID,
		CareflowDefinitionID: session.CareflowDefinitionID,
		Branding:             brandingVars(branding),
		Script:               script,
	})
}
