package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/http/middleware"
	"github.com/navihealth/navi-portal/internal/http/request"
	"github.com/navihealth/navi-portal/internal/http/response"
	"github.com/navihealth/navi-portal/internal/observability"
	"github.com/navihealth/navi-portal/internal/security"
	"github.com/navihealth/navi-portal/internal/service"
)

const defaultStatusStreamTimeout = 10 * time.Minute

type SessionHandler struct {
	sessions      service.SessionServiceInterface
	keys          service.PublishableKeyValidator
	branding      service.BrandingServiceInterface
	baseURL       string
	pollInterval  time.Duration
	streamTimeout time.Duration
}

func NewSessionHandler(
	sessions service.SessionServiceInterface,
	keys service.PublishableKeyValidator,
	branding service.BrandingServiceInterface,
	baseURL string,
	pollInterval time.Duration,
) *SessionHandler {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &SessionHandler{
		sessions:      sessions,
		keys:          keys,
		branding:      branding,
		baseURL:       baseURL,
		pollInterval:  pollInterval,
		streamTimeout: defaultStatusStreamTimeout,
	}
}

type patientIdentifierBody struct {
	System string `json:"system" validate:"required"`
	Value  string `json:"value" validate:"required"`
}

type createSessionRequest struct {
	PublishableKey       string                 `json:"publishableKey"`
	CareflowID           string                 `json:"careflowId" validate:"max=128"`
	CareflowDefinitionID string                 `json:"careflowDefinitionId" validate:"max=128"`
	SessionID            string                 `json:"sessionId" validate:"omitempty,uuid"`
	AwellPatientID       string                 `json:"awellPatientId" validate:"max=128"`
	PatientIdentifier    *patientIdentifierBody `json:"patientIdentifier" validate:"omitempty"`
	TrackID              string                 `json:"trackId" validate:"max=128"`
	ActivityID           string                 `json:"activityId" validate:"max=128"`
	StakeholderID        string                 `json:"stakeholderId" validate:"max=128"`
	Branding             domain.Branding        `json:"branding" validate:"max=64"`
}

// createSessionResponse keeps the body shape the loader script depends on.
type createSessionResponse struct {
	Success  bool            `json:"success"`
	EmbedURL string          `json:"embedUrl,omitempty"`
	Branding domain.Branding `json:"branding,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func writeCreateSession(w http.ResponseWriter, status int, body createSessionResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// CreateCareflowSession authorises the publishable key and origin before it
// looks at anything else in the request, cookies included.
func (h *SessionHandler) CreateCareflowSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := request.DecodeJSON(r, &req); err != nil {
		writeCreateSession(w, http.StatusBadRequest, createSessionResponse{Error: "Invalid request body"})
		return
	}
	scope, err := h.keys.ValidateKey(r.Context(), req.PublishableKey, r.Header.Get("Origin"))
	if err != nil {
		if errors.Is(err, service.ErrPublishableKeyRejected) {
			observability.Audit(r, "publishable_key.rejected", "reason", rejectionReason(err))
			writeCreateSession(w, http.StatusUnauthorized, createSessionResponse{Error: "Invalid publishable key or origin"})
			return
		}
		writeCreateSession(w, http.StatusInternalServerError, createSessionResponse{Error: "Unable to validate publishable key"})
		return
	}
	middleware.AllowCredentialedOrigin(w, r.Header.Get("Origin"))
	if err := request.Validate(&req); err != nil {
		writeCreateSession(w, http.StatusBadRequest, createSessionResponse{Error: err.Error()})
		return
	}
	if req.CareflowID == "" && req.CareflowDefinitionID == "" && req.SessionID == "" {
		writeCreateSession(w, http.StatusBadRequest, createSessionResponse{Error: service.ErrSessionTargetRequired.Error()})
		return
	}

	ctx := r.Context()
	var session *domain.Session
	if req.SessionID == "" {
		if existing, ok := h.sessions.ReusableCookieSession(ctx, security.GetCookie(r, security.SessionCookieName), scope.OrgID); ok {
			observability.Audit(r, "session.reused", "org_id", scope.OrgID)
			session = existing
		}
	}
	if session == nil {
		embedReq := service.EmbedSessionRequest{
			CareflowID:           req.CareflowID,
			CareflowDefinitionID: req.CareflowDefinitionID,
			SessionID:            req.SessionID,
			PatientID:            req.AwellPatientID,
			TrackID:              req.TrackID,
			ActivityID:           req.ActivityID,
			StakeholderID:        req.StakeholderID,
		}
		if req.PatientIdentifier != nil {
			embedReq.PatientIdentifier = &domain.PatientIdentifier{System: req.PatientIdentifier.System, Value: req.PatientIdentifier.Value}
		}
		session, err = h.sessions.CreateEmbedSession(ctx, *scope, embedReq)
		switch {
		case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrSessionOrgMismatch):
			writeCreateSession(w, http.StatusNotFound, createSessionResponse{Error: "Session not found"})
			return
		case err != nil:
			writeCreateSession(w, http.StatusInternalServerError, createSessionResponse{Error: "Unable to create session"})
			return
		}
		observability.Audit(r, "session.created", "kind", string(session.Kind), "org_id", session.OrgID)
	}

	writeCreateSession(w, http.StatusOK, createSessionResponse{
		Success:  true,
		EmbedURL: h.baseURL + "/embed/" + session.ID,
		Branding: h.branding.Merge(ctx, scope.OrgID, req.Branding),
	})
}

// CreateCareflowSessionPreflight answers the loader's CORS preflight from any
// origin. A preflight carries no body, so the publishable key is checked on
// the POST, which only grants read access to origins the key allows.
func (h *SessionHandler) CreateCareflowSessionPreflight(w http.ResponseWriter, r *http.Request) {
	middleware.AllowCredentialedOrigin(w, r.Header.Get("Origin"))
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Content-Type")
	hdr.Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

func rejectionReason(err error) string {
	var pkErr *service.PublishableKeyError
	if errors.As(err, &pkErr) {
		return pkErr.Reason
	}
	return "unknown"
}

type transitionRequest struct {
	State        domain.SessionState `json:"state" validate:"required,oneof=active error"`
	CareflowID   string              `json:"careflowId" validate:"max=128"`
	ErrorMessage string              `json:"errorMessage" validate:"max=512"`
}

type sessionStateView struct {
	SessionID  string              `json:"sessionId"`
	State      domain.SessionState `json:"state"`
	CareflowID string              `json:"careflowId,omitempty"`
}

// UpdateState is the orchestration hook that moves a session to active or error.
func (h *SessionHandler) UpdateState(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := request.Decode(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid state transition request", request.FieldErrors(err))
		return
	}
	session, err := h.sessions.Transition(r.Context(), chi.URLParam(r, "session_id"), req.State, req.CareflowID, req.ErrorMessage)
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "session not found", nil)
		return
	case errors.Is(err, service.ErrInvalidStateTransition):
		response.Error(w, r, http.StatusConflict, response.CodeInvalidTransition, err.Error(), nil)
		return
	case err != nil:
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to update session", nil)
		return
	}
	observability.Audit(r, "session.state_changed", "state", string(session.State))
	response.JSON(w, r, http.StatusOK, sessionStateView{SessionID: session.ID, State: session.State, CareflowID: session.CareflowID})
}

type sessionClaimsView struct {
	Subject             string `json:"subject"`
	PatientID           string `json:"patientId"`
	OrgID               string `json:"orgId"`
	TenantID            string `json:"tenantId"`
	Environment         string `json:"environment"`
	AuthenticationState string `json:"authenticationState"`
	StakeholderID       string `json:"stakeholderId,omitempty"`
	ExpiresAt           int64  `json:"expiresAt"`
}

// Current echoes the verified session JWT so the embedded app can read its scope.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "missing session token", nil)
		return
	}
	view := sessionClaimsView{
		Subject:             claims.Subject,
		PatientID:           claims.PatientID,
		OrgID:               claims.OrgID,
		TenantID:            claims.TenantID,
		Environment:         claims.Environment,
		AuthenticationState: claims.AuthenticationState,
		StakeholderID:       claims.StakeholderID,
	}
	if claims.ExpiresAt != nil {
		view.ExpiresAt = claims.ExpiresAt.Unix()
	}
	response.JSON(w, r, http.StatusOK, view)
}

type statusEvent struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId,omitempty"`
	State      string `json:"state,omitempty"`
	CareflowID string `json:"careflowId,omitempty"`
	Message    string `json:"message,omitempty"`
}

// CareflowStatus streams session progress as Server-Sent Events until the
// session is ready, fails, or the client goes away.
func (h *SessionHandler) CareflowStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "session_id is required", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, r, http.StatusInternalServerError, response.CodeStreamingUnsupported, "streaming unsupported", nil)
		return
	}

	ctx := r.Context()
	observability.RecordCareflowStatusStream(ctx, 1)
	defer observability.RecordCareflowStatusStream(ctx, -1)

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(ev statusEvent) bool {
		raw, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(statusEvent{Type: "connection", SessionID: sessionID}) {
		return
	}
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(h.streamTimeout)
	defer deadline.Stop()

	for {
		session, err := h.sessions.Load(ctx, sessionID)
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			send(statusEvent{Type: "error", SessionID: sessionID, Message: "Session not found or expired"})
			return
		case err != nil:
			if !send(statusEvent{Type: "progress", SessionID: sessionID, Message: "Waiting for session store"}) {
				return
			}
		case session.State == domain.SessionStateError:
			send(statusEvent{Type: "error", SessionID: sessionID, State: string(session.State), Message: session.ErrorMessage})
			return
		case session.IsActiveCareflow():
			send(statusEvent{Type: "ready", SessionID: sessionID, State: string(session.State), CareflowID: session.CareflowID})
			return
		default:
			if !send(statusEvent{Type: "progress", SessionID: sessionID, State: string(session.State), Message: "Preparing your care journey"}) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			send(statusEvent{Type: "error", SessionID: sessionID, Message: "Timed out waiting for the care journey"})
			return
		case <-ticker.C:
		}
	}
}
