package handler

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/navihealth/navi-portal/internal/http/middleware"
	"github.com/navihealth/navi-portal/internal/observability"
	"github.com/navihealth/navi-portal/internal/security"
	"github.com/navihealth/navi-portal/internal/service"
)

type SmartHandler struct {
	smart   service.SmartServiceInterface
	gate    service.FeatureGate
	cookies security.CookiePolicy
}

func NewSmartHandler(smart service.SmartServiceInterface, gate service.FeatureGate, cookies security.CookiePolicy) *SmartHandler {
	return &SmartHandler{smart: smart, gate: gate, cookies: cookies}
}

func (h *SmartHandler) Launch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := h.smart.Launch(r.Context(), q.Get("iss"), q.Get("launch"))
	if err != nil {
		h.redirectError(w, r, "smart.launch.failed", err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *SmartHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ticket, err := h.smart.Callback(r.Context(), service.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		h.redirectError(w, r, "smart.callback.failed", err)
		return
	}
	redirectHome(w, r, ticket)
}

func (h *SmartHandler) Direct(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ticket, err := h.smart.Direct(r.Context(), service.DirectParams{
		PatientIdentifier:     q.Get("patient_identifier"),
		Token:                 q.Get("token"),
		OrganizationID:        q.Get("organization_id"),
		TrustedTokenProfileID: q.Get("trusted_token_profile_id"),
		Environment:           q.Get("environment"),
	})
	if err != nil {
		h.redirectError(w, r, "smart.direct.failed", err)
		return
	}
	redirectHome(w, r, ticket)
}

func redirectHome(w http.ResponseWriter, r *http.Request, ticket string) {
	http.Redirect(w, r, "/smart/home?ticket="+url.QueryEscape(ticket), http.StatusFound)
}

func (h *SmartHandler) redirectError(w http.ResponseWriter, r *http.Request, event string, err error) {
	serr := service.AsSmartError(err)
	observability.Audit(r, event, "code", serr.Code, "status", serr.Status, "iss", serr.Issuer)
	q := url.Values{}
	q.Set("code", serr.Code)
	q.Set("message", serr.Message)
	q.Set("status", strconv.Itoa(serr.Status))
	if serr.Issuer != "" {
		q.Set("iss", serr.Issuer)
	}
	http.Redirect(w, r, "/smart/error?"+q.Encode(), http.StatusFound)
}

type smartHomePage struct {
	Issuer   string
	Email    string
	Patient  string
	FHIRUser string
}

// Home redeems the one-time ticket and sets the broker and app cookies.
func (h *SmartHandler) Home(w http.ResponseWriter, r *http.Request) {
	data, err := h.smart.ConsumeTicket(r.Context(), r.URL.Query().Get("ticket"))
	if err != nil {
		serr := service.AsSmartError(err)
		observability.Audit(r, "smart.ticket.rejected", "code", serr.Code)
		renderSmartError(w, r, serr.Code, serr.Message, serr.Status, serr.Issuer)
		return
	}
	observability.Audit(r, "smart.ticket.consumed", "iss", data.Issuer, "organization_id", data.OrganizationID)

	httpOnly := h.gate != nil && h.gate.Enabled(r.Context(), service.FlagSmartHTTPOnlySessionCookie)
	http.SetCookie(w, h.cookies.StytchSessionCookie(data.StytchSessionToken, httpOnly))
	if data.AppJWT != "" {
		http.SetCookie(w, h.cookies.JWTCookie(data.AppJWT))
	}
	middleware.AllowAnyFrameAncestor(w)
	renderPage(w, r, http.StatusOK, "smart_home.html", smartHomePage{
		Issuer:   data.Issuer,
		Email:    data.Email,
		Patient:  data.Patient,
		FHIRUser: data.FHIRUser,
	})
}

func (h *SmartHandler) Error(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := strconv.Atoi(q.Get("status"))
	if err != nil {
		status = http.StatusBadRequest
	}
	renderSmartError(w, r, service.NormalizeErrorCode(q.Get("code")), q.Get("message"), status, q.Get("iss"))
}

type smartErrorPage struct {
	Code    string
	Heading string
	Message string
	Status  int
	Issuer  string
}

func renderSmartError(w http.ResponseWriter, r *http.Request, code, message string, status int, iss string) {
	if status < 400 || status > 599 {
		status = http.StatusBadRequest
	}
	if code == "" {
		code = "unknown_error"
	}
	page := smartErrorPage{Code: code, Heading: "We could not sign you in", Message: message, Status: status, Issuer: iss}
	switch code {
	case service.SmartErrEmailNotFound:
		page.Heading = "Your account is not set up yet"
		page.Message = "No matching user is provisioned for your EHR account. Please contact your administrator to request access."
	case service.SmartErrInvalidTicket:
		page.Heading = "This sign-in link has expired"
	}
	if page.Message == "" {
		page.Message = "Please relaunch the application from your EHR."
	}
	middleware.AllowAnyFrameAncestor(w)
	renderPage(w, r, status, "smart_error.html", page)
}
