package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/http/request"
	"github.com/navihealth/navi-portal/internal/http/response"
	"github.com/navihealth/navi-portal/internal/observability"
	"github.com/navihealth/navi-portal/internal/service"
)

type BrandingHandler struct {
	branding service.BrandingServiceInterface
}

func NewBrandingHandler(branding service.BrandingServiceInterface) *BrandingHandler {
	return &BrandingHandler{branding: branding}
}

type brandingView struct {
	OrgID    string          `json:"orgId"`
	Branding domain.Branding `json:"branding,omitempty"`
	Deleted  bool            `json:"deleted,omitempty"`
}

// CORS opens the branding store to any origin. It carries no credentials.
func (h *BrandingHandler) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Del("Access-Control-Allow-Credentials")
		hdr.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		hdr.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (h *BrandingHandler) Options(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func orgIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID := strings.TrimSpace(r.URL.Query().Get("orgId"))
	if orgID == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "orgId is required", nil)
		return "", false
	}
	return orgID, true
}

func (h *BrandingHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}
	b, err := h.branding.Get(r.Context(), orgID)
	if errors.Is(err, service.ErrBrandingNotFound) {
		response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "no branding stored for this organization", nil)
		return
	}
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to read branding", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, brandingView{OrgID: orgID, Branding: b})
}

func (h *BrandingHandler) Put(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}
	var b domain.Branding
	if err := request.DecodeJSON(r, &b); err != nil || len(b) == 0 {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "branding must be a non-empty JSON object", nil)
		return
	}
	if err := h.branding.Put(r.Context(), orgID, b); err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to store branding", nil)
		return
	}
	observability.Audit(r, "branding.updated", "org_id", orgID)
	response.JSON(w, r, http.StatusOK, brandingView{OrgID: orgID, Branding: b})
}

func (h *BrandingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}
	if err := h.branding.Delete(r.Context(), orgID); err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to delete branding", nil)
		return
	}
	observability.Audit(r, "branding.deleted", "org_id", orgID)
	response.JSON(w, r, http.StatusOK, brandingView{OrgID: orgID, Deleted: true})
}
