package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/http/request"
	"github.com/navihealth/navi-portal/internal/http/response"
	"github.com/navihealth/navi-portal/internal/observability"
	"github.com/navihealth/navi-portal/internal/repository"
	"github.com/navihealth/navi-portal/internal/service"
)

// AdminHandler manages publishable keys and tenant mappings. Routes sit
// behind the admin token guard.
type AdminHandler struct {
	keys    service.PublishableKeyAdmin
	tenants service.TenantMapper
}

func NewAdminHandler(keys service.PublishableKeyAdmin, tenants service.TenantMapper) *AdminHandler {
	return &AdminHandler{keys: keys, tenants: tenants}
}

type upsertKeyRequest struct {
	Key            string   `json:"key" validate:"required,max=128"`
	OrgID          string   `json:"orgId" validate:"required,max=128"`
	TenantID       string   `json:"tenantId" validate:"required,max=128"`
	Environment    string   `json:"environment" validate:"required,max=64"`
	AllowedDomains []string `json:"allowedDomains" validate:"max=32,dive,required,max=253"`
	IsActive       *bool    `json:"isActive"`
}

type tenantRequest struct {
	OrganizationID string `json:"organizationId" validate:"required,max=128"`
	Environment    string `json:"environment" validate:"required,max=64"`
	TenantID       string `json:"tenantId" validate:"required,max=128"`
}

func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("pageSize"))
	out, err := h.keys.List(r.Context(), orgID, repository.PageRequest{Page: page, PageSize: size})
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to list publishable keys", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, out)
}

func (h *AdminHandler) PutKey(w http.ResponseWriter, r *http.Request) {
	var req upsertKeyRequest
	if err := request.Decode(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid publishable key", request.FieldErrors(err))
		return
	}
	pk := &domain.PublishableKey{
		Key:            strings.TrimSpace(req.Key),
		OrgID:          req.OrgID,
		TenantID:       req.TenantID,
		Environment:    req.Environment,
		IsActive:       req.IsActive == nil || *req.IsActive,
		AllowedDomains: req.AllowedDomains,
	}
	err := h.keys.Register(r.Context(), pk)
	if errors.Is(err, service.ErrPublishableKeyRejected) {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "keys must start with pk_test_ or pk_live_", nil)
		return
	}
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to store publishable key", nil)
		return
	}
	observability.Audit(r, "publishable_key.registered", "org_id", pk.OrgID, "environment", pk.Environment, "active", pk.IsActive)
	response.JSON(w, r, http.StatusOK, pk)
}

func (h *AdminHandler) DeactivateKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	err := h.keys.Deactivate(r.Context(), key)
	if errors.Is(err, repository.ErrPublishableKeyNotFound) {
		response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "publishable key not found", nil)
		return
	}
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to deactivate publishable key", nil)
		return
	}
	observability.Audit(r, "publishable_key.deactivated")
	response.JSON(w, r, http.StatusOK, map[string]any{"key": key, "isActive": false})
}

func (h *AdminHandler) PutTenant(w http.ResponseWriter, r *http.Request) {
	var req tenantRequest
	if err := request.Decode(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid tenant mapping", request.FieldErrors(err))
		return
	}
	m, err := h.tenants.Map(r.Context(), req.OrganizationID, req.Environment, req.TenantID)
	if errors.Is(err, service.ErrInvalidTenantMapping) {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, err.Error(), nil)
		return
	}
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "failed to store tenant mapping", nil)
		return
	}
	observability.Audit(r, "tenant.mapped", "organization_id", m.OrganizationID, "environment", m.Environment)
	response.JSON(w, r, http.StatusOK, m)
}
