package service

import (
	"context"
	"errors"
	"strings"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/repository"
)

var ErrInvalidTenantMapping = errors.New("organization, environment and tenant are required")

// TenantService maintains the organization -> tenant table the direct flow reads.
type TenantService struct {
	repo repository.TenantRepository
}

func NewTenantService(repo repository.TenantRepository) *TenantService {
	return &TenantService{repo: repo}
}

func (s *TenantService) Map(ctx context.Context, organizationID, environment, tenantID string) (*domain.OrganizationTenant, error) {
	m := &domain.OrganizationTenant{
		OrganizationID: strings.TrimSpace(organizationID),
		Environment:    strings.TrimSpace(environment),
		TenantID:       strings.TrimSpace(tenantID),
	}
	if m.OrganizationID == "" || m.Environment == "" || m.TenantID == "" {
		return nil, ErrInvalidTenantMapping
	}
	if err := s.repo.Upsert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}
