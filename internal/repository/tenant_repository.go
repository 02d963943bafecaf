package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/observability"
)

var ErrTenantNotFound = errors.New("tenant mapping not found")

// TenantRepository resolves identity-broker organizations to tenants per environment.
type TenantRepository interface {
	FindTenantID(ctx context.Context, organizationID, environment string) (string, error)
	Upsert(ctx context.Context, m *domain.OrganizationTenant) error
}

type GormTenantRepository struct{ db *gorm.DB }

func NewTenantRepository(db *gorm.DB) TenantRepository { return &GormTenantRepository{db: db} }

func (r *GormTenantRepository) FindTenantID(ctx context.Context, organizationID, environment string) (string, error) {
	var m domain.OrganizationTenant
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND environment = ?", organizationID, environment).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "tenant", "find_tenant_id", "not_found")
			return "", ErrTenantNotFound
		}
		observability.RecordRepositoryOperation(ctx, "tenant", "find_tenant_id", "error")
		return "", err
	}
	observability.RecordRepositoryOperation(ctx, "tenant", "find_tenant_id", "success")
	return m.TenantID, nil
}

func (r *GormTenantRepository) Upsert(ctx context.Context, m *domain.OrganizationTenant) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "environment"}},
		DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "tenant", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "tenant", "upsert", "success")
	return nil
}
