package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/observability"
)

var ErrPublishableKeyNotFound = errors.New("publishable key not found")

type PublishableKeyRepository interface {
	FindByKey(ctx context.Context, key string) (*domain.PublishableKey, error)
	Upsert(ctx context.Context, pk *domain.PublishableKey) error
	Deactivate(ctx context.Context, key string) error
	ListByOrg(ctx context.Context, orgID string, page PageRequest) (PageResult[domain.PublishableKey], error)
}

type GormPublishableKeyRepository struct{ db *gorm.DB }

func NewPublishableKeyRepository(db *gorm.DB) PublishableKeyRepository {
	return &GormPublishableKeyRepository{db: db}
}

func (r *GormPublishableKeyRepository) FindByKey(ctx context.Context, key string) (*domain.PublishableKey, error) {
	var pk domain.PublishableKey
	err := r.db.WithContext(ctx).Where("publishable_key = ?", key).First(&pk).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "publishable_key", "find_by_key", "not_found")
			return nil, ErrPublishableKeyNotFound
		}
		observability.RecordRepositoryOperation(ctx, "publishable_key", "find_by_key", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "publishable_key", "find_by_key", "success")
	return &pk, nil
}

func (r *GormPublishableKeyRepository) Upsert(ctx context.Context, pk *domain.PublishableKey) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "publishable_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"org_id", "tenant_id", "environment", "is_active", "allowed_domains", "updated_at"}),
	}).Create(pk).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "publishable_key", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "publishable_key", "upsert", "success")
	return nil
}

func (r *GormPublishableKeyRepository) Deactivate(ctx context.Context, key string) error {
	res := r.db.WithContext(ctx).Model(&domain.PublishableKey{}).Where("publishable_key = ?", key).Update("is_active", false)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "publishable_key", "deactivate", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "publishable_key", "deactivate", "not_found")
		return ErrPublishableKeyNotFound
	}
	observability.RecordRepositoryOperation(ctx, "publishable_key", "deactivate", "success")
	return nil
}

func (r *GormPublishableKeyRepository) ListByOrg(ctx context.Context, orgID string, page PageRequest) (PageResult[domain.PublishableKey], error) {
	page = normalizePageRequest(page)
	out := PageResult[domain.PublishableKey]{Page: page.Page, PageSize: page.PageSize}
	q := r.db.WithContext(ctx).Model(&domain.PublishableKey{}).Where("org_id = ?", orgID)
	if err := q.Count(&out.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "publishable_key", "list_by_org", "error")
		return out, err
	}
	err := q.Order("created_at DESC").
		Offset((page.Page - 1) * page.PageSize).
		Limit(page.PageSize).
		Find(&out.Items).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "publishable_key", "list_by_org", "error")
		return out, err
	}
	out.TotalPages = calcTotalPages(out.Total, page.PageSize)
	observability.RecordRepositoryOperation(ctx, "publishable_key", "list_by_org", "success")
	return out, nil
}
