package service

import (
	"context"
	"errors"
	"log/slog"
	"maps"

	"golang.org/x/sync/singleflight"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/observability"
)

func DefaultBranding() domain.Branding {
	return domain.Branding{
		"primary":    "#004ac2",
		"background": "#ffffff",
		"foreground": "#1f2937",
		"radius":     "0.5rem",
		"fontFamily": "Inter, system-ui, sans-serif",
	}
}

// BrandingService resolves per-org branding. Lookups never fail: any store
// error falls back to the defaults so presentation cannot block a session.
type BrandingService struct {
	store BrandingStore
	group singleflight.Group
}

func NewBrandingService(store BrandingStore) *BrandingService {
	return &BrandingService{store: store}
}

func (s *BrandingService) ForOrg(ctx context.Context, orgID string) domain.Branding {
	if orgID == "" || s.store == nil {
		return DefaultBranding()
	}
	v, err, _ := s.group.Do(orgID, func() (any, error) {
		return s.store.Get(ctx, orgID)
	})
	switch {
	case errors.Is(err, ErrBrandingNotFound):
		observability.RecordBrandingLookup(ctx, "default")
		return DefaultBranding()
	case err != nil:
		observability.RecordBrandingLookup(ctx, "error")
		slog.WarnContext(ctx, "branding lookup failed, using defaults", "org_id", orgID, "error", err)
		return DefaultBranding()
	}
	observability.RecordBrandingLookup(ctx, "hit")
	out := DefaultBranding()
	maps.Copy(out, v.(domain.Branding))
	return out
}

// Merge overlays request-supplied branding on top of the org branding.
func (s *BrandingService) Merge(ctx context.Context, orgID string, override domain.Branding) domain.Branding {
	out := s.ForOrg(ctx, orgID)
	maps.Copy(out, override)
	return out
}

func (s *BrandingService) Get(ctx context.Context, orgID string) (domain.Branding, error) {
	return s.store.Get(ctx, orgID)
}

func (s *BrandingService) Put(ctx context.Context, orgID string, b domain.Branding) error {
	return s.store.Put(ctx, orgID, b)
}

func (s *BrandingService) Delete(ctx context.Context, orgID string) error {
	return s.store.Delete(ctx, orgID)
}
