package service

import (
	"context"
	"errors"
	"testing"

	"github.com/navihealth/navi-portal/internal/domain"
)

type failingBrandingStore struct{}

func (failingBrandingStore) Get(context.Context, string) (domain.Branding, error) {
	return nil, errors.New("kv unavailable")
}
func (failingBrandingStore) Put(context.Context, string, domain.Branding) error { return nil }
func (failingBrandingStore) Delete(context.Context, string) error               { return nil }

func TestBrandingForOrgFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	defaults := DefaultBranding()

	if got := NewBrandingService(failingBrandingStore{}).ForOrg(ctx, "org-1"); got["primary"] != defaults["primary"] {
		t.Fatalf("expected defaults on store error, got %v", got)
	}
	if got := NewBrandingService(nil).ForOrg(ctx, "org-1"); len(got) != len(defaults) {
		t.Fatalf("expected defaults without store, got %v", got)
	}

	_, client := newRedisClientForTest(t)
	svc := NewBrandingService(NewRedisBrandingStore(client, "navi_test:branding"))
	if got := svc.ForOrg(ctx, "org-missing"); got["primary"] != defaults["primary"] {
		t.Fatalf("expected defaults for unknown org, got %v", got)
	}
}

func TestBrandingOverlaysStoredAndRequestValues(t *testing.T) {
	ctx := context.Background()
	_, client := newRedisClientForTest(t)
	svc := NewBrandingService(NewRedisBrandingStore(client, "navi_test:branding"))

	if err := svc.Put(ctx, "org-1", domain.Branding{"primary": "#ff0000", "logoUrl": "https://cdn.example.com/logo.svg"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got := svc.ForOrg(ctx, "org-1")
	if got["primary"] != "#ff0000" || got["logoUrl"] == nil || got["background"] != "#ffffff" {
		t.Fatalf("expected stored branding over defaults, got %v", got)
	}

	merged := svc.Merge(ctx, "org-1", domain.Branding{"primary": "#00ff00"})
	if merged["primary"] != "#00ff00" || merged["logoUrl"] == nil {
		t.Fatalf("expected request override to win, got %v", merged)
	}

	got["primary"] = "mutated"
	if again := svc.ForOrg(ctx, "org-1"); again["primary"] != "#ff0000" {
		t.Fatalf("callers must receive independent copies, got %v", again)
	}
}
