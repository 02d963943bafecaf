package handler

import (
	"net/http"
	"strings"
	"testing"
)

func TestBrandingStoreCRUD(t *testing.T) {
	f := newHandlerFixture(t)
	const path = "/api/branding/store?orgId=org-1"

	rr := perform(f.router, http.MethodGet, "/api/branding/store", nil, nil, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without orgId, got %d", rr.Code)
	}
	rr = perform(f.router, http.MethodGet, path, nil, nil, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before write, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected permissive cors on every response")
	}

	rr = perform(f.router, http.MethodPost, path, nil, nil, `{"primary":"#00ff00","logoUrl":"https://cdn.example/logo.svg"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on write, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = perform(f.router, http.MethodPost, path, nil, nil, `[]`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-object body, got %d", rr.Code)
	}

	rr = perform(f.router, http.MethodGet, path, nil, nil, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"primary":"#00ff00"`) {
		t.Fatalf("expected stored branding, got %d %s", rr.Code, rr.Body.String())
	}

	rr = perform(f.router, http.MethodDelete, path, nil, nil, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"deleted":true`) {
		t.Fatalf("expected delete to succeed, got %d %s", rr.Code, rr.Body.String())
	}
	rr = perform(f.router, http.MethodGet, path, nil, nil, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestBrandingStorePreflight(t *testing.T) {
	f := newHandlerFixture(t)
	rr := perform(f.router, http.MethodOptions, "/api/branding/store?orgId=org-1", map[string]string{
		"Origin":                        "https://anywhere.example",
		"Access-Control-Request-Method": http.MethodPost,
	}, nil, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" || !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "DELETE") {
		t.Fatalf("unexpected cors headers %v", rr.Header())
	}
}
