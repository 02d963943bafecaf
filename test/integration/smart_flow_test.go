package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/navihealth/navi-portal/internal/config"
	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/security"
	"github.com/navihealth/navi-portal/internal/service"
	"github.com/navihealth/navi-portal/internal/tools/magiclink"
)

const stytchOrgID = "organization-test-1"

// fakeEHR serves SMART discovery and a token endpoint that checks PKCE.
type fakeEHR struct {
	srv *httptest.Server

	mu       sync.Mutex
	verifier string
}

func newFakeEHR(t *testing.T) *fakeEHR {
	t.Helper()
	ehr := &fakeEHR{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/smart-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"authorization_endpoint": ehr.srv.URL + "/authorize",
			"token_endpoint":         ehr.srv.URL + "/token",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "auth-code" || r.PostForm.Get("client_id") != "client-1" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		ehr.mu.Lock()
		ehr.verifier = r.PostForm.Get("code_verifier")
		ehr.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "ehr-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"scope":        "launch openid fhirUser",
			"patient":      "p-42",
			"fhirUser":     "Practitioner/dr-1",
		})
	})
	ehr.srv = httptest.NewServer(mux)
	t.Cleanup(ehr.srv.Close)
	return ehr
}

// fakeStytch answers session attestation for one organization.
type fakeStytch struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests []service.AttestRequest
}

func newFakeStytch(t *testing.T) *fakeStytch {
	t.Helper()
	st := &fakeStytch{}
	st.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if r.URL.Path != "/v1/b2b/sessions/attest" || !ok || user != "project-test" || pass != "secret-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req service.AttestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		st.mu.Lock()
		st.requests = append(st.requests, req)
		st.mu.Unlock()
		if req.OrganizationID != stytchOrgID {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_token":"stytch-session-1","session_jwt":"stytch-jwt-1","member_session":{"member_id":"member-1"}}`))
	}))
	t.Cleanup(st.srv.Close)
	return st
}

func newSmartPortal(t *testing.T, stytch *fakeStytch) *portal {
	t.Helper()
	return newPortal(t, func(cfg *config.Config) {
		cfg.StytchAPIURL = stytch.srv.URL
		cfg.StytchProjectID = "project-test"
		cfg.StytchSecret = "secret-test"
		cfg.StytchTrustedTokenProfileID = "profile-1"
		cfg.SmartScopes = []string{"launch", "openid", "fhirUser"}
		cfg.OutboundHTTPTimeout = 5 * time.Second
	})
}

func (p *portal) registerSmartClient(t *testing.T, iss string, client domain.SmartClientConfig) {
	t.Helper()
	store := service.NewRedisSmartClientConfigStore(p.app.Redis, p.cfg.RedisKeyPrefix+":smart_client")
	if err := store.Put(context.Background(), service.IssuerHost(iss), &client); err != nil {
		t.Fatalf("register smart client: %v", err)
	}
}

func TestSmartLaunchCallbackHomeRoundTrip(t *testing.T) {
	ehr := newFakeEHR(t)
	stytch := newFakeStytch(t)
	p := newSmartPortal(t, stytch)
	p.registerSmartClient(t, ehr.srv.URL, domain.SmartClientConfig{ClientID: "client-1", StytchOrganizationID: stytchOrgID})

	resp, body := p.do(t, http.MethodGet, "/smart/launch?iss="+url.QueryEscape(ehr.srv.URL)+"&launch=launch-ctx", nil, "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("launch: %d %s", resp.StatusCode, body)
	}
	authorize, err := url.Parse(resp.Header.Get("Location"))
	if err != nil || !strings.HasPrefix(authorize.String(), ehr.srv.URL+"/authorize") {
		t.Fatalf("unexpected authorize redirect %q", resp.Header.Get("Location"))
	}
	q := authorize.Query()
	if q.Get("aud") != ehr.srv.URL || q.Get("launch") != "launch-ctx" || q.Get("code_challenge_method") != "S256" || q.Get("redirect_uri") != p.baseURL+"/smart/callback" {
		t.Fatalf("unexpected authorize params %v", q)
	}

	resp, body = p.do(t, http.MethodGet, "/smart/callback?code=auth-code&state="+url.QueryEscape(q.Get("state")), nil, "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("callback: %d %s", resp.StatusCode, body)
	}
	home := resp.Header.Get("Location")
	if !strings.HasPrefix(home, "/smart/home?ticket=") {
		t.Fatalf("expected home redirect, got %q", home)
	}
	ehr.mu.Lock()
	verifier := ehr.verifier
	ehr.mu.Unlock()
	if oauth2.S256ChallengeFromVerifier(verifier) != q.Get("code_challenge") {
		t.Fatal("token request verifier does not match the launch challenge")
	}
	stytch.mu.Lock()
	attested := stytch.requests[len(stytch.requests)-1]
	stytch.mu.Unlock()
	if attested.OrganizationID != stytchOrgID || attested.ProfileID != "profile-1" {
		t.Fatalf("unexpected attest request %+v", attested)
	}

	resp, body = p.do(t, http.MethodGet, home, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("home: %d %s", resp.StatusCode, body)
	}
	if c := responseCookie(t, resp, security.StytchSessionCookieName); c.Value != "stytch-session-1" || c.HttpOnly {
		t.Fatalf("unexpected broker cookie %+v", c)
	}
	if !strings.Contains(body, "p-42") {
		t.Fatalf("expected patient context on home page")
	}

	resp, body = p.do(t, http.MethodGet, home, nil, "")
	if resp.StatusCode != http.StatusGone || hasCookie(resp, security.StytchSessionCookieName) {
		t.Fatalf("expected replayed ticket to be gone, got %d %s", resp.StatusCode, body)
	}
}

func TestSmartLaunchErrorsRedirectToErrorPage(t *testing.T) {
	ehr := newFakeEHR(t)
	stytch := newFakeStytch(t)
	p := newSmartPortal(t, stytch)

	resp, _ := p.do(t, http.MethodGet, "/smart/launch?iss="+url.QueryEscape(ehr.srv.URL), nil, "")
	location, _ := url.Parse(resp.Header.Get("Location"))
	if resp.StatusCode != http.StatusFound || location.Path != "/smart/error" || location.Query().Get("code") != service.SmartErrMissingClientID {
		t.Fatalf("expected missing client redirect, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, body := p.do(t, http.MethodGet, location.String(), nil, "")
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(body, service.SmartErrMissingClientID) {
		t.Fatalf("error page: %d %s", resp.StatusCode, body)
	}

	resp, _ = p.do(t, http.MethodGet, "/smart/callback?code=auth-code&state=forged", nil, "")
	location, _ = url.Parse(resp.Header.Get("Location"))
	if location == nil || location.Query().Get("code") != service.SmartErrInvalidState {
		t.Fatalf("expected invalid_state redirect, got %q", resp.Header.Get("Location"))
	}
}

func TestSmartDirectMintsTenantBoundJWT(t *testing.T) {
	stytch := newFakeStytch(t)
	p := newSmartPortal(t, stytch)
	p.seedTenant(t, stytchOrgID, "sandbox", "tenant-9")

	link, err := magiclink.Generate(magiclink.Options{
		PatientID:     "patient-9",
		CareflowID:    "careflow-9",
		OrgID:         "org-9",
		TenantID:      "tenant-from-token",
		Environment:   "sandbox",
		TTL:           time.Minute,
		BaseURL:       p.baseURL,
		EncryptionKey: testEncryptionKey,
	}, time.Now())
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	q := url.Values{}
	q.Set("patient_identifier", "https://ehr.example|p-9")
	q.Set("token", link.Token)
	q.Set("organization_id", stytchOrgID)

	resp, body := p.do(t, http.MethodGet, "/smart/direct?"+q.Encode(), nil, "")
	if resp.StatusCode != http.StatusFound || !strings.HasPrefix(resp.Header.Get("Location"), "/smart/home?ticket=") {
		t.Fatalf("direct: %d %q %s", resp.StatusCode, resp.Header.Get("Location"), body)
	}
	resp, body = p.do(t, http.MethodGet, resp.Header.Get("Location"), nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("home: %d %s", resp.StatusCode, body)
	}
	appJWT := responseCookie(t, resp, security.JWTCookieName)

	resp, body = p.do(t, http.MethodGet, "/api/session", map[string]string{"Authorization": "Bearer " + appJWT.Value}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("current session: %d %s", resp.StatusCode, body)
	}
	for _, want := range []string{`"tenantId":"tenant-9"`, `"authenticationState":"authenticated"`, `"patientId":"patient-9"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in %s", want, body)
		}
	}

	q.Set("organization_id", "organization-unmapped")
	resp, _ = p.do(t, http.MethodGet, "/smart/direct?"+q.Encode(), nil, "")
	location, _ := url.Parse(resp.Header.Get("Location"))
	if location == nil || location.Query().Get("code") != service.SmartErrTenantNotFound {
		t.Fatalf("expected tenant_not_found redirect, got %q", resp.Header.Get("Location"))
	}
}
