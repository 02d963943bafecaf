package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/repository"
	"github.com/navihealth/navi-portal/internal/security"
)

// fakeEHR serves SMART discovery, the token endpoint and the Stytch attest endpoint.
type fakeEHR struct {
	srv           *httptest.Server
	tokenStatus   int
	tokenBody     map[string]any
	attestStatus  int
	lastTokenForm url.Values
	lastTokenAuth *url.Userinfo
	lastAttest    AttestRequest
}

func newFakeEHR(t *testing.T) *fakeEHR {
	t.Helper()
	f := &fakeEHR{tokenStatus: http.StatusOK, attestStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/smart-configuration", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"authorization_endpoint": f.srv.URL + "/authorize",
			"token_endpoint":         f.srv.URL + "/token",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.lastTokenForm = r.PostForm
		f.lastTokenAuth = nil
		if user, pass, ok := r.BasicAuth(); ok {
			f.lastTokenAuth = url.UserPassword(user, pass)
		}
		if f.tokenStatus != http.StatusOK {
			writeTestJSON(w, f.tokenStatus, map[string]any{"error": "invalid_grant"})
			return
		}
		writeTestJSON(w, http.StatusOK, f.tokenBody)
	})
	mux.HandleFunc("/v1/b2b/sessions/attest", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastAttest)
		if f.attestStatus != http.StatusOK {
			writeTestJSON(w, f.attestStatus, map[string]any{"error_type": "member_not_found"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"session_token":  "stytch-session-token",
			"session_jwt":    "stytch-session-jwt",
			"member_session": map[string]any{"member_id": "member-1"},
		})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type fakeTenantRepo map[string]string

func (r fakeTenantRepo) FindTenantID(_ context.Context, organizationID, environment string) (string, error) {
	if id, ok := r[organizationID+"/"+environment]; ok {
		return id, nil
	}
	return "", repository.ErrTenantNotFound
}

func (r fakeTenantRepo) Upsert(_ context.Context, m *domain.OrganizationTenant) error {
	r[m.OrganizationID+"/"+m.Environment] = m.TenantID
	return nil
}

type smartFixture struct {
	svc     *SmartService
	ehr     *fakeEHR
	cipher  *security.Cipher
	codec   *security.SessionTokenCodec
	jwt     *security.JWTManager
	clients *RedisSmartClientConfigStore
}

func newSmartFixture(t *testing.T) *smartFixture {
	t.Helper()
	ehr := newFakeEHR(t)
	cipher, err := security.NewCipher(testEncryptionKey)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	minter, err := NewEphemeralTrustedTokenMinter("https://portal.example.com", "stytch")
	if err != nil {
		t.Fatalf("new minter: %v", err)
	}
	_, client := newRedisClientForTest(t)
	clients := NewRedisSmartClientConfigStore(client, "navi_test:smart_client")
	if err := clients.Put(context.Background(), IssuerHost(ehr.srv.URL), &domain.SmartClientConfig{
		ClientID:             "client-1",
		StytchOrganizationID: "organization-test-1",
	}); err != nil {
		t.Fatalf("put client config: %v", err)
	}
	jwtMgr := security.NewJWTManager("navi-test", strings.Repeat("s", 32))
	svc := NewSmartService(
		SmartServiceConfig{
			BaseURL:               "https://portal.example.com",
			Scopes:                []string{"openid", "fhirUser", "launch"},
			EmailDomain:           "smart.example.com",
			TrustedTokenProfileID: "trusted-profile",
			TicketTTL:             time.Minute,
		},
		cipher,
		jwtMgr,
		clients,
		NewRedisSmartTicketStore(client, "navi_test:smart_ticket"),
		fakeTenantRepo{"organization-test-1/sandbox": "tenant-1"},
		NewStytchClient(ehr.srv.URL, "project-test", "secret-test", ehr.srv.Client()),
		minter,
		ehr.srv.Client(),
	)
	return &smartFixture{svc: svc, ehr: ehr, cipher: cipher, codec: security.NewSessionTokenCodec(cipher), jwt: jwtMgr, clients: clients}
}

func (f *smartFixture) launchState(t *testing.T) string {
	t.Helper()
	redirect, err := f.svc.Launch(context.Background(), f.ehr.srv.URL, "launch-1")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	return u.Query().Get("state")
}

func smartCode(t *testing.T, err error) string {
	t.Helper()
	var se *SmartError
	if !errors.As(err, &se) {
		t.Fatalf("expected SmartError, got %v", err)
	}
	return se.Code
}

func TestSmartLaunchBuildsAuthorizationRedirect(t *testing.T) {
	f := newSmartFixture(t)
	redirect, err := f.svc.Launch(context.Background(), f.ehr.srv.URL+"/", "launch-1")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	u, _ := url.Parse(redirect)
	q := u.Query()
	if u.Path != "/authorize" || q.Get("client_id") != "client-1" || q.Get("launch") != "launch-1" {
		t.Fatalf("unexpected redirect %s", redirect)
	}
	if q.Get("aud") != f.ehr.srv.URL || q.Get("redirect_uri") != "https://portal.example.com/smart/callback" {
		t.Fatalf("unexpected aud/redirect_uri in %s", redirect)
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" || q.Get("response_type") != "code" {
		t.Fatalf("expected pkce parameters in %s", redirect)
	}
	var pre domain.SmartPreAuth
	if err := f.cipher.DecryptObject(q.Get("state"), &pre); err != nil {
		t.Fatalf("state must decrypt: %v", err)
	}
	if pre.Issuer != f.ehr.srv.URL || pre.CodeVerifier == "" || pre.TokenEndpoint != f.ehr.srv.URL+"/token" {
		t.Fatalf("unexpected pre-auth %+v", pre)
	}

	if _, err := f.svc.Launch(context.Background(), "", ""); smartCode(t, err) != SmartErrMissingParameter {
		t.Fatalf("expected missing_parameter, got %v", err)
	}
	if _, err := f.svc.Launch(context.Background(), "https://unknown.example.com", ""); smartCode(t, err) != SmartErrMissingClientID {
		t.Fatalf("expected missing_client_id, got %v", err)
	}
}

func TestSmartCallbackIssuesTicket(t *testing.T) {
	f := newSmartFixture(t)
	f.ehr.tokenBody = map[string]any{
		"access_token": "at-1",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        "openid fhirUser launch",
		"patient":      "patient-7",
		"id_token":     unsignedTestJWT(t, jwt.MapClaims{"fhirUser": "Practitioner/123", "exp": time.Now().Add(time.Hour).Unix()}),
	}
	state := f.launchState(t)

	ticket, err := f.svc.Callback(context.Background(), CallbackParams{Code: "code-1", State: state})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if f.ehr.lastTokenForm.Get("code_verifier") == "" || f.ehr.lastTokenForm.Get("client_id") != "client-1" {
		t.Fatalf("expected pkce verifier and client id in token request, got %v", f.ehr.lastTokenForm)
	}
	if f.ehr.lastAttest.OrganizationID != "organization-test-1" || f.ehr.lastAttest.ProfileID != "trusted-profile" {
		t.Fatalf("unexpected attest request %+v", f.ehr.lastAttest)
	}

	data, err := f.svc.ConsumeTicket(context.Background(), ticket)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	wantID := PractitionerID(f.ehr.srv.URL, "Practitioner/123")
	if data.PractitionerID != wantID || data.Email != wantID+"@smart.example.com" || data.Patient != "patient-7" {
		t.Fatalf("unexpected session data %+v", data)
	}
	if data.StytchSessionToken != "stytch-session-token" || data.FHIRUser != "Practitioner/123" {
		t.Fatalf("unexpected broker session %+v", data)
	}
	if _, err := f.svc.ConsumeTicket(context.Background(), ticket); smartCode(t, err) != SmartErrInvalidTicket {
		t.Fatalf("expected ticket to be single-use, got %v", err)
	}
}

func TestSmartCallbackConfidentialClientUsesBasicAuth(t *testing.T) {
	f := newSmartFixture(t)
	if err := f.clients.Put(context.Background(), IssuerHost(f.ehr.srv.URL), &domain.SmartClientConfig{
		ClientID:             "client-1",
		ClientSecret:         "secret-1",
		StytchOrganizationID: "organization-test-1",
	}); err != nil {
		t.Fatalf("put client config: %v", err)
	}
	f.ehr.tokenBody = map[string]any{
		"access_token": "at-1",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     unsignedTestJWT(t, jwt.MapClaims{"fhirUser": "Practitioner/9", "exp": time.Now().Add(time.Hour).Unix()}),
	}
	state := f.launchState(t)

	if _, err := f.svc.Callback(context.Background(), CallbackParams{Code: "code-1", State: state}); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if f.ehr.lastTokenAuth == nil {
		t.Fatal("expected client credentials in the Authorization header")
	}
	if pass, _ := f.ehr.lastTokenAuth.Password(); f.ehr.lastTokenAuth.Username() != "client-1" || pass != "secret-1" {
		t.Fatalf("unexpected basic credentials %v", f.ehr.lastTokenAuth)
	}
	if f.ehr.lastTokenForm.Has("client_secret") {
		t.Fatalf("client secret must not be sent in the form, got %v", f.ehr.lastTokenForm)
	}
	if f.ehr.lastTokenForm.Get("code_verifier") == "" {
		t.Fatalf("expected pkce verifier alongside basic auth, got %v", f.ehr.lastTokenForm)
	}
}

func TestSmartCallbackPublicClientSendsNoBasicAuth(t *testing.T) {
	f := newSmartFixture(t)
	f.ehr.tokenBody = map[string]any{
		"access_token": "at-1",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     unsignedTestJWT(t, jwt.MapClaims{"fhirUser": "Practitioner/9", "exp": time.Now().Add(time.Hour).Unix()}),
	}
	state := f.launchState(t)

	if _, err := f.svc.Callback(context.Background(), CallbackParams{Code: "code-1", State: state}); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if f.ehr.lastTokenAuth != nil {
		t.Fatalf("public client must not send basic auth, got %v", f.ehr.lastTokenAuth)
	}
}

func TestSmartCallbackErrorTaxonomy(t *testing.T) {
	idToken := func(t *testing.T) string {
		return unsignedTestJWT(t, jwt.MapClaims{"fhirUser": "Practitioner/1", "exp": time.Now().Add(time.Hour).Unix()})
	}
	tests := []struct {
		name  string
		setup func(t *testing.T, f *smartFixture)
		state func(t *testing.T, f *smartFixture) string
		extra CallbackParams
		want  string
	}{
		{
			name:  "garbage state",
			state: func(*testing.T, *smartFixture) string { return "not-a-state" },
			want:  SmartErrInvalidState,
		},
		{
			name: "stale state",
			state: func(t *testing.T, f *smartFixture) string {
				s := f.launchState(t)
				f.svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
				return s
			},
			want: SmartErrInvalidState,
		},
		{
			name:  "user denied",
			extra: CallbackParams{Error: "access_denied"},
			want:  SmartErrUpstreamAuthorization,
		},
		{
			name:  "missing code",
			extra: CallbackParams{Code: "-"},
			want:  SmartErrMissingParameter,
		},
		{
			name:  "token endpoint rejects",
			setup: func(_ *testing.T, f *smartFixture) { f.ehr.tokenStatus = http.StatusBadRequest },
			want:  SmartErrTokenRequestFailed,
		},
		{
			name: "no access token",
			setup: func(_ *testing.T, f *smartFixture) {
				f.ehr.tokenBody = map[string]any{"token_type": "Bearer"}
			},
			want: SmartErrTokenExchangeFailed,
		},
		{
			name: "zero expires_in",
			setup: func(t *testing.T, f *smartFixture) {
				f.ehr.tokenBody = map[string]any{"access_token": "at", "token_type": "Bearer", "expires_in": 0, "id_token": idToken(t)}
			},
			want: SmartErrExpiredToken,
		},
		{
			name: "expired id token",
			setup: func(t *testing.T, f *smartFixture) {
				f.ehr.tokenBody = map[string]any{"access_token": "at", "token_type": "Bearer", "id_token": unsignedTestJWT(t, jwt.MapClaims{"fhirUser": "Practitioner/1", "exp": time.Now().Add(-time.Minute).Unix()})}
			},
			want: SmartErrExpiredToken,
		},
		{
			name: "no fhir user",
			setup: func(_ *testing.T, f *smartFixture) {
				f.ehr.tokenBody = map[string]any{"access_token": "at", "token_type": "Bearer"}
			},
			want: SmartErrMissingFHIRUser,
		},
		{
			name: "simulator error",
			setup: func(t *testing.T, f *smartFixture) {
				f.ehr.tokenBody = map[string]any{"access_token": unsignedTestJWT(t, jwt.MapClaims{"sim_error": "Launch Expired"}), "token_type": "Bearer", "id_token": idToken(t)}
			},
			want: "launch_expired",
		},
		{
			name: "member not provisioned",
			setup: func(t *testing.T, f *smartFixture) {
				f.ehr.tokenBody = map[string]any{"access_token": "at", "token_type": "Bearer", "id_token": idToken(t)}
				f.ehr.attestStatus = http.StatusNotFound
			},
			want: SmartErrEmailNotFound,
		},
		{
			name: "attest rejected",
			setup: func(t *testing.T, f *smartFixture) {
				f.ehr.tokenBody = map[string]any{"access_token": "at", "token_type": "Bearer", "id_token": idToken(t)}
				f.ehr.attestStatus = http.StatusUnauthorized
			},
			want: SmartErrStytchAttestFailed,
		},
		{
			name: "organization not linked",
			setup: func(_ *testing.T, f *smartFixture) {
				_ = f.clients.Put(context.Background(), IssuerHost(f.ehr.srv.URL), &domain.SmartClientConfig{ClientID: "client-1"})
			},
			want: SmartErrMissingStytchOrg,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newSmartFixture(t)
			var state string
			if tc.state != nil {
				state = tc.state(t, f)
			} else {
				state = f.launchState(t)
			}
			if tc.setup != nil {
				tc.setup(t, f)
			}
			params := tc.extra
			params.State = state
			switch params.Code {
			case "":
				params.Code = "code-1"
			case "-":
				params.Code = ""
			}
			_, err := f.svc.Callback(context.Background(), params)
			if got := smartCode(t, err); got != tc.want {
				t.Fatalf("expected %q, got %q (%v)", tc.want, got, err)
			}
		})
	}
}

func TestSmartDirectFlow(t *testing.T) {
	f := newSmartFixture(t)
	token, err := f.codec.CreateSessionToken(domain.SessionTokenData{
		PatientID:           "patient-1",
		CareflowID:          "cf-1",
		OrgID:               "org-1",
		TenantID:            "tenant-from-token",
		Environment:         "sandbox",
		AuthenticationState: domain.Unauthenticated,
		Exp:                 time.Now().Add(time.Hour).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	ticket, err := f.svc.Direct(context.Background(), DirectParams{
		PatientIdentifier:     "https://ehr.example.com|patient|123",
		Token:                 token,
		OrganizationID:        "organization-test-1",
		TrustedTokenProfileID: "override-profile",
	})
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	if f.ehr.lastAttest.ProfileID != "override-profile" {
		t.Fatalf("expected profile override, got %+v", f.ehr.lastAttest)
	}
	data, err := f.svc.ConsumeTicket(context.Background(), ticket)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if data.Patient != "patient" || data.TenantID != "tenant-1" || data.Environment != "sandbox" {
		t.Fatalf("unexpected direct session %+v", data)
	}
	if data.PractitionerID != PractitionerID("https://ehr.example.com", "Patient/patient") {
		t.Fatalf("unexpected subject %s", data.PractitionerID)
	}
	claims, err := f.jwt.VerifyJWT(data.AppJWT)
	if err != nil {
		t.Fatalf("verify app jwt: %v", err)
	}
	if claims.TenantID != "tenant-1" || claims.AuthenticationState != "authenticated" || claims.Subject != "cf-1" {
		t.Fatalf("unexpected app claims %+v", claims)
	}
}

func TestSmartDirectRejections(t *testing.T) {
	f := newSmartFixture(t)
	valid := func(env string, exp time.Time) string {
		tok, _ := f.codec.CreateSessionToken(domain.SessionTokenData{
			PatientID: "p", CareflowID: "cf", OrgID: "o", TenantID: "t", Environment: env,
			AuthenticationState: domain.Unauthenticated, Exp: exp.UnixMilli(),
		})
		return tok
	}
	base := DirectParams{PatientIdentifier: "https://ehr.example.com|123", OrganizationID: "organization-test-1"}
	tests := []struct {
		name   string
		params DirectParams
		want   string
	}{
		{name: "missing params", params: DirectParams{}, want: SmartErrMissingParameter},
		{name: "bad identifier", params: DirectParams{PatientIdentifier: "nopipe", Token: "x", OrganizationID: "o"}, want: SmartErrInvalidPatientID},
		{name: "bad token", params: withToken(base, "garbage"), want: SmartErrInvalidToken},
		{name: "expired token", params: withToken(base, valid("sandbox", time.Now().Add(-time.Minute))), want: SmartErrExpiredToken},
		{name: "unknown tenant", params: withToken(base, valid("production", time.Now().Add(time.Hour))), want: SmartErrTenantNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Direct(context.Background(), tc.params)
			if got := smartCode(t, err); got != tc.want {
				t.Fatalf("expected %q, got %q (%v)", tc.want, got, err)
			}
		})
	}
}

func withToken(p DirectParams, token string) DirectParams {
	p.Token = token
	return p
}
