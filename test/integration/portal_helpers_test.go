package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/navihealth/navi-portal/internal/app"
	"github.com/navihealth/navi-portal/internal/config"
	"github.com/navihealth/navi-portal/internal/di"
	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/repository"
)

const (
	testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testAdminToken    = "integration-admin"
	testOrigin        = "https://app.customer.example"
	testPublishable   = "pk_test_integration"
)

type portal struct {
	baseURL string
	client  *http.Client
	cfg     *config.Config
	app     *app.App
	redis   *miniredis.Miniredis
}

// newPortal runs the fully wired application behind an httptest server. The
// listener is reserved first so BaseURL matches the address callers use.
func newPortal(t *testing.T, mutate func(*config.Config)) *portal {
	t.Helper()
	mr := miniredis.RunT(t)
	srv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + srv.Listener.Addr().String()

	cfg := &config.Config{
		Env:                  "development",
		HTTPAddr:             srv.Listener.Addr().String(),
		BaseURL:              baseURL,
		SessionEncryptionKey: testEncryptionKey,
		JWTSigningKey:        "abcdefghijklmnopqrstuvwxyz123456",
		JWTKeyID:             "navi-integration",
		JWTTTL:               time.Hour,
		JWTCookiePath:        "/api/graphql",
		SessionTTL:           24 * time.Hour,
		SmartTicketTTL:       time.Minute,
		SmartEmailDomain:     "ehr.navi.example",
		RedisAddr:            mr.Addr(),
		RedisKeyPrefix:       "it",
		DatabaseDriver:       "sqlite",
		DatabaseURL:          "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared",
		TrustedTokenIssuer:   "navi-portal",
		TrustedTokenAudience: "stytch",
		AdminAPIToken:        testAdminToken,
		RateLimitRPM:         1000,
		SmartRateLimitRPM:    1000,
		StatusPollInterval:   10 * time.Millisecond,
		OTELServiceName:      "navi-portal-integration",

		ReadinessProbeTimeout:        time.Second,
		ShutdownTimeout:              5 * time.Second,
		ShutdownHTTPDrainTimeout:     time.Second,
		ShutdownObservabilityTimeout: time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}

	a, err := di.InitializeApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	srv.Config.Handler = a.Server.Handler
	srv.Start()
	t.Cleanup(func() {
		srv.Close()
		_ = a.Shutdown(context.Background())
	})

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &portal{baseURL: baseURL, client: client, cfg: cfg, app: a, redis: mr}
}

func (p *portal) seedPublishableKey(t *testing.T, pk domain.PublishableKey) {
	t.Helper()
	if err := repository.NewPublishableKeyRepository(p.app.DB).Upsert(context.Background(), &pk); err != nil {
		t.Fatalf("seed publishable key: %v", err)
	}
}

func (p *portal) seedTenant(t *testing.T, orgID, environment, tenantID string) {
	t.Helper()
	err := repository.NewTenantRepository(p.app.DB).Upsert(context.Background(), &domain.OrganizationTenant{
		OrganizationID: orgID,
		Environment:    environment,
		TenantID:       tenantID,
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
}

func (p *portal) do(t *testing.T, method, path string, headers map[string]string, body string) (*http.Response, string) {
	t.Helper()
	target := path
	if strings.HasPrefix(path, "/") {
		target = p.baseURL + path
	}
	req, err := http.NewRequest(method, target, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(raw)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, body string) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, body)
	}
	return env
}

func responseCookie(t *testing.T, resp *http.Response, name string) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("expected cookie %q in %v", name, resp.Header.Values("Set-Cookie"))
	return nil
}

func hasCookie(resp *http.Response, name string) bool {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return true
		}
	}
	return false
}
