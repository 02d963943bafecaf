package di

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/navihealth/navi-portal/internal/config"
	"github.com/navihealth/navi-portal/internal/health"
	"github.com/navihealth/navi-portal/internal/http/handler"
	"github.com/navihealth/navi-portal/internal/http/middleware"
	"github.com/navihealth/navi-portal/internal/http/router"
	"github.com/navihealth/navi-portal/internal/observability"
	"github.com/navihealth/navi-portal/internal/repository"
	"github.com/navihealth/navi-portal/internal/security"
	"github.com/navihealth/navi-portal/internal/service"
)

const redisStartupBudget = 30 * time.Second

func provideRuntime(ctx context.Context, cfg *config.Config) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, observability.NewLogger(cfg, os.Stdout))
}

// provideLogger takes the runtime logger, which fans out to OTLP when log
// export is on, and installs it as the process default.
func provideLogger(runtime *observability.Runtime) *slog.Logger {
	slog.SetDefault(runtime.Logger)
	return runtime.Logger
}

func provideRedis(ctx context.Context, cfg *config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := health.WaitForRedis(ctx, client, redisStartupBudget); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func provideDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func provideCipher(cfg *config.Config) (*security.Cipher, error) {
	return security.NewCipher(cfg.SessionEncryptionKey)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTKeyID, cfg.JWTSigningKey)
}

func provideCookiePolicy(cfg *config.Config) security.CookiePolicy {
	return security.CookiePolicy{
		Production: cfg.IsProduction(),
		MaxAge:     cfg.SessionTTL,
		JWTPath:    cfg.JWTCookiePath,
	}
}

func provideOutboundHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{
		Timeout:   cfg.OutboundHTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func key(cfg *config.Config, name string) string {
	return cfg.RedisKeyPrefix + ":" + name
}

func provideSessionService(cfg *config.Config, client redis.UniversalClient, cipher *security.Cipher, jwtMgr *security.JWTManager) *service.SessionService {
	store := service.NewRedisSessionStore(client, key(cfg, "session"))
	return service.NewSessionService(store, security.NewSessionTokenCodec(cipher), jwtMgr, cfg.SessionTTL, cfg.JWTTTL)
}

func provideBrandingService(cfg *config.Config, client redis.UniversalClient) *service.BrandingService {
	return service.NewBrandingService(service.NewRedisBrandingStore(client, key(cfg, "branding")))
}

func providePublishableKeyService(cfg *config.Config, db *gorm.DB, client redis.UniversalClient) *service.PublishableKeyService {
	misses := service.NewRedisNegativeLookupCacheStore(client, key(cfg, "negative"))
	return service.NewPublishableKeyService(repository.NewPublishableKeyRepository(db), misses)
}

func provideTenantService(db *gorm.DB) *service.TenantService {
	return service.NewTenantService(repository.NewTenantRepository(db))
}

// provideTrustedTokenMinter falls back to a throwaway key outside production,
// where config validation already demands a real one.
func provideTrustedTokenMinter(cfg *config.Config, logger *slog.Logger) (*service.TrustedTokenMinter, error) {
	if cfg.TrustedTokenSigningKey == "" {
		logger.Warn("TRUSTED_TOKEN_SIGNING_KEY not set, using an ephemeral signing key")
		return service.NewEphemeralTrustedTokenMinter(cfg.TrustedTokenIssuer, cfg.TrustedTokenAudience)
	}
	return service.NewTrustedTokenMinter(cfg.TrustedTokenSigningKey, cfg.TrustedTokenIssuer, cfg.TrustedTokenAudience)
}

func provideSmartService(
	cfg *config.Config,
	client redis.UniversalClient,
	db *gorm.DB,
	cipher *security.Cipher,
	jwtMgr *security.JWTManager,
	minter *service.TrustedTokenMinter,
	httpClient *http.Client,
) *service.SmartService {
	broker := service.NewStytchClient(cfg.StytchAPIURL, cfg.StytchProjectID, cfg.StytchSecret, httpClient)
	return service.NewSmartService(
		service.SmartServiceConfig{
			BaseURL:               cfg.BaseURL,
			Scopes:                cfg.SmartScopes,
			EmailDomain:           cfg.SmartEmailDomain,
			TrustedTokenProfileID: cfg.StytchTrustedTokenProfileID,
			TicketTTL:             cfg.SmartTicketTTL,
			JWTTTL:                cfg.JWTTTL,
		},
		cipher,
		jwtMgr,
		service.NewRedisSmartClientConfigStore(client, key(cfg, "smart_client")),
		service.NewRedisSmartTicketStore(client, key(cfg, "smart_ticket")),
		repository.NewTenantRepository(db),
		broker,
		minter,
		httpClient,
	)
}

func provideFeatureGate(cfg *config.Config) *service.StaticFeatureGate {
	return service.NewStaticFeatureGate(cfg.FeatureFlags)
}

func provideEmbedHandler(sessions *service.SessionService, branding *service.BrandingService, cookies security.CookiePolicy) *handler.EmbedHandler {
	return handler.NewEmbedHandler(sessions, branding, cookies)
}

func provideSessionHandler(cfg *config.Config, sessions *service.SessionService, keys *service.PublishableKeyService, branding *service.BrandingService) *handler.SessionHandler {
	return handler.NewSessionHandler(sessions, keys, branding, cfg.BaseURL, cfg.StatusPollInterval)
}

func provideBrandingHandler(branding *service.BrandingService) *handler.BrandingHandler {
	return handler.NewBrandingHandler(branding)
}

func provideSmartHandler(smart *service.SmartService, gate *service.StaticFeatureGate, cookies security.CookiePolicy) *handler.SmartHandler {
	return handler.NewSmartHandler(smart, gate, cookies)
}

func provideAdminHandler(keys *service.PublishableKeyService, tenants *service.TenantService) *handler.AdminHandler {
	return handler.NewAdminHandler(keys, tenants)
}

func provideReadiness(cfg *config.Config, client redis.UniversalClient, db *gorm.DB) *health.ProbeRunner {
	return health.NewProbeRunner(cfg.ReadinessProbeTimeout, cfg.ReadinessCacheTTL, health.RedisChecker(client), health.SQLChecker(db))
}

func provideBackgroundTasks(ctx context.Context, readiness *health.ProbeRunner, logger *slog.Logger) func() {
	return health.StartMonitor(ctx, readiness, 15*time.Second, logger)
}

func provideRouter(
	cfg *config.Config,
	client redis.UniversalClient,
	jwtMgr *security.JWTManager,
	embed *handler.EmbedHandler,
	sessions *handler.SessionHandler,
	branding *handler.BrandingHandler,
	smart *handler.SmartHandler,
	admin *handler.AdminHandler,
	readiness *health.ProbeRunner,
) http.Handler {
	return router.NewRouter(router.Dependencies{
		EmbedHandler:        embed,
		SessionHandler:      sessions,
		BrandingHandler:     branding,
		SmartHandler:        smart,
		AdminHandler:        admin,
		JWTManager:          jwtMgr,
		AdminAPIToken:       cfg.AdminAPIToken,
		CORSOrigins:         cfg.CORSOrigins,
		JWTCookiePath:       cfg.JWTCookiePath,
		APIRateLimitRPM:     cfg.RateLimitRPM,
		SessionRateLimitRPM: cfg.RateLimitRPM,
		SmartRateLimitRPM:   cfg.SmartRateLimitRPM,
		SharedLimiter:       middleware.NewRedisFixedWindowLimiter(client, key(cfg, "rate_limit")),
		RateLimitFailOpen:   !cfg.IsProduction(),
		Readiness:           readiness,
		EnableOTelHTTP:      cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	})
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
