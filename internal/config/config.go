package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/navihealth/navi-portal/internal/security"
)

type Config struct {
	Env      string
	HTTPAddr string
	BaseURL  string

	SessionEncryptionKey string
	JWTSigningKey        string
	JWTKeyID             string
	JWTTTL               time.Duration
	JWTCookiePath        string
	SessionTTL           time.Duration
	SmartTicketTTL       time.Duration
	SmartScopes          []string
	SmartEmailDomain     string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	DatabaseDriver string
	DatabaseURL    string

	StytchAPIURL                string
	StytchProjectID             string
	StytchSecret                string
	StytchTrustedTokenProfileID string
	TrustedTokenSigningKey      string
	TrustedTokenIssuer          string
	TrustedTokenAudience        string
	OutboundHTTPTimeout         time.Duration

	FeatureFlags       []string
	AdminAPIToken      string
	CORSOrigins        []string
	RateLimitRPM       int
	SmartRateLimitRPM  int
	StatusPollInterval time.Duration

	LogLevel  string
	LogFormat string

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64

	ReadinessProbeTimeout        time.Duration
	ReadinessCacheTTL            time.Duration
	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// ErrInvalid wraps every validation failure returned by Validate.
var ErrInvalid = errors.New("validate config")

// ParseError is an environment value that does not parse as its type.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string { return "parse " + e.Key + ": " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// Load reads the process environment. Failures are a *ParseError or wrap ErrInvalid.
func Load() (*Config, error) {
	cfg, err := load()
	recordConfigValidationEvent(context.Background(), os.Getenv("APP_ENV"), err)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() (*Config, error) {
	p := &envParser{}
	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		BaseURL:  strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),

		SessionEncryptionKey: os.Getenv("SESSION_ENCRYPTION_KEY"),
		JWTSigningKey:        os.Getenv("JWT_SIGNING_KEY"),
		JWTKeyID:             os.Getenv("JWT_KEY_ID"),
		JWTTTL:               p.duration("JWT_TTL", security.DefaultJWTTTL),
		JWTCookiePath:        getEnv("JWT_COOKIE_PATH", "/api/graphql"),
		SessionTTL:           p.duration("SESSION_TTL", 30*24*time.Hour),
		SmartTicketTTL:       p.duration("SMART_TICKET_TTL", 120*time.Second),
		SmartScopes:          splitList(getEnv("SMART_SCOPES", "launch openid fhirUser profile patient/*.read")),
		SmartEmailDomain:     getEnv("SMART_EMAIL_DOMAIN", "smart.navi.local"),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        p.integer("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "navi"),

		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
		DatabaseURL:    os.Getenv("DATABASE_URL"),

		StytchAPIURL:                strings.TrimRight(getEnv("STYTCH_API_URL", "https://test.stytch.com"), "/"),
		StytchProjectID:             os.Getenv("STYTCH_PROJECT_ID"),
		StytchSecret:                os.Getenv("STYTCH_SECRET"),
		StytchTrustedTokenProfileID: os.Getenv("STYTCH_TRUSTED_TOKEN_PROFILE_ID"),
		TrustedTokenSigningKey:      os.Getenv("TRUSTED_TOKEN_SIGNING_KEY"),
		TrustedTokenIssuer:          getEnv("TRUSTED_TOKEN_ISSUER", "navi-portal"),
		TrustedTokenAudience:        getEnv("TRUSTED_TOKEN_AUDIENCE", "stytch"),
		OutboundHTTPTimeout:         p.duration("OUTBOUND_HTTP_TIMEOUT", 10*time.Second),

		FeatureFlags:       splitList(os.Getenv("FEATURE_FLAGS")),
		AdminAPIToken:      os.Getenv("ADMIN_API_TOKEN"),
		CORSOrigins:        splitList(os.Getenv("CORS_ORIGINS")),
		RateLimitRPM:       p.integer("RATE_LIMIT_RPM", 120),
		SmartRateLimitRPM:  p.integer("SMART_RATE_LIMIT_RPM", 30),
		StatusPollInterval: p.duration("STATUS_POLL_INTERVAL", 2*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "navi-portal"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", getEnv("APP_ENV", "development")),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  p.boolean("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        p.boolean("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        p.boolean("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           p.boolean("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: p.duration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),
		OTELTraceSamplingRatio:    p.float("OTEL_TRACE_SAMPLING_RATIO", 1.0),

		ReadinessProbeTimeout:        p.duration("READINESS_PROBE_TIMEOUT", time.Second),
		ReadinessCacheTTL:            p.duration("READINESS_CACHE_TTL", 2*time.Second),
		ShutdownTimeout:              p.duration("SHUTDOWN_TIMEOUT", 20*time.Second),
		ShutdownHTTPDrainTimeout:     p.duration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second),
		ShutdownObservabilityTimeout: p.duration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := security.NormalizeKey(c.SessionEncryptionKey); err != nil {
		errs = append(errs, fmt.Errorf("SESSION_ENCRYPTION_KEY: %w", err))
	}
	if len(c.JWTSigningKey) < 32 {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must be at least 32 bytes"))
	}
	if strings.TrimSpace(c.JWTKeyID) == "" {
		errs = append(errs, errors.New("JWT_KEY_ID is required"))
	}
	if c.JWTTTL <= 0 || c.SessionTTL <= 0 || c.SmartTicketTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL, SESSION_TTL and SMART_TICKET_TTL must be positive"))
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.IsProduction() {
		if c.TrustedTokenSigningKey == "" {
			errs = append(errs, errors.New("TRUSTED_TOKEN_SIGNING_KEY is required in production"))
		}
		if c.StytchProjectID == "" || c.StytchSecret == "" {
			errs = append(errs, errors.New("STYTCH_PROJECT_ID and STYTCH_SECRET are required in production"))
		}
		if !strings.HasPrefix(c.BaseURL, "https://") {
			errs = append(errs, errors.New("BASE_URL must use https in production"))
		}
		if c.AdminAPIToken == "" {
			errs = append(errs, errors.New("ADMIN_API_TOKEN is required in production"))
		}
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLING_RATIO must be within [0,1]"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

type envParser struct{ err error }

func (p *envParser) fail(key string, err error) {
	if p.err == nil {
		p.err = &ParseError{Key: key, Err: err}
	}
}

func (p *envParser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *envParser) integer(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *envParser) boolean(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *envParser) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return f
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
