package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/navihealth/navi-portal/internal/config"
)

// portalMetrics holds the instruments behind the Record helpers. Attribute
// values passed to them must come from small fixed sets.
type portalMetrics struct {
	sessionEvents     metric.Int64Counter
	tokenValidations  metric.Int64Counter
	keyValidations    metric.Int64Counter
	smartFlowEvents   metric.Int64Counter
	rateLimitVerdicts metric.Int64Counter
	brandingLookups   metric.Int64Counter
	repositoryOps     metric.Int64Counter
	statusStreams     metric.Int64UpDownCounter
}

// active is nil until InitMetrics runs; the Record helpers are no-ops until then.
var active atomic.Pointer[portalMetrics]

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	mp, err := newMeterProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.OTELMetricsEnabled {
		logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint, "interval", cfg.OTELMetricsExportInterval)
	} else {
		logger.Info("otel metrics disabled")
	}
	otel.SetMeterProvider(mp)

	m, err := newPortalMetrics(mp.Meter("navi-portal"))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	active.Store(m)
	return mp, nil
}

func newMeterProvider(ctx context.Context, cfg *config.Config) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		return sdkmetric.NewMeterProvider(), nil
	}
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))),
	), nil
}

func newPortalMetrics(meter metric.Meter) (*portalMetrics, error) {
	m := &portalMetrics{}
	for name, dst := range map[string]*metric.Int64Counter{
		"session.events":              &m.sessionEvents,
		"token.validations":           &m.tokenValidations,
		"publishable_key.validations": &m.keyValidations,
		"smart.flow.events":           &m.smartFlowEvents,
		"http.rate_limit.decisions":   &m.rateLimitVerdicts,
		"branding.lookups":            &m.brandingLookups,
		"repository.operations":       &m.repositoryOps,
	} {
		c, err := meter.Int64Counter(name)
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", name, err)
		}
		*dst = c
	}
	var err error
	if m.statusStreams, err = meter.Int64UpDownCounter("careflow_status.streams.active"); err != nil {
		return nil, fmt.Errorf("create careflow status gauge: %w", err)
	}
	return m, nil
}

func add(ctx context.Context, pick func(*portalMetrics) metric.Int64Counter, kv ...attribute.KeyValue) {
	if m := active.Load(); m != nil {
		pick(m).Add(ctx, 1, metric.WithAttributes(kv...))
	}
}

// RecordSessionEvent counts session lifecycle outcomes: created, reused, dedup_redirect, not_found, error_state.
func RecordSessionEvent(ctx context.Context, kind, outcome string) {
	add(ctx, func(m *portalMetrics) metric.Int64Counter { return m.sessionEvents },
		attribute.String("kind", kind), attribute.String("outcome", outcome))
}

func RecordTokenValidation(ctx context.Context, tokenType, result, source string) {
	add(ctx, func(m *portalMetrics) metric.Int64Counter { return m.tokenValidations },
		attribute.String("token_type", tokenType), attribute.String("result", result), attribute.String("source", source))
}

func RecordPublishableKeyValidation(ctx context.Context, environment, result string) {
	add(ctx, func(m *portalMetrics) metric.Int64Counter { return m.keyValidations },
		attribute.String("environment", environment), attribute.String("result", result))
}

func RecordSmartFlowEvent(ctx context.Context, step, outcome string) {
	add(ctx, func(m *portalMetrics) metric.Int64Counter { return m.smartFlowEvents },
		attribute.String("step", step), attribute.String("outcome", outcome))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome string) {
	add(ctx, func(m *portalMetrics) metric.Int64Counter { return m.rateLimitVerdicts },
		attribute.String("scope", scope), attribute.String("outcome", outcome))
}

func RecordBrandingLookup(ctx context.Context, outcome string) {
	add(ctx, func(m *portalMetrics) metric.Int64Counter { return m.brandingLookups },
		attribute.String("outcome", outcome))
}

func RecordRepositoryOperation(ctx context.Context, repo, op, outcome string) {
	add(ctx, func(m *portalMetrics) metric.Int64Counter { return m.repositoryOps },
		attribute.String("repository", repo), attribute.String("operation", op), attribute.String("outcome", outcome))
}

// RecordCareflowStatusStream moves the open SSE stream gauge by delta.
func RecordCareflowStatusStream(ctx context.Context, delta int64) {
	if m := active.Load(); m != nil {
		m.statusStreams.Add(ctx, delta)
	}
}
