package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/navihealth/navi-portal/internal/config"
)

// Runtime owns the OTel providers for the life of the process. Logger fans out
// to OTLP when log export is on and is the base logger otherwise.
type Runtime struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
	LoggerProvider *sdklog.LoggerProvider
	Logger         *slog.Logger
}

// InitRuntime brings up metrics, then tracing, then logs. When a later stage
// fails the providers already created are shut down before returning.
func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Logger: logger}
	var err error
	if rt.MeterProvider, err = InitMetrics(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if rt.TracerProvider, err = InitTracing(ctx, cfg, logger); err != nil {
		return nil, errors.Join(err, rt.Shutdown(ctx))
	}
	if rt.LoggerProvider, rt.Logger, err = InitLogs(ctx, cfg, logger); err != nil {
		rt.Logger = logger
		return nil, errors.Join(err, rt.Shutdown(ctx))
	}
	return rt, nil
}

// Shutdown stops every provider that was started and joins their errors.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	stop := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s provider: %w", name, err))
		}
	}
	if r.LoggerProvider != nil {
		stop("log", r.LoggerProvider.Shutdown)
	}
	if r.TracerProvider != nil {
		stop("trace", r.TracerProvider.Shutdown)
	}
	if r.MeterProvider != nil {
		stop("metric", r.MeterProvider.Shutdown)
	}
	return errors.Join(errs...)
}
