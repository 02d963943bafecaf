package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	loadMetricsOnce sync.Once
	loadCounter     metric.Int64Counter
)

func recordConfigValidationEvent(ctx context.Context, env string, err error) {
	loadMetricsOnce.Do(func() {
		counter, cerr := otel.Meter("navi-portal").Int64Counter("config.validation.events")
		if cerr == nil {
			loadCounter = counter
		}
	})
	if loadCounter == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attrs := []attribute.KeyValue{
		attribute.String("env", envClass(env)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", classifyLoadError(err)),
	}
	var perr *ParseError
	if errors.As(err, &perr) {
		attrs = append(attrs, attribute.String("key", perr.Key))
	}
	loadCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// envClass folds APP_ENV into a few values so the attribute stays low-cardinality.
func envClass(env string) string {
	switch v := strings.ToLower(strings.TrimSpace(env)); v {
	case "":
		return "development"
	case "production", "prod":
		return "production"
	case "development", "dev", "local":
		return "development"
	case "staging", "sandbox", "test":
		return v
	default:
		return "other"
	}
}

func classifyLoadError(err error) string {
	var perr *ParseError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &perr):
		return "parse"
	case errors.Is(err, ErrInvalid):
		return "validation"
	default:
		return "load"
	}
}
