// Package telemetry builds the OpenTelemetry meter provider used by the
// OpenTelemetry metric sink.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config controls meter provider initialisation.
type Config struct {
	ServiceName string
	Exporter    string // "prom" or "otlp"
	OTLP        OTLPConfig
}

// OTLPConfig defines the OTLP/HTTP exporter options.
type OTLPConfig struct {
	Endpoint string
	Insecure bool
}

// NewProvider creates a meter provider exporting through the configured exporter.
//
// With the "prom" exporter the collected metrics are registered on reg, which
// the caller serves. The returned shutdown flushes and stops the exporter.
func NewProvider(ctx context.Context, cfg Config, reg promclient.Registerer) (*metric.MeterProvider, func(context.Context) error, error) {
	exporter := normalizeLower(cfg.Exporter, "prom")

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var reader metric.Reader
	switch exporter {
	case "otlp":
		reader, err = buildOTLPExporter(ctx, cfg)
	case "prom", "prometheus":
		reader, err = buildPrometheusExporter(reg)
	default:
		return nil, nil, fmt.Errorf("telemetry: unsupported exporter %q", exporter)
	}
	if err != nil {
		return nil, nil, err
	}

	mp := metric.NewMeterProvider(
		metric.WithReader(reader),
		metric.WithResource(res),
	)

	// shutting down the provider also flushes and stops its reader
	shutdown := func(ctx context.Context) error {
		if err := mp.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: shutdown: %w", err)
		}
		return nil
	}
	return mp, shutdown, nil
}

func buildResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	var attrs []attribute.KeyValue
	if cfg.ServiceName != "" {
		attrs = append(attrs, semconv.ServiceNameKey.String(cfg.ServiceName))
	}
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
}

func buildPrometheusExporter(reg promclient.Registerer) (metric.Reader, error) {
	if reg == nil {
		return nil, errors.New("telemetry: prometheus exporter needs a registerer")
	}
	exporter, err := prometheus.New(
		prometheus.WithoutTargetInfo(),
		prometheus.WithoutUnits(),
		prometheus.WithRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create prometheus exporter: %w", err)
	}
	return exporter, nil
}

func buildOTLPExporter(ctx context.Context, cfg Config) (metric.Reader, error) {
	endpoint := cfg.OTLP.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	options := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if cfg.OTLP.Insecure {
		options = append(options, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
	}
	return metric.NewPeriodicReader(exporter), nil
}

func normalizeLower(value, fallback string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
