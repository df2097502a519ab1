package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig describes the process to the OpenTelemetry SDK.
type ProviderConfig struct {
	// ServiceName defaults to "rehearse".
	ServiceName    string
	ServiceVersion string

	// Registerer receives the Prometheus collector that backs the meter
	// provider. Nil means [prometheus.DefaultRegisterer], which is what
	// promhttp.Handler serves.
	Registerer prometheus.Registerer

	// SpanExporter receives finished spans in batches. Without one, spans
	// are still created (so trace IDs reach logs and the X-Correlation-ID
	// header) but go nowhere.
	SpanExporter sdktrace.SpanExporter
}

// InitProvider installs global meter and tracer providers plus the W3C
// trace-context propagator. The returned function flushes and stops both
// providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "rehearse"
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var expOpts []promexporter.Option
	if cfg.Registerer != nil {
		expOpts = append(expOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	reader, err := promexporter.New(expOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	meters := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	tracerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.SpanExporter != nil {
		tracerOpts = append(tracerOpts, sdktrace.WithBatcher(cfg.SpanExporter))
	}
	tracers := sdktrace.NewTracerProvider(tracerOpts...)

	otel.SetMeterProvider(meters)
	otel.SetTracerProvider(tracers)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tracers.Shutdown(ctx), meters.Shutdown(ctx))
	}, nil
}
