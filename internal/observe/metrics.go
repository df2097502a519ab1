// Package observe wires rehearse into OpenTelemetry: metric instruments,
// spans, the HTTP middleware that opens a span per request, a slog handler
// that stamps trace IDs on log records, and the calibration sink for
// verification scores.
//
// [InitProvider] installs the global providers and the Prometheus bridge.
// Production code records through [DefaultMetrics]; tests build their own
// [Metrics] from a private meter provider with [NewMetrics].
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics groups every instrument rehearse records. Safe for concurrent use.
type Metrics struct {
	STTDuration metric.Float64Histogram
	TTSDuration metric.Float64Histogram

	// VerificationScore is the numeric half of the calibration log.
	VerificationScore metric.Float64Histogram

	// Verifications is labelled by category: perfect, passable or failed.
	Verifications metric.Int64Counter

	// ProviderRequests is labelled by provider, kind (stt|tts) and status
	// (ok|error); ProviderErrors by provider and kind.
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// SessionMessages is labelled by direction (in|out) and frame type.
	SessionMessages metric.Int64Counter

	// BreakerTransitions is labelled by provider, from and to.
	BreakerTransitions metric.Int64Counter

	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is recorded by [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// Provider round trips, in seconds.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// Finer around the category thresholds (0.80, 0.90, 0.95).
var scoreBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.925, 0.95, 0.975, 1,
}

// NewMetrics creates every instrument on a meter obtained from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(instrumentationScope)}
	m := &Metrics{
		STTDuration:         b.histogram("rehearse.stt.duration", "Latency of speech-to-text transcription.", "s", latencyBuckets),
		TTSDuration:         b.histogram("rehearse.tts.duration", "Latency of text-to-speech synthesis.", "s", latencyBuckets),
		VerificationScore:   b.histogram("rehearse.verification.score", "Similarity score of each verified line.", "", scoreBuckets),
		Verifications:       b.counter("rehearse.verifications", "Verifications by category."),
		ProviderRequests:    b.counter("rehearse.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:      b.counter("rehearse.provider.errors", "Failed provider calls by provider and kind."),
		SessionMessages:     b.counter("rehearse.session.messages", "Protocol frames by direction and type."),
		BreakerTransitions:  b.counter("rehearse.provider.breaker_transitions", "Circuit breaker state changes by provider."),
		ActiveSessions:      b.gauge("rehearse.active_sessions", "Live rehearsal connections."),
		HTTPRequestDuration: b.histogram("rehearse.http.request.duration", "HTTP request latency by method, route and status.", "s", nil),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// instruments accumulates creation errors so NewMetrics can build the whole
// struct in one literal.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) histogram(name, desc, unit string, bounds []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc)}
	if unit != "" {
		opts = append(opts, metric.WithUnit(unit))
	}
	if bounds != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.err = errors.Join(b.err, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return g
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic("observe: default metrics: " + err.Error())
	}
	return m
})

// DefaultMetrics returns the process-wide instruments, created on first use
// from the global meter provider. Call [InitProvider] first so they are
// exported.
func DefaultMetrics() *Metrics {
	return defaultMetrics()
}

func inc(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProviderRequest counts one provider call. status is "ok" or "error".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	inc(ctx, m.ProviderRequests,
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	inc(ctx, m.ProviderErrors, attribute.String("provider", provider), attribute.String("kind", kind))
}

// RecordVerification counts one verification outcome.
func (m *Metrics) RecordVerification(ctx context.Context, category string) {
	inc(ctx, m.Verifications, attribute.String("category", category))
}

// RecordMessage counts one protocol frame. direction is "in" or "out".
func (m *Metrics) RecordMessage(ctx context.Context, direction, msgType string) {
	inc(ctx, m.SessionMessages, attribute.String("direction", direction), attribute.String("type", msgType))
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, from, to string) {
	inc(ctx, m.BreakerTransitions,
		attribute.String("provider", provider),
		attribute.String("from", from),
		attribute.String("to", to),
	)
}
