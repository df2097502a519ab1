package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type harness struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

// newHarness swaps in a recording tracer provider and the trace-context
// propagator for the duration of the test.
func newHarness(t *testing.T) *harness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))

	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	return &harness{metrics: m, reader: reader, spans: spans}
}

func (h *harness) serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	Middleware(h.metrics)(handler).ServeHTTP(rec, req)
	return rec
}

func (h *harness) durationPoints(t *testing.T) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "rehearse.http.request.duration")
	if met == nil {
		t.Fatal("rehearse.http.request.duration not recorded")
	}
	return met.Data.(metricdata.Histogram[float64]).DataPoints
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{
			name:        "continued trace",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			want:        "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var inHandler string
			req := httptest.NewRequest(http.MethodGet, "/cid", nil)
			if tc.traceparent != "" {
				req.Header.Set("traceparent", tc.traceparent)
			}
			rec := h.serve(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				inHandler = CorrelationID(r.Context())
			}), req)

			if len(inHandler) != 32 {
				t.Fatalf("correlation ID %q is not a trace ID", inHandler)
			}
			if tc.want != "" && inHandler != tc.want {
				t.Errorf("correlation ID: got %q, want %q", inHandler, tc.want)
			}
			if got := rec.Header().Get(CorrelationHeader); got != inHandler {
				t.Errorf("%s header: got %q, want %q", CorrelationHeader, got, inHandler)
			}
			if rec.Header().Get("traceparent") == "" {
				t.Error("trace context not injected into the response")
			}
		})
	}
}

func TestMiddleware_SpanCarriesStatus(t *testing.T) {
	h := newHarness(t)

	rec := h.serve(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}), httptest.NewRequest(http.MethodPost, "/brew", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status: got %d, want 418", rec.Code)
	}

	spans := h.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "POST /brew" {
		t.Errorf("span name: got %q", spans[0].Name)
	}
	var status int64
	for _, kv := range spans[0].Attributes {
		if kv.Key == "http.response.status_code" {
			status = kv.Value.AsInt64()
		}
	}
	if status != http.StatusTeapot {
		t.Errorf("http.response.status_code: got %d, want 418", status)
	}
}

func TestMiddleware_ImplicitOK(t *testing.T) {
	h := newHarness(t)

	h.serve(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}), httptest.NewRequest(http.MethodGet, "/implicit", nil))

	dps := h.durationPoints(t)
	if len(dps) != 1 {
		t.Fatalf("got %d data points, want 1", len(dps))
	}
	if v, _ := dps[0].Attributes.Value("status"); v.AsInt64() != http.StatusOK {
		t.Errorf("status attribute: got %d, want 200", v.AsInt64())
	}
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	h := newHarness(t)

	r := chi.NewRouter()
	r.Use(Middleware(h.metrics))
	r.Get("/api/scripts/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	for _, path := range []string{"/api/scripts/7", "/api/scripts/8"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	dps := h.durationPoints(t)
	if len(dps) != 1 {
		t.Fatalf("got %d series, want both requests in one", len(dps))
	}
	if dps[0].Count != 2 {
		t.Errorf("count: got %d, want 2", dps[0].Count)
	}
	want := attribute.NewSet(
		attribute.String("method", http.MethodGet),
		attribute.String("path", "/api/scripts/{id}"),
		attribute.Int("status", http.StatusNoContent),
	)
	if !dps[0].Attributes.Equals(&want) {
		t.Errorf("attributes: got %v", dps[0].Attributes.ToSlice())
	}
	for _, s := range h.spans.GetSpans() {
		if s.Name != "GET /api/scripts/{id}" {
			t.Errorf("span name: got %q", s.Name)
		}
	}
}
