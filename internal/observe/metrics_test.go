package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the value of the counter data point whose attributes
// include key=value.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"castvox.action.duration", m.ActionDuration},
		{"castvox.llm.duration", m.LLMDuration},
		{"castvox.tts.duration", m.TTSDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordDispatch(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDispatch(ctx, OutcomeMatch, "obs")
	m.RecordDispatch(ctx, OutcomeMatch, "obs")
	m.RecordDispatch(ctx, OutcomeMatch, "chat")
	m.RecordDispatch(ctx, OutcomeMiss, "ignored")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "castvox.dispatch.results", "action", "obs"); got != 2 {
		t.Errorf("obs matches = %d, want 2", got)
	}
	if got := sumValue(t, rm, "castvox.dispatch.results", "outcome", OutcomeMiss); got != 1 {
		t.Errorf("misses = %d, want 1", got)
	}
}

func TestRecordAction(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAction(ctx, "speak", "ok", 0.2)
	m.RecordAction(ctx, "speak", "error", 0.1)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "castvox.actions", "status", "error"); got != 1 {
		t.Errorf("errored actions = %d, want 1", got)
	}
	met := findMetric(rm, "castvox.action.duration")
	if met == nil {
		t.Fatal("action duration not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "ollama", "llm", "ok")
	m.RecordProviderRequest(ctx, "ollama", "llm", "ok")
	m.RecordProviderRequest(ctx, "ollama", "llm", "error")
	m.RecordProviderError(ctx, "elevenlabs", "tts")
	m.RecordProtocolEvent(ctx, "relay", "message")
	m.RecordReconnect(ctx, "compositor", "error")

	rm := collect(t, reader)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"castvox.provider.requests", "status", "ok", 2},
		{"castvox.provider.errors", "provider", "elevenlabs", 1},
		{"castvox.protocol.events", "event", "message", 1},
		{"castvox.reconnects", "client", "compositor", 1},
	}
	for _, tc := range tests {
		t.Run(tc.metric, func(t *testing.T) {
			if got := sumValue(t, rm, tc.metric, tc.key, tc.value); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRecordRuleLoad(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRuleLoad(ctx, "ok", 4)
	m.RecordRuleLoad(ctx, "error", 0)
	m.RecordRuleLoad(ctx, "ok", 7)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "castvox.rules.reloads", "status", "ok"); got != 2 {
		t.Errorf("ok reloads = %d, want 2", got)
	}
	met := findMetric(rm, "castvox.rules.loaded")
	if met == nil {
		t.Fatal("rules gauge not found")
	}
	g, ok := met.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("rules gauge is %T, want Gauge[int64]", met.Data)
	}
	if len(g.DataPoints) == 0 || g.DataPoints[0].Value != 7 {
		t.Errorf("rules gauge = %+v, want 7", g.DataPoints)
	}
}

func TestConnectionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	compositor := metric.WithAttributes(attribute.String("client", "compositor"))
	m.Connections.Add(ctx, 1, compositor)
	m.Connections.Add(ctx, 1, compositor)
	m.Connections.Add(ctx, -1, compositor)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "castvox.connections", "client", "compositor"); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "castvox.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
