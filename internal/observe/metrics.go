// Package observe provides application-wide observability primitives for
// castvox: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all castvox metrics.
const meterName = "github.com/MrWong99/castvox"

// Dispatch outcomes recorded by [Metrics.RecordDispatch].
const (
	OutcomeMatch = "match"
	OutcomeMiss  = "miss"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ActionDuration tracks how long routing one dispatch result took. Use
	// with attribute.String("action", ...).
	ActionDuration metric.Float64Histogram

	// LLMDuration tracks language-model completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency up to the last chunk.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// DispatchResults counts parsed utterances. Use with attributes:
	//   attribute.String("outcome", OutcomeMatch|OutcomeMiss), attribute.String("action", ...)
	DispatchResults metric.Int64Counter

	// Actions counts routed actions. Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	Actions metric.Int64Counter

	// ProtocolEvents counts events emitted by the protocol clients. Use with
	// attributes:
	//   attribute.String("client", "compositor"|"relay"), attribute.String("event", ...)
	ProtocolEvents metric.Int64Counter

	// Reconnects counts reconnect attempts. Use with attributes:
	//   attribute.String("client", ...), attribute.String("status", ...)
	Reconnects metric.Int64Counter

	// RuleReloads counts rule table (re)loads. Use with attribute:
	//   attribute.String("status", ...)
	RuleReloads metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// RulesLoaded reports the size of the active rule table.
	RulesLoaded metric.Int64Gauge

	// Connections tracks open protocol sockets. Use with attribute:
	//   attribute.String("client", ...)
	Connections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for action
// and provider latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ActionDuration, err = m.Float64Histogram("castvox.action.duration",
		metric.WithDescription("Latency of routing one dispatch result to its handler."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("castvox.llm.duration",
		metric.WithDescription("Latency of language-model completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("castvox.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.DispatchResults, err = m.Int64Counter("castvox.dispatch.results",
		metric.WithDescription("Total parsed utterances by outcome and action."),
	); err != nil {
		return nil, err
	}
	if met.Actions, err = m.Int64Counter("castvox.actions",
		metric.WithDescription("Total routed actions by action and status."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolEvents, err = m.Int64Counter("castvox.protocol.events",
		metric.WithDescription("Total protocol client events by client and event name."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("castvox.reconnects",
		metric.WithDescription("Total reconnect attempts by client and status."),
	); err != nil {
		return nil, err
	}
	if met.RuleReloads, err = m.Int64Counter("castvox.rules.reloads",
		metric.WithDescription("Total rule table loads by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("castvox.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("castvox.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.RulesLoaded, err = m.Int64Gauge("castvox.rules.loaded",
		metric.WithDescription("Number of rules in the active dispatch table."),
	); err != nil {
		return nil, err
	}
	if met.Connections, err = m.Int64UpDownCounter("castvox.connections",
		metric.WithDescription("Number of open protocol sockets by client."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("castvox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDispatch records one parsed utterance. action is ignored for misses.
func (m *Metrics) RecordDispatch(ctx context.Context, outcome, action string) {
	if outcome == OutcomeMiss {
		action = ""
	}
	m.DispatchResults.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("action", action),
		),
	)
}

// RecordAction records one routed action and its latency in seconds.
func (m *Metrics) RecordAction(ctx context.Context, action, status string, seconds float64) {
	m.Actions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
	m.ActionDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// RecordProtocolEvent records one event emitted by a protocol client.
func (m *Metrics) RecordProtocolEvent(ctx context.Context, client, event string) {
	m.ProtocolEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("client", client),
			attribute.String("event", event),
		),
	)
}

// RecordReconnect records one reconnect attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, client, status string) {
	m.Reconnects.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("client", client),
			attribute.String("status", status),
		),
	)
}

// RecordRuleLoad records a rule table load. On success the loaded gauge is
// set to n.
func (m *Metrics) RecordRuleLoad(ctx context.Context, status string, n int) {
	m.RuleReloads.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	if status == "ok" {
		m.RulesLoaded.Record(ctx, int64(n))
	}
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordConnection adjusts the open connection gauge for client by delta.
func (m *Metrics) RecordConnection(ctx context.Context, client string, delta int64) {
	m.Connections.Add(ctx, delta,
		metric.WithAttributes(attribute.String("client", client)),
	)
}
