// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/poirierunited/get-ahead-ai"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ── Latency histograms ──

	// LLMDuration tracks the generative scoring call.
	LLMDuration metric.Float64Histogram

	// FeedbackDuration tracks a whole pipeline run from rate limit to
	// persistence. Use with attribute.String("outcome", ...).
	FeedbackDuration metric.Float64Histogram

	// ── Counters ──

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// FeedbackGenerations counts pipeline runs by outcome ("success" or a
	// fault code).
	FeedbackGenerations metric.Int64Counter

	// RateLimitRejections counts requests refused by the rate limiter.
	RateLimitRejections metric.Int64Counter

	// GateRejections counts transcripts refused by the quality gate, by reason.
	GateRejections metric.Int64Counter

	// SessionTransitions counts session state changes by from/to state.
	SessionTransitions metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by breaker
	// name and target state.
	BreakerTransitions metric.Int64Counter

	// ── Gauges ──

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ── HTTP middleware ──

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Scoring
// calls routinely take several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("getahead.llm.duration",
		metric.WithDescription("Latency of the generative scoring call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FeedbackDuration, err = m.Float64Histogram("getahead.feedback.duration",
		metric.WithDescription("Latency of a feedback pipeline run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("getahead.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("getahead.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.FeedbackGenerations, err = m.Int64Counter("getahead.feedback.generations",
		metric.WithDescription("Feedback pipeline runs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.RateLimitRejections, err = m.Int64Counter("getahead.ratelimit.rejections",
		metric.WithDescription("Requests refused by the rate limiter."),
	); err != nil {
		return nil, err
	}
	if met.GateRejections, err = m.Int64Counter("getahead.gate.rejections",
		metric.WithDescription("Transcripts refused by the quality gate, by reason."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("getahead.session.transitions",
		metric.WithDescription("Session state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("getahead.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("getahead.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("getahead.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFeedback records the outcome and duration of one pipeline run.
func (m *Metrics) RecordFeedback(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.FeedbackGenerations.Add(ctx, 1, attrs)
	m.FeedbackDuration.Record(ctx, seconds, attrs)
}

// RecordRateLimited records a rate-limit rejection.
func (m *Metrics) RecordRateLimited(ctx context.Context) {
	m.RateLimitRejections.Add(ctx, 1)
}

// RecordGateRejection records a quality-gate rejection.
func (m *Metrics) RecordGateRejection(ctx context.Context, reason string) {
	m.GateRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSessionTransition records a session state change.
func (m *Metrics) RecordSessionTransition(ctx context.Context, from, to string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", name),
			attribute.String("to", to),
		),
	)
}
