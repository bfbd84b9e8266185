// Package observe provides application-wide observability primitives for
// the session runtime: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all runtime metrics.
const meterName = "github.com/kestrel-run/aoi-runtime"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CommandDuration tracks dispatcher command processing latency, end to
	// end including any state-store commit. Use with attribute
	// attribute.String("verb", ...).
	CommandDuration metric.Float64Histogram

	// LockWaitDuration tracks how long a state-store write waited to
	// acquire its advisory file lock.
	LockWaitDuration metric.Float64Histogram

	// AOIBuildDuration tracks Area-of-Interest composition latency.
	AOIBuildDuration metric.Float64Histogram

	// ChatProxyDuration tracks the talk handler's external chat-service
	// round trip, including time spent inside an open circuit breaker.
	ChatProxyDuration metric.Float64Histogram

	// --- Counters ---

	// CommandsProcessed counts dispatched commands. Use with attributes:
	//   attribute.String("verb", ...), attribute.String("status", ...)
	CommandsProcessed metric.Int64Counter

	// EventBusPublishes counts successful pub/sub publishes.
	EventBusPublishes metric.Int64Counter

	// EventBusFailures counts publish/subscribe failures, swallowed by the
	// caller but still worth alerting on. Use with attribute
	// attribute.String("kind", ...) ("publish" or "subscribe").
	EventBusFailures metric.Int64Counter

	// ChatProxyFallbacks counts talk-handler replies that degraded to the
	// canned fallback because the chat service was unavailable or its
	// circuit breaker was open.
	ChatProxyFallbacks metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of live session-endpoint
	// websocket connections.
	ActiveConnections metric.Int64UpDownCounter

	// GatewayTunnels tracks the number of live gateway proxy tunnels.
	GatewayTunnels metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for command-processing and AOI-build latencies, which are expected to stay
// well under a second outside of lock contention.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CommandDuration, err = m.Float64Histogram("runtime.command.duration",
		metric.WithDescription("Latency of dispatcher command processing, including any state-store commit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LockWaitDuration, err = m.Float64Histogram("runtime.lock.wait_duration",
		metric.WithDescription("Time spent waiting to acquire a state-store advisory file lock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AOIBuildDuration, err = m.Float64Histogram("runtime.aoi.build_duration",
		metric.WithDescription("Latency of Area-of-Interest composition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatProxyDuration, err = m.Float64Histogram("runtime.chat_proxy.duration",
		metric.WithDescription("Latency of the talk handler's external chat service round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.CommandsProcessed, err = m.Int64Counter("runtime.commands.processed",
		metric.WithDescription("Total commands dispatched, by verb and status."),
	); err != nil {
		return nil, err
	}
	if met.EventBusPublishes, err = m.Int64Counter("runtime.event_bus.publishes",
		metric.WithDescription("Total successful event-bus publishes."),
	); err != nil {
		return nil, err
	}
	if met.EventBusFailures, err = m.Int64Counter("runtime.event_bus.failures",
		metric.WithDescription("Total event-bus publish/subscribe failures."),
	); err != nil {
		return nil, err
	}
	if met.ChatProxyFallbacks, err = m.Int64Counter("runtime.chat_proxy.fallbacks",
		metric.WithDescription("Total talk replies that degraded to the canned fallback."),
	); err != nil {
		return nil, err
	}

	if met.ActiveConnections, err = m.Int64UpDownCounter("runtime.connections.active",
		metric.WithDescription("Number of live session-endpoint websocket connections."),
	); err != nil {
		return nil, err
	}
	if met.GatewayTunnels, err = m.Int64UpDownCounter("runtime.gateway.tunnels_active",
		metric.WithDescription("Number of live gateway proxy tunnels."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("runtime.http.request.duration",
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

// RecordCommand is a convenience method recording one dispatched command's
// duration and status.
func (m *Metrics) RecordCommand(ctx context.Context, verb, status string, seconds float64) {
	m.CommandDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("verb", verb)))
	m.CommandsProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("verb", verb),
			attribute.String("status", status),
		),
	)
}

// RecordEventBusFailure is a convenience method recording a publish or
// subscribe failure.
func (m *Metrics) RecordEventBusFailure(ctx context.Context, kind string) {
	m.EventBusFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
