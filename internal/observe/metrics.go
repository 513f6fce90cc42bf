// Package observe provides application-wide observability primitives for
// Hertz: OpenTelemetry metrics, tracing, structured logging, and HTTP
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Hertz metrics.
const meterName = "github.com/MrWong99/hertz"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// NextFrameDuration tracks how long the voice loop waited for a frame.
	NextFrameDuration metric.Float64Histogram

	// ConnectDuration tracks voice connection handshakes. Use with attribute:
	//   attribute.String("status", ...)
	ConnectDuration metric.Float64Histogram

	// ResolveDuration tracks track resolution latency. Use with attributes:
	//   attribute.String("resolver", ...), attribute.String("status", ...)
	ResolveDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts frames handed to the voice transport.
	FramesSent metric.Int64Counter

	// FrameFailures counts failed frame deliveries. Use with attributes:
	//   attribute.String("origin", "source"|"transport"), attribute.String("kind", ...)
	FrameFailures metric.Int64Counter

	// TrackEvents counts playback lifecycle events. Use with attribute:
	//   attribute.String("event", "started"|"finished"|"failed"|"skipped"|"faulted")
	TrackEvents metric.Int64Counter

	// Commands counts front-end commands. Use with attributes:
	//   attribute.String("command", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live guild playback sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveStreams tracks the number of voice links currently delivering frames.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request time by method, route label
	// and status. Event feed streams are recorded when they close.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network-bound operations.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// frameBuckets covers the sub-frame range the voice loop operates in.
var frameBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.NextFrameDuration, err = m.Float64Histogram("hertz.source.next_frame.duration",
		metric.WithDescription("Time spent waiting for the next frame from a frame source."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("hertz.voice.connect.duration",
		metric.WithDescription("Latency of voice channel connection handshakes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResolveDuration, err = m.Float64Histogram("hertz.resolve.duration",
		metric.WithDescription("Latency of resolving a query to a track."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("hertz.voice.frames_sent",
		metric.WithDescription("Total audio frames transmitted to voice channels."),
	); err != nil {
		return nil, err
	}
	if met.FrameFailures, err = m.Int64Counter("hertz.voice.frame_failures",
		metric.WithDescription("Total failed frame deliveries by origin and kind."),
	); err != nil {
		return nil, err
	}
	if met.TrackEvents, err = m.Int64Counter("hertz.playback.track_events",
		metric.WithDescription("Total playback lifecycle events by event type."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("hertz.commands",
		metric.WithDescription("Total front-end commands by command and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("hertz.active_sessions",
		metric.WithDescription("Number of live guild playback sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("hertz.active_streams",
		metric.WithDescription("Number of voice links currently streaming."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hertz.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// RecordFrameSent increments the transmitted frame counter.
func (m *Metrics) RecordFrameSent(ctx context.Context) {
	m.FramesSent.Add(ctx, 1)
}

// RecordFrameFailure records one failed delivery attempt.
func (m *Metrics) RecordFrameFailure(ctx context.Context, origin, kind string) {
	m.FrameFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("origin", origin),
			attribute.String("kind", kind),
		),
	)
}

// RecordNextFrame records how long a frame source took to produce a frame.
func (m *Metrics) RecordNextFrame(ctx context.Context, d time.Duration) {
	m.NextFrameDuration.Record(ctx, d.Seconds())
}

// RecordConnect records a voice connection attempt.
func (m *Metrics) RecordConnect(ctx context.Context, status string, d time.Duration) {
	m.ConnectDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordResolve records a resolution attempt by resolver name.
func (m *Metrics) RecordResolve(ctx context.Context, resolver, status string, d time.Duration) {
	m.ResolveDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("resolver", resolver),
			attribute.String("status", status),
		),
	)
}

// RecordTrackEvent increments the playback lifecycle counter.
func (m *Metrics) RecordTrackEvent(ctx context.Context, event string) {
	m.TrackEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordCommand increments the front-end command counter.
func (m *Metrics) RecordCommand(ctx context.Context, command, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
}
