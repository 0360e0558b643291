// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics and the HTTP middleware for the metrics
// endpoint.
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

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Audio pipeline counters ---

	// CapturedFrames counts microphone frames captured.
	CapturedFrames metric.Int64Counter

	// SentFrames counts frames transmitted to the remote session.
	SentFrames metric.Int64Counter

	// PlayedFrames counts response frames handed to the playback sink.
	PlayedFrames metric.Int64Counter

	// OverflowDrops counts outbound frames discarded because the send
	// queue was full.
	OverflowDrops metric.Int64Counter

	// Underruns counts playback frames dropped for arriving too late or
	// too far out of order.
	Underruns metric.Int64Counter

	// --- Conversation counters ---

	// Turns counts completed user turns. Use with attribute:
	//   attribute.String("outcome", "answered"|"barged_in"|"dropped")
	Turns metric.Int64Counter

	// ReconnectAttempts counts session reconnection attempts. Use with
	// attribute: attribute.String("status", "success"|"failure")
	ReconnectAttempts metric.Int64Counter

	// --- Latency histograms ---

	// TurnDuration tracks the length of user turns.
	TurnDuration metric.Float64Histogram

	// ResponseLatency tracks the time from end-of-turn commit to the
	// first audible response frame.
	ResponseLatency metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live realtime sessions, which
	// for this application is 0 or 1.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time on the
	// metrics endpoint. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Audio pipeline counters.
	if met.CapturedFrames, err = m.Int64Counter("parley.audio.captured_frames",
		metric.WithDescription("Total microphone frames captured."),
	); err != nil {
		return nil, err
	}
	if met.SentFrames, err = m.Int64Counter("parley.audio.sent_frames",
		metric.WithDescription("Total frames transmitted to the remote session."),
	); err != nil {
		return nil, err
	}
	if met.PlayedFrames, err = m.Int64Counter("parley.audio.played_frames",
		metric.WithDescription("Total response frames handed to playback."),
	); err != nil {
		return nil, err
	}
	if met.OverflowDrops, err = m.Int64Counter("parley.audio.overflow_drops",
		metric.WithDescription("Total outbound frames discarded due to send queue saturation."),
	); err != nil {
		return nil, err
	}
	if met.Underruns, err = m.Int64Counter("parley.audio.underruns",
		metric.WithDescription("Total playback frames dropped for arriving late or out of order."),
	); err != nil {
		return nil, err
	}

	// Conversation counters.
	if met.Turns, err = m.Int64Counter("parley.turns",
		metric.WithDescription("Total completed user turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("parley.session.reconnect_attempts",
		metric.WithDescription("Total session reconnection attempts by status."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("parley.turn.duration",
		metric.WithDescription("Length of user turns."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseLatency, err = m.Float64Histogram("parley.response.latency",
		metric.WithDescription("Time from end-of-turn commit to first response frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.session.active",
		metric.WithDescription("Number of live realtime sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordTurn records one completed user turn with its outcome and duration.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, seconds float64) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	m.TurnDuration.Record(ctx, seconds)
}

// RecordReconnectAttempt records one reconnection attempt.
func (m *Metrics) RecordReconnectAttempt(ctx context.Context, success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	m.ReconnectAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
