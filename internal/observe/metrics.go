// Package observe provides application-wide observability primitives for
// rolecall: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all rolecall metrics.
const meterName = "github.com/MrWong99/rolecall"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per capability ---

	// SpeakDuration tracks how long a single utterance took to play.
	SpeakDuration metric.Float64Histogram

	// ListenDuration tracks how long a capture session stayed open.
	ListenDuration metric.Float64Histogram

	// --- Scores ---

	// AttemptScore records the similarity score of every stored attempt.
	// Use with attribute.String("script", ...).
	AttemptScore metric.Float64Histogram

	// --- Counters ---

	// Attempts counts stored attempts. Use with attribute.String("script", ...).
	Attempts metric.Int64Counter

	// RecognitionErrors counts failed capture sessions by
	// [ReasonLabel] of the reason.
	RecognitionErrors metric.Int64Counter

	// SessionsCompleted counts role-play sessions that reached the end of
	// their script. Use with attribute.String("script", ...).
	SessionsCompleted metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running role-play sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by method and
	// route pattern. See [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// spoken sentences and capture sessions.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 20, 30,
}

// scoreBuckets splits the 0–100 score range into bands.
var scoreBuckets = []float64{
	10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SpeakDuration, err = m.Float64Histogram("rolecall.speak.duration",
		metric.WithDescription("Playback time of a single spoken turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ListenDuration, err = m.Float64Histogram("rolecall.listen.duration",
		metric.WithDescription("Time a speech capture session stayed open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AttemptScore, err = m.Float64Histogram("rolecall.attempt.score",
		metric.WithDescription("Similarity score of stored attempts."),
		metric.WithUnit("%"),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Attempts, err = m.Int64Counter("rolecall.attempts",
		metric.WithDescription("Total stored attempts by script."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionErrors, err = m.Int64Counter("rolecall.recognition.errors",
		metric.WithDescription("Total failed capture sessions by reason."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCompleted, err = m.Int64Counter("rolecall.sessions.completed",
		metric.WithDescription("Total role-play sessions that reached the end of their script."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("rolecall.active_sessions",
		metric.WithDescription("Number of running role-play sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("rolecall.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// RecordAttempt records a stored attempt and its score for scriptID.
func (m *Metrics) RecordAttempt(ctx context.Context, scriptID string, score float64) {
	attrs := metric.WithAttributes(attribute.String("script", scriptID))
	m.Attempts.Add(ctx, 1, attrs)
	m.AttemptScore.Record(ctx, score, attrs)
}

// ReasonOther is the label of every recognition failure reason outside
// [knownReasons].
const ReasonOther = "other"

// knownReasons are the failure reasons kept as distinct label values: the
// Web Speech API error codes plus the engine's own. Reasons reach the engine
// from the browser as free text, so anything else is folded into
// [ReasonOther].
var knownReasons = map[string]bool{
	"no-speech":              true,
	"aborted":                true,
	"audio-capture":          true,
	"network":                true,
	"not-allowed":            true,
	"service-not-allowed":    true,
	"language-not-supported": true,
	"timeout":                true,
	"malformed result":       true,
}

// ReasonLabel maps a failure reason onto the bounded label set.
func ReasonLabel(reason string) string {
	if knownReasons[reason] {
		return reason
	}
	return ReasonOther
}

// RecordRecognitionError records a failed capture session under
// [ReasonLabel] of reason.
func (m *Metrics) RecordRecognitionError(ctx context.Context, reason string) {
	m.RecognitionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", ReasonLabel(reason))),
	)
}

// RecordSessionCompleted records a role-play session finishing its script.
func (m *Metrics) RecordSessionCompleted(ctx context.Context, scriptID string) {
	m.SessionsCompleted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("script", scriptID)),
	)
}
