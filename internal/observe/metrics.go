// Package observe provides application-wide observability primitives for
// dubforge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter as the meter provider's reader; dubforge's
// own HTTP mux does not serve a /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all dubforge metrics.
const meterName = "github.com/MrWong99/dubforge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Pipeline stage latency ---

	// StageDuration tracks how long one pipeline stage run took. Use with
	// attribute.String("stage", ...) — one of the nine taskstore.StageName
	// values (extract_audio, separate_vocals, speaker_tracks, transcribe,
	// translate, extract_references, clone_voices, merge_voice, mux).
	StageDuration metric.Float64Histogram

	// --- Engine call counters ---

	// EngineCalls counts calls into an Engine* adapter. Use with
	// attributes: attribute.String("engine", ...) (transcriber, translator,
	// vocal_separator, speaker_tracker, voice_cloner, muxer),
	// attribute.String("status", ...) ("ok" or "error").
	EngineCalls metric.Int64Counter

	// EngineErrors counts Engine* adapter failures, including those masked
	// by internal/resilience's fallback wrapper before they reach the
	// executor. Use with attribute.String("engine", ...).
	EngineErrors metric.Int64Counter

	// --- Task lifecycle counters ---

	// TasksStarted counts `start` operations admitted to the Scheduler.
	TasksStarted metric.Int64Counter

	// TasksCompleted counts pipeline runs that reached TaskCompleted.
	TasksCompleted metric.Int64Counter

	// TasksFailed counts pipeline runs that ended TaskFailed. Use with
	// attribute.String("stage", ...) naming the stage that failed.
	TasksFailed metric.Int64Counter

	// --- Gauges ---

	// ActiveTasks tracks the number of task runs currently in flight
	// (registered with the Scheduler, whether or not they hold a
	// concurrency-semaphore slot yet).
	ActiveTasks metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for pipeline-stage and engine-call latencies, which range from sub-second
// (translate a short segment) to several minutes (mux a long file).
var latencyBuckets = []float64{
	0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("dubforge.stage.duration",
		metric.WithDescription("Latency of one pipeline stage run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EngineCalls, err = m.Int64Counter("dubforge.engine.calls",
		metric.WithDescription("Total Engine* adapter calls by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.EngineErrors, err = m.Int64Counter("dubforge.engine.errors",
		metric.WithDescription("Total Engine* adapter failures by engine."),
	); err != nil {
		return nil, err
	}
	if met.TasksStarted, err = m.Int64Counter("dubforge.tasks.started",
		metric.WithDescription("Total tasks admitted to the Scheduler."),
	); err != nil {
		return nil, err
	}
	if met.TasksCompleted, err = m.Int64Counter("dubforge.tasks.completed",
		metric.WithDescription("Total task runs that reached TaskCompleted."),
	); err != nil {
		return nil, err
	}
	if met.TasksFailed, err = m.Int64Counter("dubforge.tasks.failed",
		metric.WithDescription("Total task runs that ended TaskFailed, by failing stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTasks, err = m.Int64UpDownCounter("dubforge.active_tasks",
		metric.WithDescription("Number of task runs currently registered with the Scheduler."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dubforge.http.request.duration",
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

// RecordStageDuration is a convenience method that records a pipeline
// stage's run duration with the standard attribute set.
func (m *Metrics) RecordStageDuration(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordEngineCall is a convenience method that records an Engine* adapter
// call counter increment with the standard attribute set.
func (m *Metrics) RecordEngineCall(ctx context.Context, engine, status string) {
	m.EngineCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("status", status),
		),
	)
}

// RecordEngineError is a convenience method that records an Engine* adapter
// error counter increment.
func (m *Metrics) RecordEngineError(ctx context.Context, engine string) {
	m.EngineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", engine)))
}

// RecordTaskFailed is a convenience method that records a task-failure
// counter increment with the stage that failed.
func (m *Metrics) RecordTaskFailed(ctx context.Context, stage string) {
	m.TasksFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
