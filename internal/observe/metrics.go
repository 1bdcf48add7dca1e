// Package observe provides application-wide observability primitives for
// VoxCanvas: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped from /metrics. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VoxCanvas metrics.
const meterName = "github.com/MrWong99/voxcanvas"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// RecognitionDuration tracks end-to-end recognition latency, from
	// preprocessing to the final server frame.
	RecognitionDuration metric.Float64Histogram

	// UploadDuration tracks object storage upload latency.
	UploadDuration metric.Float64Histogram

	// ImageDuration tracks image generation latency.
	ImageDuration metric.Float64Histogram

	// FramesSent counts binary frames written to the recognition service,
	// by message type.
	FramesSent metric.Int64Counter

	// FramesReceived counts decoded server frames, by message type.
	FramesReceived metric.Int64Counter

	// DecodeWarnings counts server frames that could not be fully decoded,
	// by stage.
	DecodeWarnings metric.Int64Counter

	// ProviderRequests counts calls to external providers by provider, kind
	// and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by breaker and
	// target state.
	BreakerTransitions metric.Int64Counter

	// ActiveRecognitions is the number of in-flight recognition sessions.
	ActiveRecognitions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request latency by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers short HTTP round trips up to multi-minute streams.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates all metric instruments from the given [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	// Latency histograms.
	if met.RecognitionDuration, err = m.Float64Histogram("voxcanvas.recognition.duration",
		metric.WithDescription("Speech recognition latency from file to transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("voxcanvas.upload.duration",
		metric.WithDescription("Object storage upload latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ImageDuration, err = m.Float64Histogram("voxcanvas.image.duration",
		metric.WithDescription("Image generation latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Wire counters.
	if met.FramesSent, err = m.Int64Counter("voxcanvas.recognition.frames_sent",
		metric.WithDescription("Binary frames sent to the recognition service by message type."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("voxcanvas.recognition.frames_received",
		metric.WithDescription("Server frames decoded by message type."),
	); err != nil {
		return nil, err
	}
	if met.DecodeWarnings, err = m.Int64Counter("voxcanvas.recognition.decode_warnings",
		metric.WithDescription("Server frames skipped because they could not be decoded."),
	); err != nil {
		return nil, err
	}

	// Provider counters.
	if met.ProviderRequests, err = m.Int64Counter("voxcanvas.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxcanvas.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voxcanvas.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRecognitions, err = m.Int64UpDownCounter("voxcanvas.recognition.active",
		metric.WithDescription("Number of in-flight recognition sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxcanvas.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one provider call with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition records a circuit breaker moving to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("state", state),
		),
	)
}

// RecordFrame increments the sent or received frame counter for a message
// type.
func (m *Metrics) RecordFrame(ctx context.Context, sent bool, messageType string) {
	c := m.FramesReceived
	if sent {
		c = m.FramesSent
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("message_type", messageType)))
}

// RecordDecodeWarning records a skipped server frame at the given stage.
func (m *Metrics) RecordDecodeWarning(ctx context.Context, stage string) {
	m.DecodeWarnings.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
