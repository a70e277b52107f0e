package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Observability records per-turn latency through an otel meter exported to
// prometheus and traces turns through an otel tracer provider.
type Observability struct {
	meterProvider  *metric.MeterProvider
	meter          otelmetric.Meter
	turnCounter    otelmetric.Int64Counter
	turnDuration   otelmetric.Float64Histogram
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
}

type Option func(*options)

type options struct {
	processors []sdktrace.SpanProcessor
	noMetrics  bool
}

// WithSpanProcessor attaches a span processor, e.g. a batcher in front of an exporter.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) { o.processors = append(o.processors, sp) }
}

// WithoutMetrics skips registering the prometheus exporter.
func WithoutMetrics() Option {
	return func(o *options) { o.noMetrics = true }
}

// New sets up tracing and registers the otel prometheus exporter. An exporter
// failure leaves metrics as no-ops.
func New(serviceName string, opts ...Option) *Observability {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	obs := newTracing(serviceName, o.processors)
	if o.noMetrics {
		return obs
	}

	exporter, err := prometheus.New()
	if err != nil {
		return obs
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	turnCounter, _ := meter.Int64Counter(
		"connector.turns",
		otelmetric.WithDescription("Number of completed turns"),
	)

	turnDuration, _ := meter.Float64Histogram(
		"connector.turn.duration",
		otelmetric.WithDescription("Time from sending a user turn to delivering its last bot message"),
		otelmetric.WithUnit("ms"),
	)

	obs.meterProvider = provider
	obs.meter = meter
	obs.turnCounter = turnCounter
	obs.turnDuration = turnDuration
	return obs
}

// NewNoop returns a recorder that drops everything.
func NewNoop() *Observability {
	return &Observability{}
}

func (o *Observability) RecordTurn(ctx context.Context, mode string, duration time.Duration, status string) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	)
	if o.turnCounter != nil {
		o.turnCounter.Add(ctx, 1, attrs)
	}
	if o.turnDuration != nil {
		o.turnDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) Shutdown() {
	if o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
}
