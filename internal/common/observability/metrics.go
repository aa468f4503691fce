package observability

import (
	"context"
	"time"

	"approval-notify/internal/common/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability records delivery pool measurements through an OpenTelemetry meter
// exported on the default Prometheus registry.
type Observability struct {
	meterProvider *metric.MeterProvider
	jobCounter    otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
	queueDepth    otelmetric.Int64Gauge
}

func New(serviceName string, log logger.Logger) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Warn("Prometheus exporter unavailable, otel metrics disabled", map[string]interface{}{"error": err})
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	jobCounter, _ := meter.Int64Counter(
		"delivery.jobs.processed",
		otelmetric.WithDescription("Number of delivery jobs processed"),
	)
	jobDuration, _ := meter.Float64Histogram(
		"delivery.jobs.duration",
		otelmetric.WithDescription("Delivery job processing duration"),
		otelmetric.WithUnit("ms"),
	)
	queueDepth, _ := meter.Int64Gauge(
		"delivery.queue.depth",
		otelmetric.WithDescription("Jobs per delivery queue state"),
	)

	return &Observability{
		meterProvider: provider,
		jobCounter:    jobCounter,
		jobDuration:   jobDuration,
		queueDepth:    queueDepth,
	}
}

// NewNoop returns an instance that records nothing.
func NewNoop() *Observability {
	return &Observability{}
}

func (o *Observability) RecordJobProcessed(ctx context.Context, kind, status string) {
	if o.jobCounter != nil {
		o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordJobDuration(ctx context.Context, duration time.Duration, status string) {
	if o.jobDuration != nil {
		o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

// RecordQueueDepth records the size of one queue state (ready, delayed, processing).
func (o *Observability) RecordQueueDepth(ctx context.Context, state string, depth int64) {
	if o.queueDepth != nil {
		o.queueDepth.Record(ctx, depth, otelmetric.WithAttributes(attribute.String("state", state)))
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.meterProvider.Shutdown(ctx)
	}
}
