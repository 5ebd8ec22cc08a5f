package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("dartas.analysis")
	meter  = otel.Meter("dartas.analysis")
)

var (
	// requestsTotal counts finished requests by method and outcome
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dartas_requests_total",
		Help: "Analysis server requests by method and result",
	}, []string{"method", "result"})

	// requestDuration tracks time from write to resolution
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dartas_request_duration_seconds",
		Help:    "Analysis server request latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"method"})

	// pendingRequests is the number of waiters not yet resolved
	pendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dartas_pending_requests",
		Help: "Requests awaiting a response or terminal batch",
	})

	// malformedLines counts inbound lines dropped by the read loop
	malformedLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dartas_malformed_lines_total",
		Help: "Inbound lines that were neither a response nor an event",
	})

	// eventsTotal counts inbound events by name
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dartas_events_total",
		Help: "Inbound server events by name",
	}, []string{"event"})
)

var (
	batchesPerStream metric.Int64Histogram
	itemsPerStream   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the OTel instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		batchesPerStream, err = meter.Int64Histogram(
			"dartas_stream_batches",
			metric.WithDescription("Event batches received per streamed request"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		itemsPerStream, err = meter.Int64Histogram(
			"dartas_stream_items",
			metric.WithDescription("Result items collected per streamed request"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startRequestSpan creates a span covering one request.
func startRequestSpan(ctx context.Context, method string, streamed bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "dart_analysis_server"),
			attribute.String("rpc.method", method),
			attribute.Bool("dartas.streamed", streamed),
		),
	)
}

// finishRequest records the outcome of a request on its span and metrics.
func finishRequest(span trace.Span, method, id string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case IsConnectionLost(err):
		result = "connection_lost"
	case isServerError(err):
		result = "server_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result = "abandoned"
	default:
		result = "failed"
	}

	if id != "" {
		span.SetAttributes(attribute.String("rpc.request_id", id))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}

	requestsTotal.WithLabelValues(method, result).Inc()
	requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// recordStream records how a streamed request was delivered.
func recordStream(ctx context.Context, event string, batches, items int) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("event", event))
	batchesPerStream.Record(ctx, int64(batches), attrs)
	itemsPerStream.Record(ctx, int64(items), attrs)
}
