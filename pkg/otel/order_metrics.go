package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/eterna-labs/swapflow"

// PipelineMetrics holds the counters for swap order processing. It is
// created per service instance and injected where needed.
type PipelineMetrics struct {
	ordersStarted   metric.Int64Counter
	ordersCompleted metric.Int64Counter
	ordersRetried   metric.Int64Counter
	ordersFailed    metric.Int64Counter
	orderDuration   metric.Float64Histogram
}

// NewPipelineMetrics registers the pipeline instruments on the provider
func NewPipelineMetrics(provider metric.MeterProvider) (*PipelineMetrics, error) {
	meter := provider.Meter(instrumentationName)

	ordersStarted, err := meter.Int64Counter(
		"swapflow.orders.started.total",
		metric.WithDescription("Total number of order processing attempts started"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	ordersCompleted, err := meter.Int64Counter(
		"swapflow.orders.completed.total",
		metric.WithDescription("Total number of orders completed"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	ordersRetried, err := meter.Int64Counter(
		"swapflow.orders.retried.total",
		metric.WithDescription("Total number of failed attempts scheduled for retry"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	ordersFailed, err := meter.Int64Counter(
		"swapflow.orders.failed.total",
		metric.WithDescription("Total number of orders failed permanently"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	orderDuration, err := meter.Float64Histogram(
		"swapflow.orders.duration",
		metric.WithDescription("End-to-end processing time of completed orders"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		ordersStarted:   ordersStarted,
		ordersCompleted: ordersCompleted,
		ordersRetried:   ordersRetried,
		ordersFailed:    ordersFailed,
		orderDuration:   orderDuration,
	}, nil
}

// OrderStarted counts the start of one processing attempt
func (m *PipelineMetrics) OrderStarted(ctx context.Context) {
	m.ordersStarted.Add(ctx, 1)
}

// OrderCompleted counts a completed order and records its duration
func (m *PipelineMetrics) OrderCompleted(ctx context.Context, elapsed time.Duration) {
	m.ordersCompleted.Add(ctx, 1)
	m.orderDuration.Record(ctx, float64(elapsed.Milliseconds()))
}

// OrderRetried counts a retryable attempt failure
func (m *PipelineMetrics) OrderRetried(ctx context.Context) {
	m.ordersRetried.Add(ctx, 1)
}

// OrderFailed counts a permanent order failure
func (m *PipelineMetrics) OrderFailed(ctx context.Context) {
	m.ordersFailed.Add(ctx, 1)
}
