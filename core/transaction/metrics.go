package transaction

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for the transaction engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	startedCounter     metric.Int64Counter
	closedCounter      metric.Int64Counter
	activeUpDown       metric.Int64UpDownCounter
	opLatencyHistogram metric.Int64Histogram
}

// NewMetrics creates and registers the transaction engine instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	startedCounter, err := meter.Int64Counter(
		"loom.itx.started_total",
		metric.WithDescription("Total number of interactive transactions started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	closedCounter, err := meter.Int64Counter(
		"loom.itx.closed_total",
		metric.WithDescription("Total number of interactive transactions closed, by terminal state."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	activeUpDown, err := meter.Int64UpDownCounter(
		"loom.itx.active",
		metric.WithDescription("Number of currently open interactive transactions."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opLatencyHistogram, err := meter.Int64Histogram(
		"loom.itx.operation.duration",
		metric.WithDescription("The latency of operations executed inside interactive transactions."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		startedCounter:     startedCounter,
		closedCounter:      closedCounter,
		activeUpDown:       activeUpDown,
		opLatencyHistogram: opLatencyHistogram,
	}, nil
}

func (m *Metrics) transactionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.startedCounter.Add(ctx, 1)
	m.activeUpDown.Add(ctx, 1)
}

func (m *Metrics) transactionClosed(ctx context.Context, terminal Status) {
	if m == nil {
		return
	}
	m.closedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", terminal.String())))
	m.activeUpDown.Add(ctx, -1)
}

func (m *Metrics) observeOperation(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.opLatencyHistogram.Record(ctx, d.Milliseconds())
}
