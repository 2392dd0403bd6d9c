package batch

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"jobx-market/internal/model"
)

const meterName = "jobx-market/batch"

type executorMetrics struct {
	outcomes metric.Int64Counter
	duration metric.Float64Histogram
	rows     metric.Int64Counter
	batches  metric.Int64Counter
}

// newExecutorMetrics registers the executor instruments. A nil provider means the
// global one, which is a no-op until the host installs an SDK.
func newExecutorMetrics(mp metric.MeterProvider) (*executorMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(executorMetrics)
	var err error

	if m.outcomes, err = meter.Int64Counter(
		"jobx.search.outcomes",
		metric.WithDescription("Terminal search outcomes by success and error category"),
	); err != nil {
		return nil, err
	}

	if m.duration, err = meter.Float64Histogram(
		"jobx.search.duration",
		metric.WithDescription("Wall time of a search task including retries"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.rows, err = meter.Int64Counter(
		"jobx.search.rows",
		metric.WithDescription("Job postings returned by successful searches"),
	); err != nil {
		return nil, err
	}

	if m.batches, err = meter.Int64Counter(
		"jobx.batch.completed",
		metric.WithDescription("Batches that ran to completion"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func noopExecutorMetrics() *executorMetrics {
	m, _ := newExecutorMetrics(noop.NewMeterProvider())
	return m
}

func (m *executorMetrics) observeOutcome(ctx context.Context, o model.TaskOutcome) {
	attrs := metric.WithAttributes(
		attribute.Bool("success", o.Success),
		attribute.String("category", string(o.Category)),
		attribute.String("role", o.Task.RoleID),
	)
	m.outcomes.Add(ctx, 1, attrs)
	if o.HasDuration() {
		m.duration.Record(ctx, o.Duration(), attrs)
	}
	if o.Success {
		m.rows.Add(ctx, int64(o.RowCount), metric.WithAttributes(attribute.String("role", o.Task.RoleID)))
	}
}

func (m *executorMetrics) batchCompleted(ctx context.Context) {
	m.batches.Add(ctx, 1)
}
