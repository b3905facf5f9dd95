package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Meter returns a meter of the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics records pipeline runs and the operations inside them: step
// executions and collaborator calls.
//
//	pipeline.run.total{pipeline,status}      pipeline.run.duration{pipeline}
//	pipeline.run.active
//	pipeline.operation.total{service,operation,status}
//	pipeline.operation.duration{service,operation}
//	pipeline.error.total{type,component}
type Metrics struct {
	runs        metric.Int64Counter
	runSeconds  metric.Float64Histogram
	activeRuns  metric.Int64UpDownCounter
	ops         metric.Int64Counter
	opSeconds   metric.Float64Histogram
	errorsTotal metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	seconds := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		errs = append(errs, err)
		return h
	}
	m.runs = counter("pipeline.run.total", "Finished pipeline runs")
	m.runSeconds = seconds("pipeline.run.duration", "Pipeline run duration")
	m.ops = counter("pipeline.operation.total", "Step executions and collaborator calls")
	m.opSeconds = seconds("pipeline.operation.duration", "Step and collaborator call duration")
	m.errorsTotal = counter("pipeline.error.total", "Failed operations by type and component")
	active, err := meter.Int64UpDownCounter("pipeline.run.active", metric.WithDescription("Pipeline runs in progress"))
	m.activeRuns = active
	if err := errors.Join(append(errs, err)...); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) RecordRunStart(ctx context.Context) {
	m.activeRuns.Add(ctx, 1)
}

// RecordRunEnd closes a run opened by RecordRunStart.
func (m *Metrics) RecordRunEnd(ctx context.Context, pipeline, status string, d time.Duration) {
	p := attribute.String("pipeline", pipeline)
	m.activeRuns.Add(ctx, -1)
	m.runs.Add(ctx, 1, metric.WithAttributes(p, attribute.String("status", status)))
	m.runSeconds.Record(ctx, d.Seconds(), metric.WithAttributes(p))
}

// RecordOperation records one step execution or collaborator call.
func (m *Metrics) RecordOperation(ctx context.Context, service, operation, status string, d time.Duration) {
	svc, op := attribute.String("service", service), attribute.String("operation", operation)
	m.ops.Add(ctx, 1, metric.WithAttributes(svc, op, attribute.String("status", status)))
	m.opSeconds.Record(ctx, d.Seconds(), metric.WithAttributes(svc, op))
}

func (m *Metrics) RecordError(ctx context.Context, errType, component string) {
	m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", errType),
		attribute.String("component", component),
	))
}
