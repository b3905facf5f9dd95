package dag

import (
	"context"
	"time"

	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/observability"
)

// WithTracing wraps every step with OpenTelemetry span creation.
// Each execution creates a span named "{prefix}.{stepName}".
func WithTracing(prefix string) Middleware {
	return func(step Step, next StepFunc) StepFunc {
		spanName := prefix + "." + step.Name
		return func(ctx context.Context, in Values) (Values, error) {
			ctx, span := observability.StartSpan(ctx, spanName)
			defer span.End()

			observability.SetSpanAttribute(ctx, "dag.step", step.Name)
			observability.SetSpanAttribute(ctx, "dag.component", step.Component)

			out, err := next(ctx, in)
			if err != nil {
				observability.SetSpanError(ctx, err)
			}
			return out, err
		}
	}
}

// WithMetrics wraps every step with metric recording.
// Records operation count, duration, and errors.
func WithMetrics(metrics *observability.Metrics) Middleware {
	return func(step Step, next StepFunc) StepFunc {
		return func(ctx context.Context, in Values) (Values, error) {
			start := time.Now()
			out, err := next(ctx, in)
			duration := time.Since(start)

			status := "ok"
			if err != nil {
				status = "error"
				metrics.RecordError(ctx, "execute", step.Name)
			}
			metrics.RecordOperation(ctx, step.Name, "dag.run", status, duration)
			return out, err
		}
	}
}

// WithLogging wraps every step with execution logging.
// Logs: step name, duration, and success/error status.
func WithLogging(log *logger.Logger) Middleware {
	return func(step Step, next StepFunc) StepFunc {
		return func(ctx context.Context, in Values) (Values, error) {
			start := time.Now()
			out, err := next(ctx, in)
			fields := logger.StepFields(step.Name, time.Since(start), err)
			fields["component"] = step.Component

			l := log.WithContext(ctx)
			if err != nil {
				l.Error("dag step failed", fields)
			} else {
				l.Info("dag step completed", fields)
			}
			return out, err
		}
	}
}
