package provider

import (
	"context"
	"time"

	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/observability"
)

// WithTracing opens a span "<pipeline>.<provider>" around each call.
func WithTracing[I, O any](pipeline string) Middleware[I, O] {
	return around(func(ctx context.Context, inner RequestResponse[I, O], in I) (O, error) {
		ctx, span := observability.StartSpan(ctx, pipeline+"."+inner.Name())
		defer span.End()
		observability.SetSpanAttribute(ctx, observability.AttrServiceName, pipeline)
		observability.SetSpanAttribute(ctx, observability.AttrOperationName, inner.Name())

		out, err := inner.Execute(ctx, in)
		if err != nil {
			observability.SetSpanError(ctx, err)
		}
		return out, err
	})
}

// WithMetrics counts calls and errors and records their duration.
func WithMetrics[I, O any](metrics *observability.Metrics) Middleware[I, O] {
	return around(func(ctx context.Context, inner RequestResponse[I, O], in I) (O, error) {
		start := time.Now()
		out, err := inner.Execute(ctx, in)
		status := "ok"
		if err != nil {
			status = "error"
			metrics.RecordError(ctx, "execute", inner.Name())
		}
		metrics.RecordOperation(ctx, inner.Name(), "execute", status, time.Since(start))
		return out, err
	})
}

// WithLogging logs failed calls at error level and successful ones at debug.
func WithLogging[I, O any](log *logger.Logger) Middleware[I, O] {
	return around(func(ctx context.Context, inner RequestResponse[I, O], in I) (O, error) {
		start := time.Now()
		out, err := inner.Execute(ctx, in)

		fields := logger.Fields("provider", inner.Name(), logger.FieldDuration, time.Since(start).Milliseconds())
		if err != nil {
			fields[logger.FieldError] = err.Error()
			log.WithContext(ctx).Error("provider execute failed", fields)
		} else {
			log.WithContext(ctx).Debug("provider execute ok", fields)
		}
		return out, err
	})
}
