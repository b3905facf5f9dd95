package logger

import "context"

type ctxKey int

const (
	pipelineKey ctxKey = iota
	runKey
	stepKey
)

// contextFields are copied onto entries by WithContext.
var contextFields = []struct {
	key  ctxKey
	name string
}{
	{pipelineKey, FieldPipeline},
	{runKey, FieldRunID},
	{stepKey, FieldStep},
}

// ContextWithRun records the pipeline and run a context belongs to.
func ContextWithRun(ctx context.Context, pipeline, runID string) context.Context {
	return context.WithValue(context.WithValue(ctx, pipelineKey, pipeline), runKey, runID)
}

// ContextWithStep records the executing step.
func ContextWithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, stepKey, step)
}

func RunIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(runKey).(string)
	return v
}

func StepFromContext(ctx context.Context) string {
	v, _ := ctx.Value(stepKey).(string)
	return v
}
