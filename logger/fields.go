package logger

import "time"

// Field keys shared by every package.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"
	FieldPipeline  = "pipeline"
	FieldRunID     = "run_id"
	FieldStep      = "step"
	FieldOperation = "operation"
	FieldStatus    = "status"
	FieldError     = "error"
	FieldDuration  = "duration_ms"
	FieldTable     = "table"
	FieldURI       = "uri"
)

// Fields pairs up alternating keys and values. Non-string keys and a
// trailing key without a value are dropped.
//
//	log.Info("table written", logger.Fields(logger.FieldTable, name, "rows", n))
func Fields(kvs ...any) map[string]any {
	m := make(map[string]any, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		if k, ok := kvs[i].(string); ok {
			m[k] = kvs[i+1]
		}
	}
	return m
}

// ErrorFields describes a failed operation.
func ErrorFields(op string, err error) map[string]any {
	return Fields(FieldOperation, op, FieldError, err.Error())
}

// StepFields describes a finished step. The error field is set only on failure.
func StepFields(step string, d time.Duration, err error) map[string]any {
	m := Fields(FieldStep, step, FieldDuration, d.Milliseconds())
	if err != nil {
		m[FieldError] = err.Error()
	}
	return m
}
