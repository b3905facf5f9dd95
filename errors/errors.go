package errors

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// AppError carries a code, a message for people, and details for machines.
type AppError struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the wrapped error.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets one detail.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// WithDetails merges details into the error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	maps.Copy(e.Details, details)
	return e
}

// New returns an error with code, retryable when the code is.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Retryable: IsRetryableCode(code)}
}

// newf is New with a formatted message and alternating detail keys and values.
func newf(code ErrorCode, kv []any, format string, args ...any) *AppError {
	e := New(code, fmt.Sprintf(format, args...))
	for i := 0; i+1 < len(kv); i += 2 {
		e.WithDetail(kv[i].(string), kv[i+1])
	}
	return e
}

func ServiceUnavailable(service string) *AppError {
	return newf(ErrCodeServiceUnavailable, []any{"service", service}, "The %s is temporarily unavailable.", service)
}

// Timeout reports an operation that ran out of time or was canceled.
func Timeout(operation string) *AppError {
	return newf(ErrCodeTimeout, []any{"operation", operation}, "The %s operation did not complete in time.", operation)
}

// NotFound reports a missing resource. An empty id is left out of the details.
func NotFound(resource, id string) *AppError {
	e := newf(ErrCodeNotFound, []any{"resource", resource}, "The requested %s was not found.", resource)
	if id != "" {
		e.Details["id"] = id
	}
	return e
}

func AlreadyExists(resource string) *AppError {
	return newf(ErrCodeAlreadyExists, []any{"resource", resource}, "A %s with these details already exists.", resource)
}

func InvalidInput(field, reason string) *AppError {
	e := newf(ErrCodeInvalidInput, nil, "Invalid input: %s", reason)
	if field != "" {
		e.WithDetail("field", field)
	}
	return e
}

// Validation is an INVALID_INPUT error with a preformatted message.
func Validation(message string) *AppError {
	return New(ErrCodeInvalidInput, message)
}

func MissingField(field string) *AppError {
	return newf(ErrCodeMissingField, []any{"field", field}, "Missing required field: %s", field)
}

func InvalidFormat(field, expected string) *AppError {
	return newf(ErrCodeInvalidFormat, []any{"field", field, "expected_format", expected},
		"Invalid format for %s. Expected: %s", field, expected)
}

// Internal wraps an unexpected error. It is never retried.
func Internal(cause error) *AppError {
	return New(ErrCodeInternal, "An unexpected error occurred.").WithCause(cause)
}

// ExternalServiceError wraps a failure of the warehouse, object storage or
// another backend.
func ExternalServiceError(service string, cause error) *AppError {
	return newf(ErrCodeExternalService, []any{"service", service}, "The %s service encountered an error.", service).WithCause(cause)
}

// InvalidGraph reports wiring that cannot form a pipeline.
func InvalidGraph(reason string) *AppError {
	return New(ErrCodeInvalidGraph, reason)
}

// TemplateError reports a query template that did not render.
func TemplateError(name string, cause error) *AppError {
	return newf(ErrCodeTemplate, []any{"template", name}, "Query template %q could not be rendered.", name).WithCause(cause)
}

// StepFailed attributes cause to step. The code of an AppError cause is
// kept in Details["cause_code"].
func StepFailed(step string, cause error) *AppError {
	e := newf(ErrCodeStepFailed, []any{"step", step}, "Step %q failed.", step).WithCause(cause)
	if appErr, ok := AsAppError(cause); ok {
		e.Details["cause_code"] = string(appErr.Code)
	}
	return e
}

// AnomaliesDetected is raised by the anomaly gate. Features are listed sorted.
func AnomaliesDetected(features []string) *AppError {
	sorted := slices.Sorted(slices.Values(features))
	return newf(ErrCodeAnomaliesDetected, []any{"features", sorted},
		"%d anomalies detected: %s", len(sorted), strings.Join(sorted, ", "))
}
