package errors

// ErrorCode is the machine-readable kind of an AppError.
type ErrorCode string

const (
	// Collaborator availability. Retryable.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeExternalService    ErrorCode = "EXTERNAL_SERVICE_ERROR"

	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField  ErrorCode = "MISSING_FIELD"
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"

	// Raised while building a graph: duplicate, dangling, foreign or cyclic
	// wiring, and query templates that do not render.
	ErrCodeInvalidGraph ErrorCode = "INVALID_GRAPH"
	ErrCodeTemplate     ErrorCode = "TEMPLATE_ERROR"

	// Raised by a run. Details["step"] names the failing step.
	ErrCodeStepFailed        ErrorCode = "STEP_FAILED"
	ErrCodeAnomaliesDetected ErrorCode = "ANOMALIES_DETECTED"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// IsRetryableCode reports whether errors with code may succeed when retried.
func IsRetryableCode(code ErrorCode) bool {
	switch code {
	case ErrCodeServiceUnavailable, ErrCodeTimeout, ErrCodeExternalService:
		return true
	}
	return false
}
