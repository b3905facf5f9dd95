package errors

import stderrors "errors"

// AsAppError returns the first AppError in the chain of err.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// chain yields every AppError reachable from err through AppError causes.
func chain(err error, yield func(*AppError) bool) {
	for err != nil {
		appErr, ok := AsAppError(err)
		if !ok || !yield(appErr) {
			return
		}
		err = appErr.Cause
	}
}

// HasCode reports whether any AppError in the chain carries code.
func HasCode(err error, code ErrorCode) bool {
	found := false
	chain(err, func(e *AppError) bool {
		found = e.Code == code
		return !found
	})
	return found
}

// StepOf returns the step named by the first StepFailed in the chain, or "".
func StepOf(err error) string {
	step := ""
	chain(err, func(e *AppError) bool {
		if e.Code != ErrCodeStepFailed {
			return true
		}
		step, _ = e.Details["step"].(string)
		return step == ""
	})
	return step
}
