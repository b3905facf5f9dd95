package database

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	apperrors "github.com/kbukum/batchpredict/errors"
)

// failureClass groups driver messages that call for the same AppError.
type failureClass int

const (
	classOther failureClass = iota
	// classUnavailable failures may pass on retry: lost connections and lock contention.
	classUnavailable
	// classMissing is a statement addressing a table or column that does not exist.
	classMissing
)

var messageClasses = []struct {
	fragment string
	class    failureClass
}{
	{"connection refused", classUnavailable},
	{"connection reset", classUnavailable},
	{"broken pipe", classUnavailable},
	{"i/o timeout", classUnavailable},
	{"bad connection", classUnavailable},
	{"database is closed", classUnavailable},
	{"database is locked", classUnavailable},
	{"database table is locked", classUnavailable},
	{"deadlock", classUnavailable},
	{"too many connections", classUnavailable},
	{"no such table", classMissing},
	{"no such column", classMissing},
}

func classify(err error) failureClass {
	msg := strings.ToLower(err.Error())
	for _, m := range messageClasses {
		if strings.Contains(msg, m.fragment) {
			return m.class
		}
	}
	return classOther
}

// IsRetryableError reports whether err is a lost connection or lock
// contention that may clear on retry.
func IsRetryableError(err error) bool {
	return err != nil && classify(err) == classUnavailable
}

// FromDatabase maps a GORM or driver error to an AppError about resource,
// the table or record the statement addressed.
func FromDatabase(err error, resource string) *apperrors.AppError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.NotFound(resource, "").WithCause(err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperrors.AlreadyExists(resource).WithCause(err)
	}
	switch classify(err) {
	case classUnavailable:
		return apperrors.ServiceUnavailable("database").WithCause(err).WithDetail("resource", resource)
	case classMissing:
		return apperrors.NotFound(resource, "").WithCause(err)
	default:
		return apperrors.ExternalServiceError("database", err).WithDetail("resource", resource)
	}
}
