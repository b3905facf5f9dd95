package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/kbukum/batchpredict/errors"
)

var storageURIPattern = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://[^/\s]+(/.*)?$`)

// IsStorageURI reports whether s looks like scheme://bucket[/path].
func IsStorageURI(s string) bool {
	return storageURIPattern.MatchString(s)
}

// FieldError is one failed check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// report joins failed checks into one INVALID_INPUT error listing every field.
func report(failed []FieldError) *errors.AppError {
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, len(failed))
	for i, f := range failed {
		parts[i] = f.Field + ": " + f.Message
	}
	return errors.Validation(strings.Join(parts, "; ")).WithDetail("fields", failed)
}

// Validator chains checks and collects every failure.
//
//	err := validation.New().Required("dsn", c.DSN).Min("max_open_conns", c.MaxOpenConns, 1).Err()
type Validator struct {
	failed []FieldError
}

func New() *Validator { return &Validator{} }

// Custom records message for field unless ok holds. The other checks are
// built on it.
func (v *Validator) Custom(ok bool, field, message string) *Validator {
	if !ok {
		v.AddError(field, message)
	}
	return v
}

func (v *Validator) AddError(field, message string) {
	v.failed = append(v.failed, FieldError{Field: field, Message: message})
}

func (v *Validator) HasErrors() bool { return len(v.failed) > 0 }

func (v *Validator) Errors() []FieldError { return v.failed }

// Validate returns the collected failures as an AppError, nil when none.
func (v *Validator) Validate() *errors.AppError { return report(v.failed) }

// Err is Validate as an error interface, so a clean Validator yields a nil error.
func (v *Validator) Err() error {
	if e := v.Validate(); e != nil {
		return e
	}
	return nil
}

// Required rejects blank strings.
func (v *Validator) Required(field, value string) *Validator {
	return v.Custom(strings.TrimSpace(value) != "", field, "is required")
}

// StorageURI requires a scheme://bucket[/path] value.
func (v *Validator) StorageURI(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		return v.Required(field, value)
	}
	return v.Custom(IsStorageURI(value), field, "must be a storage URI (scheme://bucket/path)")
}

func (v *Validator) Range(field string, value, lo, hi int) *Validator {
	return v.Custom(value >= lo && value <= hi, field, fmt.Sprintf("must be between %d and %d", lo, hi))
}

func (v *Validator) Min(field string, value, lo int) *Validator {
	return v.Custom(value >= lo, field, fmt.Sprintf("must be at least %d", lo))
}

func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	return v.Custom(slices.Contains(allowed, value), field, "must be one of: "+strings.Join(allowed, ", "))
}

// Required checks a single field.
func Required(field, value string) error {
	return New().Required(field, value).Err()
}
