package validation

import (
	stderrors "errors"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kbukum/batchpredict/errors"
)

// shared is the tag validator. Field names in messages are the mapstructure
// key, else the json key, else the snake_cased Go name.
var shared = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"mapstructure", "json"} {
			if name, _, _ := strings.Cut(f.Tag.Get(tag), ","); name != "" && name != "-" {
				return name
			}
		}
		return snake(f.Name)
	})
	_ = v.RegisterValidation("storageuri", func(fl validator.FieldLevel) bool {
		return IsStorageURI(fl.Field().String())
	})
	return v
})

// RegisterValidation adds a string check under tag.
func RegisterValidation(tag string, fn func(value string) bool) error {
	return shared().RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return fn(fl.Field().String())
	})
}

// Validate checks s against its `validate` tags, for example
// `validate:"required,min=1,gtefield=MinReplicas"`.
func Validate(s any) error {
	err := shared().Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.Validation("validation failed").WithCause(err)
	}
	failed := make([]FieldError, len(fieldErrs))
	for i, fe := range fieldErrs {
		failed[i] = FieldError{Field: fe.Field(), Message: describe(fe)}
	}
	return report(failed)
}

func describe(fe validator.FieldError) string {
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param() + unit
	case "max":
		return "must be at most " + fe.Param() + unit
	case "gtefield":
		return "must be greater than or equal to " + snake(fe.Param())
	case "oneof":
		return "must be one of: " + fe.Param()
	case "storageuri":
		return "must be a storage URI (scheme://bucket/path)"
	}
	return "is invalid (" + fe.Tag() + ")"
}

// snake turns MinReplicas into min_replicas.
func snake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
