package http

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/attendance-engine/internal/application"
)

// requestValidator checks request DTOs before they reach the services. Field
// paths use the json names so the errors map matches what the services report.
var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest returns nil or an *application.ValidationError keyed by json path.
func validateRequest(req any) error {
	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	vErr := &application.ValidationError{FieldErrors: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		path := fieldPath(fe.Namespace())
		if _, exists := vErr.FieldErrors[path]; exists {
			continue
		}
		vErr.FieldErrors[path] = describeFieldError(fe)
	}
	return vErr
}

// fieldPath drops the leading struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		switch {
		case field == "lecture_number":
			return "lecture number must be positive"
		case field == "marks":
			return "at least one mark is required"
		case field == "status":
			return "status must be PRESENT or ABSENT"
		default:
			return strings.ReplaceAll(field, "_", " ") + " is required"
		}
	case "min":
		if field == "marks" {
			return "at least one mark is required"
		}
		return "lecture number must be positive"
	case "datetime":
		return "lecture date must be YYYY-MM-DD"
	case "max":
		return strings.ReplaceAll(field, "_", " ") + " is too long"
	default:
		return strings.ReplaceAll(field, "_", " ") + " is invalid"
	}
}
