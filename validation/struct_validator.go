package validation

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/kbukum/plugkit/errors"
)

// semverPattern matches strict semantic versions (MAJOR.MINOR.PATCH with
// optional pre-release and build metadata).
var semverPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
	`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?` +
	`(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

var (
	sharedOnce sync.Once
	shared     *validator.Validate
)

// sharedValidator builds the process-wide validator on first use. Failing
// fields are reported under their document names: the json tag when one
// exists (manifests use camelCase keys), snake_case of the Go name
// otherwise (the policy file convention).
func sharedValidator() *validator.Validate {
	sharedOnce.Do(func() {
		shared = validator.New(validator.WithRequiredStructEnabled())

		shared.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return toSnakeCase(fld.Name)
			}
			return name
		})

		// Plugin manifests declare versions with `validate:"semver"`.
		_ = shared.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})
	})
	return shared
}

// Validate checks a struct against its `validate` tags. It returns nil or a
// validation error naming every failing field, with the individual
// failures attached under the "fields" detail.
func Validate(s any) error {
	err := sharedValidator().Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Validation("validation failed")
	}

	fields := make([]FieldError, 0, len(fieldErrs))
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		f := FieldError{Field: fe.Field(), Message: messageFor(fe)}
		fields = append(fields, f)
		parts = append(parts, f.Field+": "+f.Message)
	}

	appErr := errors.Validation(strings.Join(parts, "; "))
	appErr.Details = map[string]any{"fields": fields}
	return appErr
}

// messageFor renders one tag failure. Counted limits read differently for
// strings and collections.
func messageFor(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "semver":
		return "must be a semantic version"
	case "gte":
		return "must be at least " + e.Param()
	case "min":
		if e.Kind() == reflect.String {
			return "must be at least " + e.Param() + " characters"
		}
		return "must have at least " + e.Param() + " entries"
	case "max":
		if e.Kind() == reflect.String {
			return "must be at most " + e.Param() + " characters"
		}
		return "must have at most " + e.Param() + " entries"
	case "oneof":
		return "must be one of: " + e.Param()
	}
	return "is invalid"
}

// toSnakeCase converts a Go field name to snake_case.
func toSnakeCase(s string) string {
	var out strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				out.WriteRune('_')
			}
			out.WriteRune(r + 32)
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}
