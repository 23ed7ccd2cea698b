package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kbukum/plugkit/errors"
)

// Validator accumulates field checks and reports every failure at once,
// so one pass over a manifest or policy surfaces all of its problems.
//
// Checks chain:
//
//	err := validation.New().
//		Required("id", id).
//		Semver("version", version).
//		Validate()
type Validator struct {
	failures []FieldError
}

// FieldError is one failed check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New returns an empty Validator.
func New() *Validator { return &Validator{} }

// AddError records a failure against a field.
func (v *Validator) AddError(field, message string) {
	v.failures = append(v.failures, FieldError{Field: field, Message: message})
}

// HasErrors reports whether any check failed.
func (v *Validator) HasErrors() bool { return len(v.failures) > 0 }

// Errors returns the recorded failures in check order.
func (v *Validator) Errors() []FieldError { return v.failures }

// Validate folds the recorded failures into one argument error, or nil
// when every check passed. The per-field breakdown rides in the error
// details under "fields".
func (v *Validator) Validate() *errors.AppError {
	if len(v.failures) == 0 {
		return nil
	}
	parts := make([]string, len(v.failures))
	for i, f := range v.failures {
		parts[i] = f.Field + ": " + f.Message
	}
	appErr := errors.Validation(strings.Join(parts, "; "))
	appErr.Details = map[string]any{"fields": v.failures}
	return appErr
}

// Required fails when value is empty or only whitespace.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
	return v
}

// Semver fails unless value is a strict semantic version.
func (v *Validator) Semver(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
		return v
	}
	if !semverPattern.MatchString(value) {
		v.AddError(field, "must be a semantic version")
	}
	return v
}

// OptionalSemver is Semver for fields where empty means unset.
func (v *Validator) OptionalSemver(field, value string) *Validator {
	if value == "" {
		return v
	}
	if !semverPattern.MatchString(value) {
		v.AddError(field, "must be a semantic version")
	}
	return v
}

// MinLength fails when value is shorter than minLen bytes.
func (v *Validator) MinLength(field, value string, minLen int) *Validator {
	if len(value) < minLen {
		v.AddError(field, fmt.Sprintf("must be at least %d characters", minLen))
	}
	return v
}

// MaxLength fails when value is longer than maxLen bytes.
func (v *Validator) MaxLength(field, value string, maxLen int) *Validator {
	if len(value) > maxLen {
		v.AddError(field, fmt.Sprintf("must be %d characters or less", maxLen))
	}
	return v
}

// Min fails when value is below minVal.
func (v *Validator) Min(field string, value, minVal int) *Validator {
	if value < minVal {
		v.AddError(field, fmt.Sprintf("must be at least %d", minVal))
	}
	return v
}

// Max fails when value is above maxVal.
func (v *Validator) Max(field string, value, maxVal int) *Validator {
	if value > maxVal {
		v.AddError(field, fmt.Sprintf("must be %d or less", maxVal))
	}
	return v
}

// Range fails when value falls outside [minVal, maxVal].
func (v *Validator) Range(field string, value, minVal, maxVal int) *Validator {
	if value < minVal || value > maxVal {
		v.AddError(field, fmt.Sprintf("must be between %d and %d", minVal, maxVal))
	}
	return v
}

// OneOf fails when a non-empty value is not in the allowed set.
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	if value == "" {
		return v
	}
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.AddError(field, "must be one of: "+strings.Join(allowed, ", "))
	return v
}

// Pattern fails when a non-empty value does not match the regular
// expression. An unparsable pattern counts as a failed match.
func (v *Validator) Pattern(field, value, pattern string) *Validator {
	if value == "" {
		return v
	}
	matched, err := regexp.MatchString(pattern, value)
	if err != nil || !matched {
		v.AddError(field, "does not match required format")
	}
	return v
}

// Custom records a failure when the condition does not hold.
func (v *Validator) Custom(condition bool, field, message string) *Validator {
	if !condition {
		v.AddError(field, message)
	}
	return v
}

// Required checks a single field and returns the failure, if any, as an
// error.
func Required(field, value string) error {
	if appErr := New().Required(field, value).Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// Semver checks a single version field and returns the failure, if any,
// as an error.
func Semver(field, value string) error {
	if appErr := New().Semver(field, value).Validate(); appErr != nil {
		return appErr
	}
	return nil
}
