// Package validation provides input validation for manifests and policies.
//
// It supports both struct tag validation (using the validator library) and
// programmatic validation with error collection. Struct tag validation is
// the path plugin manifests take; a custom "semver" tag covers their
// version fields.
//
// # Struct Tag Validation
//
//	type Descriptor struct {
//	    ID      string `json:"id" validate:"required"`
//	    Version string `json:"version" validate:"required,semver"`
//	}
//	err := validation.Validate(d)
//
// # Programmatic Validation
//
//	v := validation.New()
//	v.Required("id", id).Min("quiesce_seconds", secs, 0)
//	err := v.Validate()
package validation
