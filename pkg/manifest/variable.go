// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"

	"github.com/invowk/msrun/internal/typesys"
)

// ErrInvalidVariableSpec is the sentinel error wrapped by InvalidVariableSpecError.
var ErrInvalidVariableSpec = errors.New("invalid variable spec")

type (
	// VariableSpec declares one argument or environment variable.
	VariableSpec struct {
		Type     typesys.Kind
		Required bool
		// Default is the typed fallback value, or nil when there is none.
		Default any
		Help    string
	}

	// Field is a named VariableSpec.
	Field struct {
		Name string
		Spec VariableSpec
	}

	// Schema is an ordered set of fields. Names are unique.
	Schema []Field

	// InvalidVariableSpecError is returned when a VariableSpec breaks one
	// of its invariants.
	InvalidVariableSpecError struct {
		Name   string
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidVariableSpecError) Error() string {
	return fmt.Sprintf("variable %q: %s", e.Name, e.Reason)
}

// Unwrap returns ErrInvalidVariableSpec for errors.Is() compatibility.
func (e *InvalidVariableSpecError) Unwrap() error { return ErrInvalidVariableSpec }

// HasDefault reports whether the spec carries a default value.
func (v VariableSpec) HasDefault() bool { return v.Default != nil }

// Validate checks that the type is known, that required and default are
// not both set, and that the default is a valid value of the type.
func (v VariableSpec) Validate(name string) error {
	if err := v.Type.Validate(); err != nil {
		return &InvalidVariableSpecError{Name: name, Reason: err.Error()}
	}
	if v.Required && v.HasDefault() {
		return &InvalidVariableSpecError{Name: name, Reason: "cannot be required and have a default"}
	}
	if v.HasDefault() && !defaultFits(v.Type, v.Default) {
		return &InvalidVariableSpecError{
			Name:   name,
			Reason: fmt.Sprintf("default %s is not a valid %s", typesys.Serialize(v.Default), v.Type),
		}
	}
	return nil
}

// Lookup returns the spec of the named field.
func (s Schema) Lookup(name string) (VariableSpec, bool) {
	for _, f := range s {
		if f.Name == name {
			return f.Spec, true
		}
	}
	return VariableSpec{}, false
}

// Names returns the field names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Required returns the names of required fields in declaration order.
func (s Schema) Required() []string {
	var names []string
	for _, f := range s {
		if f.Spec.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// Validate validates every field of the schema.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s))
	var errs []error
	for _, f := range s {
		if seen[f.Name] {
			errs = append(errs, &InvalidVariableSpecError{Name: f.Name, Reason: "declared more than once"})
			continue
		}
		seen[f.Name] = true
		if err := f.Spec.Validate(f.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// defaultFits reports whether a decoded default belongs to kind. Floats
// accept any number since YAML drops the fraction of values like 2.0.
func defaultFits(kind typesys.Kind, v any) bool {
	if kind == typesys.KindFloat {
		_, ok := toFloat(v)
		return ok
	}
	switch kind {
	case typesys.KindString:
		switch v.(type) {
		case []any, map[string]any:
			return false
		}
		return true
	case typesys.KindPath, typesys.KindUUID:
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return typesys.Validate(kind, typesys.Serialize(v))
}

// normalizeDefault converts a decoded default into the Go type Cast
// would produce for its kind.
func normalizeDefault(kind typesys.Kind, v any) any {
	if v == nil {
		return nil
	}
	if kind == typesys.KindFloat {
		if f, ok := toFloat(v); ok {
			return f
		}
		return v
	}
	if cast, err := typesys.Cast(kind, typesys.Serialize(v)); err == nil {
		return cast
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
