// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/invowk/msrun/internal/typesys"
)

const (
	// ScopeArguments reconciles an action's arguments.
	ScopeArguments Scope = "arguments"
	// ScopeEnvironment reconciles the manifest environment.
	ScopeEnvironment Scope = "environment variables"
)

var (
	// ErrMissing is the sentinel error wrapped by MissingError.
	ErrMissing = errors.New("missing required values")
	// ErrTypeMismatch is the sentinel error wrapped by TypeMismatchError.
	ErrTypeMismatch = errors.New("type mismatch")
)

type (
	// Scope names what is being reconciled. It is used in error messages.
	Scope string

	// MissingError lists required names that were neither supplied nor
	// defaulted, in declaration order.
	MissingError struct {
		Scope Scope
		Names []string
	}

	// TypeMismatchError is returned for the first supplied value that does
	// not validate against its declared type.
	TypeMismatchError struct {
		Scope Scope
		Name  string
		Type  typesys.Kind
		Value string
	}

	// Reconciler merges supplied raw values with a schema.
	Reconciler struct {
		types *typesys.System
	}
)

// Error implements the error interface.
func (e *MissingError) Error() string {
	quoted := make([]string, len(e.Names))
	for i, n := range e.Names {
		quoted[i] = "`" + n + "`"
	}
	return fmt.Sprintf("Need to supply required %s: %s", e.Scope, strings.Join(quoted, ", "))
}

// Unwrap returns ErrMissing for errors.Is() compatibility.
func (e *MissingError) Unwrap() error { return ErrMissing }

// Error implements the error interface.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s `%s` must be of type %s, got %q", singular(e.Scope), e.Name, e.Type, e.Value)
}

// Unwrap returns ErrTypeMismatch for errors.Is() compatibility.
func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

func singular(s Scope) string {
	switch s {
	case ScopeArguments:
		return "argument"
	case ScopeEnvironment:
		return "environment variable"
	default:
		return string(s)
	}
}

// NewReconciler returns a Reconciler that validates with types. A nil
// System selects typesys.Default().
func NewReconciler(types *typesys.System) *Reconciler {
	if types == nil {
		types = typesys.Default()
	}
	return &Reconciler{types: types}
}

// Reconcile merges supplied into schema. For each declared name in order:
// a supplied value must validate and is cast; an absent value falls back to
// its default; an absent required value is collected as missing. Supplied
// names the schema does not declare are dropped. The returned map is new.
func (r *Reconciler) Reconcile(scope Scope, schema Schema, supplied map[string]string) (map[string]any, error) {
	merged := make(map[string]any, len(schema))
	var missing []string

	for _, f := range schema {
		raw, ok := supplied[f.Name]
		switch {
		case ok:
			if !r.types.Validate(f.Spec.Type, raw) {
				return nil, &TypeMismatchError{Scope: scope, Name: f.Name, Type: f.Spec.Type, Value: raw}
			}
			v, err := r.types.Cast(f.Spec.Type, raw)
			if err != nil {
				return nil, &TypeMismatchError{Scope: scope, Name: f.Name, Type: f.Spec.Type, Value: raw}
			}
			merged[f.Name] = v
		case f.Spec.HasDefault():
			merged[f.Name] = f.Spec.Default
		case f.Spec.Required:
			missing = append(missing, f.Name)
		}
	}

	if len(missing) > 0 {
		return nil, &MissingError{Scope: scope, Names: missing}
	}
	return merged, nil
}

// Reconcile merges supplied into schema using the default type system.
func Reconcile(scope Scope, schema Schema, supplied map[string]string) (map[string]any, error) {
	return NewReconciler(nil).Reconcile(scope, schema, supplied)
}

// ReconcileArguments reconciles supplied arguments of the named action.
func (m *Manifest) ReconcileArguments(action string, supplied map[string]string) (map[string]any, error) {
	a, err := m.Action(action)
	if err != nil {
		return nil, err
	}
	return Reconcile(ScopeArguments, a.Arguments, supplied)
}

// ReconcileEnvironment reconciles supplied environment variables after
// matching their names to the declared ones case-insensitively.
func (m *Manifest) ReconcileEnvironment(supplied map[string]string) (map[string]any, error) {
	return Reconcile(ScopeEnvironment, m.Environment, MatchEnvironmentCase(m.Environment, supplied))
}

// EnvironmentList renders reconciled environment values as NAME=value
// pairs in declaration order.
func EnvironmentList(schema Schema, merged map[string]any) []string {
	env := make([]string, 0, len(merged))
	for _, f := range schema {
		if v, ok := merged[f.Name]; ok {
			env = append(env, f.Name+"="+typesys.Serialize(v))
		}
	}
	return env
}
