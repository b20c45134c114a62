// SPDX-License-Identifier: MPL-2.0

package typesys

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// KindInt is a whole number. Raw values such as "3" and "3.0" are accepted.
	KindInt Kind = "int"
	// KindFloat is a number whose canonical form carries a fractional part.
	KindFloat Kind = "float"
	// KindString accepts any raw value unchanged.
	KindString Kind = "string"
	// KindUUID is a lowercase RFC 4122 UUID (versions 1-5).
	KindUUID Kind = "uuid"
	// KindList is any JSON value that is not an object.
	KindList Kind = "list"
	// KindObject is a JSON object.
	KindObject Kind = "object"
	// KindBoolean is exactly "true" or "false".
	KindBoolean Kind = "boolean"
	// KindPath is a filesystem-like path. See PathMode.
	KindPath Kind = "path"

	// kindMapAlias is accepted by ParseKind as a synonym for KindObject.
	kindMapAlias = "map"
)

// ErrInvalidKind is the sentinel error wrapped by InvalidKindError.
var ErrInvalidKind = errors.New("invalid type kind")

type (
	// Kind names one of the value types a manifest may declare for
	// arguments, environment variables and action outputs.
	Kind string

	// InvalidKindError is returned when a Kind is not one of the known kinds.
	InvalidKindError struct {
		Value Kind
	}
)

// Error implements the error interface.
func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("invalid type %q (valid: %s)", e.Value, strings.Join(kindNames(), ", "))
}

// Unwrap returns ErrInvalidKind for errors.Is() compatibility.
func (e *InvalidKindError) Unwrap() error { return ErrInvalidKind }

// String returns the string representation of the Kind.
func (k Kind) String() string { return string(k) }

// Validate returns an error if the Kind is not one of the known kinds.
func (k Kind) Validate() error {
	if _, ok := defaultEntries[k]; ok {
		return nil
	}
	return &InvalidKindError{Value: k}
}

// ParseKind converts a manifest type name into a Kind. The legacy name
// "map" is accepted as an alias of "object".
func ParseKind(name string) (Kind, error) {
	if name == kindMapAlias {
		return KindObject, nil
	}
	k := Kind(name)
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Kinds returns every known kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindInt, KindFloat, KindString, KindUUID, KindList, KindObject, KindBoolean, KindPath}
}

func kindNames() []string {
	kinds := Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}
