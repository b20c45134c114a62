// SPDX-License-Identifier: MPL-2.0

package typesys

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// PathStrict accepts a path only when it does not parse as JSON, so
	// "123", "true" and "null" are rejected. This is the default and keeps
	// existing manifests behaving exactly as before.
	PathStrict PathMode = "strict"
	// PathLenient accepts any non-empty value without NUL bytes.
	PathLenient PathMode = "lenient"
)

// ErrInvalidPathMode is the sentinel error wrapped by InvalidPathModeError.
var ErrInvalidPathMode = errors.New("invalid path mode")

type (
	// PathMode selects the validation rule of the path kind.
	PathMode string

	// InvalidPathModeError is returned when a PathMode is not recognized.
	InvalidPathModeError struct {
		Value PathMode
	}
)

// Error implements the error interface.
func (e *InvalidPathModeError) Error() string {
	return fmt.Sprintf("invalid path mode %q (valid: strict, lenient)", e.Value)
}

// Unwrap returns ErrInvalidPathMode for errors.Is() compatibility.
func (e *InvalidPathModeError) Unwrap() error { return ErrInvalidPathMode }

// String returns the string representation of the PathMode.
func (m PathMode) String() string { return string(m) }

// Validate returns an error if the PathMode is not strict or lenient.
// The zero value is treated as strict.
func (m PathMode) Validate() error {
	switch m {
	case PathStrict, PathLenient, "":
		return nil
	default:
		return &InvalidPathModeError{Value: m}
	}
}

func validPathStrict(raw string) bool {
	return !json.Valid([]byte(raw))
}

func validPathLenient(raw string) bool {
	return raw != "" && !strings.ContainsRune(raw, 0)
}
