// SPDX-License-Identifier: MPL-2.0

package invoke

import (
	"errors"
	"fmt"
	"strings"

	"github.com/invowk/msrun/internal/typesys"
)

var (
	// ErrExecutionFailure is the sentinel error wrapped by ExecutionFailureError.
	ErrExecutionFailure = errors.New("action execution failed")

	// ErrOutputType is the sentinel error wrapped by OutputTypeError.
	ErrOutputType = errors.New("action output does not match its declared type")

	// ErrEventNotFound is the sentinel error wrapped by EventNotFoundError.
	ErrEventNotFound = errors.New("event not found")
)

type (
	// ExecutionFailureError is returned when the command exits non-zero or
	// cannot be run in the container at all.
	ExecutionFailureError struct {
		Action   string
		ExitCode int
		Stderr   string
		// Cause is set when the runtime itself failed.
		Cause error
	}

	// OutputTypeError is returned when the captured output does not
	// validate against the action's output type.
	OutputTypeError struct {
		Action string
		Type   typesys.Kind
		Raw    string
	}

	// EventNotFoundError is returned when an action does not declare the
	// requested event.
	EventNotFoundError struct {
		Action    string
		Event     string
		Available []string
	}
)

// Error implements the error interface.
func (e *ExecutionFailureError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "action %q failed", e.Action)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	} else {
		fmt.Fprintf(&b, " with exit code %d", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		b.WriteString(": ")
		b.WriteString(s)
	}
	return b.String()
}

// Unwrap returns both the sentinel and the runtime cause.
func (e *ExecutionFailureError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrExecutionFailure}
	}
	return []error{ErrExecutionFailure, e.Cause}
}

// Error implements the error interface.
func (e *OutputTypeError) Error() string {
	return fmt.Sprintf("action %q output must be of type %s, got %q", e.Action, e.Type, e.Raw)
}

// Unwrap returns ErrOutputType for errors.Is() compatibility.
func (e *OutputTypeError) Unwrap() error { return ErrOutputType }

// Error implements the error interface.
func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("action %q does not declare event %q", e.Action, e.Event)
}

// Unwrap returns ErrEventNotFound for errors.Is() compatibility.
func (e *EventNotFoundError) Unwrap() error { return ErrEventNotFound }
