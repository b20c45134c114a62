// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"errors"
	"fmt"
)

const (
	// StateUncreated is the initial state: no container exists yet.
	StateUncreated State = iota
	// StateCreated means the container exists but has not been started.
	StateCreated
	// StateRunning means the container was started and has not been seen to stop.
	StateRunning
	// StateStopped is terminal: the container was killed or died.
	StateStopped
)

var (
	// ErrInvalidState is returned when a State value is not one of the defined states.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidTransition is the sentinel error wrapped by TransitionError.
	ErrInvalidTransition = errors.New("invalid container state transition")

	// ErrNotRunning is returned when an operation needs a running container.
	ErrNotRunning = errors.New("container is not running")
)

type (
	// State is the lifecycle state of a managed container.
	State int32

	// InvalidStateError is returned when a State value is not recognized.
	InvalidStateError struct {
		Value State
	}

	// TransitionError is returned when an operation is not allowed in the
	// current state.
	TransitionError struct {
		Op   string
		From State
	}

	// NotRunningError is returned by Exec outside of StateRunning.
	NotRunningError struct {
		State State
	}
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateUncreated:
		return "uncreated"
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Validate returns nil if the State is one of the defined states.
func (s State) Validate() error {
	switch s {
	case StateUncreated, StateCreated, StateRunning, StateStopped:
		return nil
	default:
		return &InvalidStateError{Value: s}
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateStopped
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state %d (valid: 0=uncreated, 1=created, 2=running, 3=stopped)", e.Value)
}

// Unwrap returns ErrInvalidState for errors.Is() compatibility.
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s container in state %s", e.Op, e.From)
}

// Unwrap returns ErrInvalidTransition for errors.Is() compatibility.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Error implements the error interface.
func (e *NotRunningError) Error() string {
	return fmt.Sprintf("container is not running (state %s)", e.State)
}

// Unwrap returns ErrNotRunning for errors.Is() compatibility.
func (e *NotRunningError) Unwrap() error { return ErrNotRunning }
