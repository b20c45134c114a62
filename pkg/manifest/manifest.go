// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"slices"

	"github.com/invowk/msrun/internal/typesys"
)

// IdleCommand keeps an instance alive when the manifest declares no
// startup command, so actions can be exec'd into it one at a time.
var IdleCommand = Command{"tail", "-f", "/dev/null"}

// ErrActionNotFound is returned when an action name is not declared.
var ErrActionNotFound = errors.New("action not found")

type (
	// Manifest is the parsed, validated description of one microservice.
	// It is not modified after Parse returns.
	Manifest struct {
		// OMG is the manifest format version.
		OMG int
		// Info is the optional descriptive header.
		Info Info
		// Actions maps action names to their definitions.
		Actions map[string]*Action
		// ActionOrder lists action names in declaration order.
		ActionOrder []string
		// Environment is the top-level environment schema.
		Environment Schema
		// Lifecycle holds the startup command, if any.
		Lifecycle *Lifecycle
		// Expose lists the HTTP ports the service publishes.
		Expose []Expose
		// FilePath is where the manifest was read from, if anywhere.
		FilePath string
	}

	// Info describes the service.
	Info struct {
		Title       string
		Version     string
		Description string
	}

	// Action is one invokable operation of the service.
	Action struct {
		Name      string
		Help      string
		Format    Format
		Arguments Schema
		// Output is nil when the action returns raw text.
		Output *Output
		// Events are the subscribable streams of this action.
		Events map[string]*Event
		// EventOrder lists event names in declaration order.
		EventOrder []string
	}

	// Event is a long-running subscription endpoint of an action.
	Event struct {
		Name      string
		Help      string
		Format    Format
		Arguments Schema
		Output    *Output
	}

	// Format tells the runner how to reach an action.
	Format struct {
		Command Command
	}

	// Command is an argv. A manifest may write it as a single string,
	// which is split into fields like a shell would.
	Command []string

	// Output declares the type of an action's result.
	Output struct {
		Type typesys.Kind
	}

	// Lifecycle describes how the service process is started.
	Lifecycle struct {
		Startup Command
	}

	// Expose is a named HTTP port published by the service.
	Expose struct {
		Name string
		Help string
		Port uint16
	}

	// ActionNotFoundError is returned when an action is not declared.
	ActionNotFoundError struct {
		Name      string
		Available []string
	}
)

// Error implements the error interface.
func (e *ActionNotFoundError) Error() string {
	return fmt.Sprintf("action %q is not declared in the manifest", e.Name)
}

// Unwrap returns ErrActionNotFound for errors.Is() compatibility.
func (e *ActionNotFoundError) Unwrap() error { return ErrActionNotFound }

// Action returns the named action or an *ActionNotFoundError.
func (m *Manifest) Action(name string) (*Action, error) {
	if a, ok := m.Actions[name]; ok {
		return a, nil
	}
	return nil, &ActionNotFoundError{Name: name, Available: slices.Clone(m.ActionOrder)}
}

// StartupCommand returns the command an instance is created with: the
// declared startup command, or IdleCommand when none is declared.
func (m *Manifest) StartupCommand() Command {
	if m.Lifecycle != nil && len(m.Lifecycle.Startup) > 0 {
		return slices.Clone(m.Lifecycle.Startup)
	}
	return slices.Clone(IdleCommand)
}

// HasStartup reports whether the manifest declares a startup command.
func (m *Manifest) HasStartup() bool {
	return m.Lifecycle != nil && len(m.Lifecycle.Startup) > 0
}

// ExposedPorts returns the declared container ports in declaration order.
func (m *Manifest) ExposedPorts() []uint16 {
	ports := make([]uint16, 0, len(m.Expose))
	for _, e := range m.Expose {
		if !slices.Contains(ports, e.Port) {
			ports = append(ports, e.Port)
		}
	}
	return ports
}

// Event returns the named event of the action.
func (a *Action) Event(name string) (*Event, bool) {
	e, ok := a.Events[name]
	return e, ok
}

// Typed reports whether the action declares an output type.
func (a *Action) Typed() bool {
	return a.Output != nil && a.Output.Type != ""
}
