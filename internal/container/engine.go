// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// EngineTypePodman selects the podman CLI.
	EngineTypePodman EngineType = "podman"
	// EngineTypeDocker selects the docker CLI.
	EngineTypeDocker EngineType = "docker"
)

var (
	// ErrNoEngineAvailable is the sentinel error wrapped by EngineNotAvailableError.
	ErrNoEngineAvailable = errors.New("no container engine available")

	// ErrInvalidEngineType is the sentinel error wrapped by InvalidEngineTypeError.
	ErrInvalidEngineType = errors.New("invalid container engine type")

	// ErrInvalidImageTag is the sentinel error wrapped by InvalidImageTagError.
	ErrInvalidImageTag = errors.New("invalid image tag")
)

type (
	// Engine is a container engine reachable through its CLI. It covers
	// the operations needed to build an image and to drive one long-lived
	// container through create, start, exec and kill.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available reports whether the engine can be reached.
		Available() bool
		// Version returns the engine server version.
		Version(ctx context.Context) (string, error)

		// Build builds an image.
		Build(ctx context.Context, opts BuildOptions) error
		// ImageExists reports whether an image is present locally.
		ImageExists(ctx context.Context, image ImageTag) (bool, error)

		// Create creates a stopped container and returns its id.
		Create(ctx context.Context, opts CreateOptions) (ContainerID, error)
		// Start starts a created container.
		Start(ctx context.Context, id ContainerID) error
		// Inspect queries the current state of a container.
		Inspect(ctx context.Context, id ContainerID) (*InspectResult, error)
		// Exec runs a command inside a running container.
		Exec(ctx context.Context, id ContainerID, command []string) (*ExecResult, error)
		// Logs returns the output the container has produced so far.
		Logs(ctx context.Context, id ContainerID) (*LogsResult, error)
		// Stats returns a one-shot resource usage snapshot as JSON.
		Stats(ctx context.Context, id ContainerID) (string, error)
		// Kill stops a running container.
		Kill(ctx context.Context, id ContainerID) error
		// Remove deletes a container.
		Remove(ctx context.Context, id ContainerID, force bool) error
	}

	// EngineType identifies the container engine type.
	EngineType string

	// InvalidEngineTypeError is returned when an EngineType is not recognized.
	InvalidEngineTypeError struct {
		Value EngineType
	}

	// EngineNotAvailableError is returned when no usable engine binary is found.
	EngineNotAvailableError struct {
		Engine string
		Reason string
	}

	// ContainerID is the engine handle of a container. It is empty until a
	// container has been created.
	ContainerID string

	// ImageTag names an image.
	ImageTag string

	// InvalidImageTagError is returned when an ImageTag is empty or contains whitespace.
	InvalidImageTagError struct {
		Value ImageTag
	}

	// BuildOptions contains options for building an image.
	BuildOptions struct {
		// ContextDir is the build context directory.
		ContextDir string
		// Dockerfile is the path to the Dockerfile, relative to ContextDir.
		Dockerfile string
		// Tag is the image tag.
		Tag ImageTag
		// NoCache disables the build cache.
		NoCache bool
		// Stdout receives build output.
		Stdout io.Writer
		// Stderr receives build errors.
		Stderr io.Writer
	}

	// CreateOptions contains options for creating a container.
	CreateOptions struct {
		Image ImageTag
		// Command overrides the image command.
		Command []string
		// Env holds NAME=value pairs.
		Env []string
		// Ports are published host to container port mappings.
		Ports []PortMapping
		// Name is an optional container name.
		Name string
	}

	// InspectResult is the state of a container at the time of the query.
	InspectResult struct {
		Running  bool
		Status   string
		ExitCode int
		// Raw is the engine's JSON description of the state.
		Raw string
	}

	// ExecResult is the outcome of a command run inside a container.
	ExecResult struct {
		Stdout   string
		Stderr   string
		ExitCode int
	}

	// LogsResult holds the two output streams of a container.
	LogsResult struct {
		Stdout string
		Stderr string
	}
)

// Error implements the error interface.
func (e *InvalidEngineTypeError) Error() string {
	return fmt.Sprintf("unknown container engine type %q (valid: docker, podman)", e.Value)
}

// Unwrap returns ErrInvalidEngineType for errors.Is() compatibility.
func (e *InvalidEngineTypeError) Unwrap() error { return ErrInvalidEngineType }

// String returns the string representation of the EngineType.
func (t EngineType) String() string { return string(t) }

// Validate returns an error if the EngineType is not docker or podman.
func (t EngineType) Validate() error {
	switch t {
	case EngineTypeDocker, EngineTypePodman:
		return nil
	default:
		return &InvalidEngineTypeError{Value: t}
	}
}

// Error implements the error interface.
func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrNoEngineAvailable for errors.Is() compatibility.
func (e *EngineNotAvailableError) Unwrap() error { return ErrNoEngineAvailable }

// String returns the string representation of the ContainerID.
func (id ContainerID) String() string { return string(id) }

// Short returns the first twelve characters of the id, as engines print it.
func (id ContainerID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}

// String returns the string representation of the ImageTag.
func (t ImageTag) String() string { return string(t) }

// Validate returns an error if the tag is empty or contains whitespace.
func (t ImageTag) Validate() error {
	if t == "" || strings.ContainsAny(string(t), " \t\n") {
		return &InvalidImageTagError{Value: t}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidImageTagError) Error() string {
	return fmt.Sprintf("invalid image tag %q: must be non-empty without whitespace", e.Value)
}

// Unwrap returns ErrInvalidImageTag for errors.Is() compatibility.
func (e *InvalidImageTagError) Unwrap() error { return ErrInvalidImageTag }

// NewEngine returns the preferred engine, falling back to the other one
// when the preferred binary is unavailable.
func NewEngine(preferred EngineType) (Engine, error) {
	if err := preferred.Validate(); err != nil {
		return nil, err
	}

	docker, podman := Engine(NewDockerEngine()), Engine(NewPodmanEngine())
	first, second := docker, podman
	if preferred == EngineTypePodman {
		first, second = podman, docker
	}

	if first.Available() {
		return first, nil
	}
	if second.Available() {
		return second, nil
	}
	return nil, &EngineNotAvailableError{
		Engine: string(preferred),
		Reason: fmt.Sprintf("%s is not installed or not accessible, and %s fallback is also not available", first.Name(), second.Name()),
	}
}

// AutoDetectEngine returns the first available engine, trying Docker first.
func AutoDetectEngine() (Engine, error) {
	for _, e := range []Engine{NewDockerEngine(), NewPodmanEngine()} {
		if e.Available() {
			return e, nil
		}
	}
	return nil, &EngineNotAvailableError{
		Engine: "any",
		Reason: "no container engine (docker or podman) is available on this system",
	}
}
