// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/invowk/msrun/internal/issue"
)

// execCommand is the process factory used by engines built without
// WithExecCommand. Tests replace it.
var execCommand ExecCommandFunc = exec.CommandContext

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine implements every Engine operation whose command line is
	// the same for docker and podman. The concrete engines embed it and add
	// Available, Version and ImageExists.
	BaseCLIEngine struct {
		name        string
		binaryPath  string
		execCommand ExecCommandFunc
		envOverride map[string]string
	}

	// inspectState mirrors the fields of `inspect --format {{json .State}}`
	// shared by docker and podman.
	inspectState struct {
		Status   string `json:"Status"`
		Running  bool   `json:"Running"`
		ExitCode int    `json:"ExitCode"`
	}
)

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithCmdEnvOverride adds an environment variable to every command the
// engine runs, for example DOCKER_HOST.
func WithCmdEnvOverride(key, value string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		if e.envOverride == nil {
			e.envOverride = make(map[string]string)
		}
		e.envOverride[key] = value
	}
}

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:  binaryPath,
		execCommand: func(ctx context.Context, name string, arg ...string) *exec.Cmd { return execCommand(ctx, name, arg...) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the engine name used in error messages.
func (e *BaseCLIEngine) Name() string { return e.name }

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string { return e.binaryPath }

// --- Argument Builders ---

// BuildArgs constructs arguments for an image build.
//
// Generated command: <binary> build [-f file] [-t tag] [--no-cache] <context>
func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}
	if opts.Dockerfile != "" {
		dockerfile := opts.Dockerfile
		if !filepath.IsAbs(dockerfile) && opts.ContextDir != "" {
			dockerfile = filepath.Join(opts.ContextDir, dockerfile)
		}
		args = append(args, "-f", dockerfile)
	}
	if opts.Tag != "" {
		args = append(args, "-t", string(opts.Tag))
	}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	contextDir := opts.ContextDir
	if contextDir == "" {
		contextDir = "."
	}
	return append(args, contextDir)
}

// CreateArgs constructs arguments for creating a container. Environment
// entries keep their order.
//
// Generated command: <binary> create [--name n] [-e K=V]... [-p h:c]... <image> [command...]
func (e *BaseCLIEngine) CreateArgs(opts CreateOptions) []string {
	args := []string{"create"}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	for _, kv := range opts.Env {
		args = append(args, "-e", kv)
	}
	for _, p := range opts.Ports {
		args = append(args, "-p", FormatPortMapping(p))
	}
	args = append(args, string(opts.Image))
	return append(args, opts.Command...)
}

// ExecArgs constructs arguments for running a command in a container.
//
// Generated command: <binary> exec <container> <command...>
func (e *BaseCLIEngine) ExecArgs(id ContainerID, command []string) []string {
	args := []string{"exec", string(id)}
	return append(args, command...)
}

// InspectArgs constructs arguments for querying container state.
func (e *BaseCLIEngine) InspectArgs(id ContainerID) []string {
	return []string{"inspect", "--type", "container", "--format", "{{json .State}}", string(id)}
}

// StatsArgs constructs arguments for a one-shot stats snapshot.
func (e *BaseCLIEngine) StatsArgs(id ContainerID) []string {
	return []string{"stats", "--no-stream", "--format", "{{json .}}", string(id)}
}

// RemoveArgs constructs arguments for a container remove command.
func (e *BaseCLIEngine) RemoveArgs(id ContainerID, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	return append(args, string(id))
}

// --- Command Execution ---

// CreateCommand creates an exec.Cmd for the given arguments with the
// engine environment overrides applied.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := e.execCommand(ctx, e.binaryPath, args...)
	if len(e.envOverride) > 0 {
		if cmd.Env == nil {
			cmd.Env = cmd.Environ()
		}
		for k, v := range e.envOverride {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	return cmd
}

// RunCommandStatus executes a command and returns only the error status.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	_, _, err := e.runCaptured(ctx, args...)
	return err
}

// RunCommandWithOutput executes a command and returns its stdout.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	stdout, _, err := e.runCaptured(ctx, args...)
	return stdout, err
}

// runCaptured runs a command with both streams captured. A failing command
// reports its trimmed stderr in the error.
func (e *BaseCLIEngine) runCaptured(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	cmd := e.CreateCommand(ctx, args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if runErr := cmd.Run(); runErr != nil {
		msg := strings.TrimSpace(errOut.String())
		if msg == "" {
			return out.String(), errOut.String(), fmt.Errorf("command %s %v failed: %w", e.binaryPath, args, runErr)
		}
		return out.String(), errOut.String(), fmt.Errorf("command %s %v failed: %s: %w", e.binaryPath, args, msg, runErr)
	}
	return out.String(), errOut.String(), nil
}

// --- Engine operations shared by docker and podman ---

// Build builds an image, streaming output to opts.Stdout and opts.Stderr.
func (e *BaseCLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	cmd := e.CreateCommand(ctx, e.BuildArgs(opts)...)
	cmd.Stdout = opts.Stdout
	var errOut bytes.Buffer
	cmd.Stderr = &errOut
	if opts.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&errOut, opts.Stderr)
	}

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(errOut.String()); msg != "" {
			err = fmt.Errorf("%s: %w", msg, err)
		}
		return buildContainerError(e.name, opts, err)
	}
	return nil
}

// Create creates a container and returns the id printed by the engine.
func (e *BaseCLIEngine) Create(ctx context.Context, opts CreateOptions) (ContainerID, error) {
	if err := opts.Image.Validate(); err != nil {
		return "", err
	}
	out, err := e.RunCommandWithOutput(ctx, e.CreateArgs(opts)...)
	if err != nil {
		return "", createContainerError(e.name, opts, err)
	}
	id := ContainerID(strings.TrimSpace(out))
	if id == "" {
		return "", createContainerError(e.name, opts, errors.New("engine returned an empty container id"))
	}
	return id, nil
}

// Start starts a created container.
func (e *BaseCLIEngine) Start(ctx context.Context, id ContainerID) error {
	return e.RunCommandStatus(ctx, "start", string(id))
}

// Inspect queries the current container state. It never caches.
func (e *BaseCLIEngine) Inspect(ctx context.Context, id ContainerID) (*InspectResult, error) {
	out, err := e.RunCommandWithOutput(ctx, e.InspectArgs(id)...)
	if err != nil {
		return nil, err
	}
	raw := strings.TrimSpace(out)
	var state inspectState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode %s inspect output: %w", e.name, err)
	}
	return &InspectResult{Running: state.Running, Status: state.Status, ExitCode: state.ExitCode, Raw: raw}, nil
}

// Exec runs command inside the container. A non-zero exit is reported in
// the result; only failures to run the engine itself are errors.
func (e *BaseCLIEngine) Exec(ctx context.Context, id ContainerID, command []string) (*ExecResult, error) {
	cmd := e.CreateCommand(ctx, e.ExecArgs(id, command)...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	result := &ExecResult{}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("exec in container %s: %w", id.Short(), err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	result.Stdout = out.String()
	result.Stderr = errOut.String()
	return result, nil
}

// Logs returns the container's stdout and stderr separately.
func (e *BaseCLIEngine) Logs(ctx context.Context, id ContainerID) (*LogsResult, error) {
	stdout, stderr, err := e.runCaptured(ctx, "logs", string(id))
	if err != nil {
		return nil, err
	}
	return &LogsResult{Stdout: stdout, Stderr: stderr}, nil
}

// Stats returns a one-shot resource usage snapshot.
func (e *BaseCLIEngine) Stats(ctx context.Context, id ContainerID) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, e.StatsArgs(id)...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Kill sends SIGKILL to the container.
func (e *BaseCLIEngine) Kill(ctx context.Context, id ContainerID) error {
	return e.RunCommandStatus(ctx, "kill", string(id))
}

// Remove deletes a container.
func (e *BaseCLIEngine) Remove(ctx context.Context, id ContainerID, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveArgs(id, force)...)
}

// --- Actionable Error Helpers ---

func buildContainerError(engine string, opts BuildOptions, cause error) error {
	ctx := issue.NewErrorContext().WithOperation("build container image").WithIssue(issue.ImageBuildFailedId)
	switch {
	case opts.Dockerfile != "":
		ctx.WithResource(opts.Dockerfile)
	case opts.ContextDir != "":
		ctx.WithResource(filepath.Join(opts.ContextDir, "Dockerfile"))
	case opts.Tag != "":
		ctx.WithResource(string(opts.Tag))
	}

	ctx.WithSuggestion("Check the Dockerfile for syntax errors")
	ctx.WithSuggestion("Ensure base images are available (try: " + engine + " pull <base-image>)")
	if IsTransientError(cause) {
		ctx.WithSuggestion("The failure looks transient; retrying the build may succeed")
	}
	return ctx.Wrap(cause).BuildError()
}

func createContainerError(engine string, opts CreateOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("create container").
		WithResource(string(opts.Image))

	ctx.WithSuggestion("Verify the image exists (try: " + engine + " images)")
	ctx.WithSuggestion("Run 'msrun build' to build the microservice image")
	if len(opts.Ports) > 0 {
		ctx.WithSuggestion("Ensure published ports don't conflict with running services")
	}
	return ctx.Wrap(cause).BuildError()
}
