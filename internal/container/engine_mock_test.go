// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"testing"
)

type (
	// MockCommandRecorder captures the command lines an engine runs and
	// answers them through TestHelperProcess.
	MockCommandRecorder struct {
		mu          sync.Mutex
		invocations []MockInvocation

		// ExitCode is the exit code to return (0 = success).
		ExitCode int
		// Stdout is written to the helper's stdout.
		Stdout string
		// Stderr is written to the helper's stderr.
		Stderr string
		// FailOnCommand makes invocations whose first argument matches exit 1.
		FailOnCommand string
	}

	// MockInvocation is a single recorded command.
	MockInvocation struct {
		Name string
		Args []string
	}
)

// NewMockCommandRecorder creates a recorder that succeeds silently.
func NewMockCommandRecorder() *MockCommandRecorder {
	return &MockCommandRecorder{}
}

// ContextCommandFunc returns an ExecCommandFunc that records invocations
// and runs TestHelperProcess in their place.
func (m *MockCommandRecorder) ContextCommandFunc(t *testing.T) ExecCommandFunc {
	t.Helper()
	return func(_ context.Context, name string, args ...string) *exec.Cmd {
		m.mu.Lock()
		m.invocations = append(m.invocations, MockInvocation{Name: name, Args: slices.Clone(args)})
		exitCode := m.ExitCode
		if m.FailOnCommand != "" && len(args) > 0 && args[0] == m.FailOnCommand {
			exitCode = 1
		}
		stdout, stderr := m.Stdout, m.Stderr
		m.mu.Unlock()

		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		//nolint:gosec // TestHelperProcess is a test-only pattern
		cmd := exec.Command(os.Args[0], cs...) //nolint:noctx // exec.Command used intentionally for test helper
		cmd.Env = []string{
			"GO_WANT_HELPER_PROCESS=1",
			fmt.Sprintf("GO_HELPER_EXIT_CODE=%d", exitCode),
			"GO_HELPER_STDOUT=" + stdout,
			"GO_HELPER_STDERR=" + stderr,
		}
		return cmd
	}
}

// Engine returns a BaseCLIEngine wired to the recorder.
func (m *MockCommandRecorder) Engine(t *testing.T, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	t.Helper()
	all := append([]BaseCLIEngineOption{WithName("docker"), WithExecCommand(m.ContextCommandFunc(t))}, opts...)
	return NewBaseCLIEngine("/usr/bin/docker", all...)
}

// Invocations returns a copy of the recorded invocations.
func (m *MockCommandRecorder) Invocations() []MockInvocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.invocations)
}

// LastArgs returns the arguments from the most recent invocation.
func (m *MockCommandRecorder) LastArgs() []string {
	inv := m.Invocations()
	if len(inv) == 0 {
		return nil
	}
	return inv[len(inv)-1].Args
}

// AssertArgs verifies the last invocation's arguments exactly.
func (m *MockCommandRecorder) AssertArgs(t *testing.T, expected ...string) {
	t.Helper()
	if got := m.LastArgs(); !slices.Equal(got, expected) {
		t.Errorf("args = %q, want %q", got, expected)
	}
}

// AssertArgsContain verifies that the last invocation args contain the expected string.
func (m *MockCommandRecorder) AssertArgsContain(t *testing.T, expected string) {
	t.Helper()
	args := m.LastArgs()
	if !strings.Contains(strings.Join(args, " "), expected) {
		t.Errorf("expected args to contain %q, got: %v", expected, args)
	}
}

// AssertInvocationCount verifies the number of command invocations.
func (m *MockCommandRecorder) AssertInvocationCount(t *testing.T, expected int) {
	t.Helper()
	if got := len(m.Invocations()); got != expected {
		t.Errorf("expected %d invocations, got %d", expected, got)
	}
}

// TestHelperProcess stands in for the engine binary. It is a no-op unless
// started by a MockCommandRecorder.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	if stdout := os.Getenv("GO_HELPER_STDOUT"); stdout != "" {
		fmt.Fprint(os.Stdout, stdout)
	}
	if stderr := os.Getenv("GO_HELPER_STDERR"); stderr != "" {
		fmt.Fprint(os.Stderr, stderr)
	}

	exitCode := 0
	if code := os.Getenv("GO_HELPER_EXIT_CODE"); code != "" {
		fmt.Sscanf(code, "%d", &exitCode)
	}
	os.Exit(exitCode)
}

// withMockExecCommandOutput replaces the package-level process factory
// until the test ends. Tests using it must not run in parallel.
func withMockExecCommandOutput(t *testing.T, stdout, stderr string, exitCode int) *MockCommandRecorder {
	t.Helper()

	recorder := NewMockCommandRecorder()
	recorder.Stdout = stdout
	recorder.Stderr = stderr
	recorder.ExitCode = exitCode

	old := execCommand
	execCommand = recorder.ContextCommandFunc(t)
	t.Cleanup(func() { execCommand = old })
	return recorder
}

//nolint:paralleltest // replaces the package-level execCommand
func TestMockCommandRecorder_DefaultFactory(t *testing.T) {
	recorder := withMockExecCommandOutput(t, "version 1.0.0", "", 0)

	cmd := NewBaseCLIEngine("docker").CreateCommand(context.Background(), "version")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout.String() != "version 1.0.0" {
		t.Errorf("stdout = %q, want %q", stdout.String(), "version 1.0.0")
	}
	recorder.AssertInvocationCount(t, 1)
	recorder.AssertArgs(t, "version")
}

func TestMockCommandRecorder_ExitCode(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.ExitCode = 3
	cmd := recorder.ContextCommandFunc(t)(context.Background(), "docker", "build")

	var exitErr *exec.ExitError
	if err := cmd.Run(); err == nil || !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("expected exit code 3, got %v", err)
	}
}
