// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/invowk/msrun/internal/container"
)

// ErrNoSuchContainer is returned by FakeEngine for unknown container ids,
// including the empty id.
var ErrNoSuchContainer = errors.New("no such container")

type (
	// FakeEngine is an in-memory container.Engine. Containers it creates
	// run until Kill or StopOutOfBand; commands executed in them are
	// answered by ExecFunc.
	FakeEngine struct {
		mu sync.Mutex

		// ExecFunc answers Exec. When nil Exec succeeds with empty output.
		ExecFunc func(command []string) (*container.ExecResult, error)
		// CreateErr, StartErr, BuildErr, KillErr and ImageExistsErr fail the
		// matching operation.
		CreateErr      error
		StartErr       error
		BuildErr       error
		KillErr        error
		ImageExistsErr error
		// LogOutput is returned by Logs for every container.
		LogOutput container.LogsResult
		// BuildOutput is written to the build's Stdout.
		BuildOutput string

		images     map[container.ImageTag]bool
		containers map[container.ContainerID]*fakeContainer
		creates    []container.CreateOptions
		builds     []container.BuildOptions
		execs      [][]string
		removes    []container.ContainerID
		inspects   int
		nextID     int
	}

	fakeContainer struct {
		opts    container.CreateOptions
		started bool
		running bool
	}
)

// NewFakeEngine returns an engine that already holds the given images.
func NewFakeEngine(images ...container.ImageTag) *FakeEngine {
	f := &FakeEngine{
		images:     make(map[container.ImageTag]bool),
		containers: make(map[container.ContainerID]*fakeContainer),
	}
	for _, img := range images {
		f.images[img] = true
	}
	return f
}

// Name implements container.Engine.
func (f *FakeEngine) Name() string { return "fake" }

// Available implements container.Engine.
func (f *FakeEngine) Available() bool { return true }

// Version implements container.Engine.
func (f *FakeEngine) Version(context.Context) (string, error) { return "0.0.0-fake", nil }

// Build records the build and registers its tag as a local image.
func (f *FakeEngine) Build(_ context.Context, opts container.BuildOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, opts)
	if opts.Stdout != nil && f.BuildOutput != "" {
		if _, err := io.WriteString(opts.Stdout, f.BuildOutput); err != nil {
			return err
		}
	}
	if f.BuildErr != nil {
		return f.BuildErr
	}
	f.images[opts.Tag] = true
	return nil
}

// ImageExists implements container.Engine.
func (f *FakeEngine) ImageExists(_ context.Context, image container.ImageTag) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ImageExistsErr != nil {
		return false, f.ImageExistsErr
	}
	return f.images[image], nil
}

// Create implements container.Engine.
func (f *FakeEngine) Create(_ context.Context, opts container.CreateOptions) (container.ContainerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, opts)
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextID++
	id := container.ContainerID(fmt.Sprintf("fake%060d", f.nextID))
	f.containers[id] = &fakeContainer{opts: opts}
	return id, nil
}

// Start implements container.Engine.
func (f *FakeEngine) Start(_ context.Context, id container.ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	c, err := f.lookup(id)
	if err != nil {
		return err
	}
	c.started, c.running = true, true
	return nil
}

// Inspect reports the container state at the time of the call.
func (f *FakeEngine) Inspect(_ context.Context, id container.ContainerID) (*container.InspectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inspects++
	c, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	status := "created"
	switch {
	case c.running:
		status = "running"
	case c.started:
		status = "exited"
	}
	return &container.InspectResult{Running: c.running, Status: status, Raw: fmt.Sprintf(`{"Status":%q}`, status)}, nil
}

// Exec implements container.Engine.
func (f *FakeEngine) Exec(_ context.Context, id container.ContainerID, command []string) (*container.ExecResult, error) {
	f.mu.Lock()
	f.execs = append(f.execs, slices.Clone(command))
	c, err := f.lookup(id)
	fn := f.ExecFunc
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !c.running {
		return nil, fmt.Errorf("container %s is not running", id.Short())
	}
	if fn == nil {
		return &container.ExecResult{}, nil
	}
	return fn(command)
}

// Logs implements container.Engine.
func (f *FakeEngine) Logs(_ context.Context, id container.ContainerID) (*container.LogsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(id); err != nil {
		return nil, err
	}
	logs := f.LogOutput
	return &logs, nil
}

// Stats implements container.Engine.
func (f *FakeEngine) Stats(_ context.Context, id container.ContainerID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(id); err != nil {
		return "", err
	}
	return `{"CPUPerc":"0.00%","MemUsage":"1MiB / 1GiB"}`, nil
}

// Kill implements container.Engine.
func (f *FakeEngine) Kill(_ context.Context, id container.ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.KillErr != nil {
		return f.KillErr
	}
	c, err := f.lookup(id)
	if err != nil {
		return err
	}
	if !c.running {
		return fmt.Errorf("container %s is not running", id.Short())
	}
	c.running = false
	return nil
}

// Remove implements container.Engine.
func (f *FakeEngine) Remove(_ context.Context, id container.ContainerID, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(id); err != nil {
		return err
	}
	f.removes = append(f.removes, id)
	delete(f.containers, id)
	return nil
}

// StopOutOfBand stops a container behind the caller's back, as if it had
// crashed or been killed from another terminal.
func (f *FakeEngine) StopOutOfBand(id container.ContainerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.running = false
	}
}

// Creates returns the options of every Create call.
func (f *FakeEngine) Creates() []container.CreateOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.creates)
}

// Builds returns the options of every Build call.
func (f *FakeEngine) Builds() []container.BuildOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.builds)
}

// Execs returns the command of every Exec call.
func (f *FakeEngine) Execs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.execs)
}

// Removes returns the id of every removed container.
func (f *FakeEngine) Removes() []container.ContainerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.removes)
}

// Inspects returns how many times Inspect was called.
func (f *FakeEngine) Inspects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inspects
}

// lookup must be called with mu held.
func (f *FakeEngine) lookup(id container.ContainerID) (*fakeContainer, error) {
	c, ok := f.containers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchContainer, id)
	}
	return c, nil
}
