// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/metrics"
	"github.com/invowk/msrun/pkg/manifest"
)

type (
	// Runtime is the container capability a Manager drives.
	// container.Engine satisfies it.
	Runtime interface {
		Create(ctx context.Context, opts container.CreateOptions) (container.ContainerID, error)
		Start(ctx context.Context, id container.ContainerID) error
		Inspect(ctx context.Context, id container.ContainerID) (*container.InspectResult, error)
		Exec(ctx context.Context, id container.ContainerID, command []string) (*container.ExecResult, error)
		Logs(ctx context.Context, id container.ContainerID) (*container.LogsResult, error)
		Stats(ctx context.Context, id container.ContainerID) (string, error)
		Kill(ctx context.Context, id container.ContainerID) error
		Remove(ctx context.Context, id container.ContainerID, force bool) error
	}

	// PortFinder returns a free host port. *container.PortAllocator satisfies it.
	PortFinder interface {
		GetOpenPort(ctx context.Context) (container.NetworkPort, error)
	}

	// Option configures a Manager.
	Option func(*Manager)

	// Instance is a point-in-time snapshot of the managed container.
	Instance struct {
		ID           container.ContainerID
		Image        container.ImageTag
		State        State
		PortBindings []container.PortMapping
	}

	// Manager owns exactly one container instance of a microservice image.
	// State reads are lock-free; transitions are serialized.
	Manager struct {
		rt       Runtime
		image    container.ImageTag
		manifest *manifest.Manifest
		ports    PortFinder
		name     string
		logger   *log.Logger
		metrics  *metrics.Metrics

		state atomic.Int32
		// mu serializes transitions and guards id and bindings.
		mu       sync.Mutex
		id       container.ContainerID
		bindings []container.PortMapping
	}
)

// WithLogger sets the logger. The default writes warnings to stderr.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		m.logger = l.WithPrefix("lifecycle")
	}
}

// WithMetrics records transitions on the given instruments.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithPortFinder replaces the default random port allocator.
func WithPortFinder(p PortFinder) Option {
	return func(m *Manager) {
		m.ports = p
	}
}

// WithContainerName names the container on create.
func WithContainerName(name string) Option {
	return func(m *Manager) {
		m.name = name
	}
}

// New creates a Manager for image. mf decides the startup command and the
// exposed ports; it must have been validated.
func New(rt Runtime, image container.ImageTag, mf *manifest.Manifest, opts ...Option) *Manager {
	m := &Manager{
		rt:       rt,
		image:    image,
		manifest: mf,
		ports:    &container.PortAllocator{},
		logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "lifecycle", Level: log.WarnLevel}),
	}
	m.state.Store(int32(StateUncreated))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the local state (atomic, lock-free read). It may lag
// behind the runtime until IsRunning observes a death.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// ID returns the container id, empty before a successful Create.
func (m *Manager) ID() container.ContainerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Image returns the image the container is created from.
func (m *Manager) Image() container.ImageTag { return m.image }

// PortBindings returns the host ports published for exposed container ports.
func (m *Manager) PortBindings() []container.PortMapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.bindings)
}

// Snapshot returns the current instance description.
func (m *Manager) Snapshot() Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Instance{ID: m.id, Image: m.image, State: m.State(), PortBindings: slices.Clone(m.bindings)}
}

// Create creates the container with env (NAME=value entries). The command
// is the manifest's startup command, or the idle keepalive when none is
// declared. Every exposed port gets a freshly allocated host port.
func (m *Manager) Create(ctx context.Context, env []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.State(); s != StateUncreated {
		return &TransitionError{Op: "create", From: s}
	}

	var bindings []container.PortMapping
	for _, p := range m.manifest.ExposedPorts() {
		host, err := m.ports.GetOpenPort(ctx)
		if err != nil {
			return fmt.Errorf("allocate host port for container port %d: %w", p, err)
		}
		bindings = append(bindings, container.PortMapping{HostPort: host, ContainerPort: container.NetworkPort(p)})
	}

	command := m.manifest.StartupCommand()
	id, err := m.rt.Create(ctx, container.CreateOptions{
		Image:   m.image,
		Command: command,
		Env:     env,
		Ports:   bindings,
		Name:    m.name,
	})
	if err != nil {
		return err
	}

	m.id = id
	m.bindings = bindings
	m.transition(StateCreated, "id", id.Short(), "image", m.image, "command", command.String())
	return nil
}

// Start starts a created container.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.State(); s != StateCreated {
		return &TransitionError{Op: "start", From: s}
	}
	if err := m.rt.Start(ctx, m.id); err != nil {
		return err
	}
	m.transition(StateRunning, "id", m.id.Short())
	return nil
}

// StartService creates and starts the container and returns its id.
func (m *Manager) StartService(ctx context.Context, env []string) (container.ContainerID, error) {
	if err := m.Create(ctx, env); err != nil {
		return "", err
	}
	if err := m.Start(ctx); err != nil {
		return m.ID(), err
	}
	return m.ID(), nil
}

// IsRunning asks the runtime whether the container is running. The answer
// is never cached. Observing a stopped container while the local state is
// running moves the local state to stopped. Before Create it reports false.
func (m *Manager) IsRunning(ctx context.Context) (bool, error) {
	if m.State() == StateUncreated {
		return false, nil
	}
	id := m.ID()
	res, err := m.rt.Inspect(ctx, id)
	if err != nil {
		return false, err
	}
	if !res.Running && m.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		m.logger.Warn("container stopped unexpectedly", "id", id.Short(), "status", res.Status, "exit_code", res.ExitCode)
		m.metrics.ObserveTransition(StateStopped.String())
	}
	return res.Running, nil
}

// Exec runs command in the container. It fails with ErrNotRunning unless
// the local state is running.
func (m *Manager) Exec(ctx context.Context, command []string) (*container.ExecResult, error) {
	if s := m.State(); s != StateRunning {
		return nil, &NotRunningError{State: s}
	}
	return m.rt.Exec(ctx, m.ID(), command)
}

// Inspect returns the raw runtime state. Before Create the runtime is
// asked about the empty id and its error is returned unchanged.
func (m *Manager) Inspect(ctx context.Context) (*container.InspectResult, error) {
	return m.rt.Inspect(ctx, m.ID())
}

// Logs returns the container output so far.
func (m *Manager) Logs(ctx context.Context) (*container.LogsResult, error) {
	return m.rt.Logs(ctx, m.ID())
}

// Stderr returns the stderr stream of the container logs.
func (m *Manager) Stderr(ctx context.Context) (string, error) {
	logs, err := m.Logs(ctx)
	if err != nil {
		return "", err
	}
	return logs.Stderr, nil
}

// Stats returns a resource usage snapshot.
func (m *Manager) Stats(ctx context.Context) (string, error) {
	return m.rt.Stats(ctx, m.ID())
}

// Stop kills the container and returns its id. Stopping an uncreated or
// already stopped instance does nothing. A container that was created but
// never started is removed.
func (m *Manager) Stop(ctx context.Context) (container.ContainerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.State() {
	case StateUncreated, StateStopped:
		return m.id, nil
	case StateCreated:
		if err := m.rt.Remove(ctx, m.id, true); err != nil {
			return m.id, err
		}
		m.transition(StateStopped, "id", m.id.Short())
		return m.id, nil
	}

	if err := m.rt.Kill(ctx, m.id); err != nil {
		// The container may have died between the last check and the kill.
		res, inspectErr := m.rt.Inspect(ctx, m.id)
		if inspectErr != nil || res.Running {
			return m.id, err
		}
	}
	m.transition(StateStopped, "id", m.id.Short())
	return m.id, nil
}

// transition must be called with mu held.
func (m *Manager) transition(to State, keyvals ...any) {
	from := m.State()
	m.state.Store(int32(to))
	m.logger.Debug("container "+to.String(), append([]any{"from", from.String()}, keyvals...)...)
	m.metrics.ObserveTransition(to.String())
}
