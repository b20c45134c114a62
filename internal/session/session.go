// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/imagebuild"
	"github.com/invowk/msrun/internal/invoke"
	"github.com/invowk/msrun/internal/lifecycle"
	"github.com/invowk/msrun/internal/metrics"
	"github.com/invowk/msrun/internal/subscribe"
	"github.com/invowk/msrun/internal/typesys"
	"github.com/invowk/msrun/pkg/manifest"
)

// DefaultBufferSize is the capacity of the notification channel.
const DefaultBufferSize = 256

var (
	// ErrNoContainer is returned by operations that need a started container.
	ErrNoContainer = errors.New("container not running")

	// ErrImageNotBuilt is returned by Start when the requested image is absent.
	ErrImageNotBuilt = errors.New("image for microservice is not built")

	// ErrNoManifest is returned when no valid manifest has been loaded.
	ErrNoManifest = errors.New("no valid microservice.yml loaded")
)

type (
	// BuildRequest selects the image name of a build.
	BuildRequest struct {
		Name    container.ImageTag `json:"name,omitempty"`
		NoCache bool               `json:"noCache,omitempty"`
	}

	// StartRequest selects the image and environment of a new container.
	// An empty Image builds one first.
	StartRequest struct {
		Image container.ImageTag `json:"image,omitempty"`
		Env   map[string]string  `json:"envs,omitempty"`
	}

	// RunRequest names an action and its raw arguments. A nil Env reuses
	// the environment the container was started with.
	RunRequest struct {
		Action string            `json:"action"`
		Args   map[string]string `json:"args,omitempty"`
		Env    map[string]string `json:"envs,omitempty"`
	}

	// SubscribeRequest names an event of an action.
	SubscribeRequest struct {
		Action string            `json:"action"`
		Event  string            `json:"event"`
		Args   map[string]string `json:"args,omitempty"`
		Env    map[string]string `json:"envs,omitempty"`
	}

	// RebuildRequest replaces the build and start requests remembered for
	// later rebuilds.
	RebuildRequest struct {
		Build BuildRequest  `json:"build"`
		Start *StartRequest `json:"start,omitempty"`
	}

	// Option configures a Session.
	Option func(*Session)

	// Session owns the image, container and subscription of one
	// microservice source directory.
	Session struct {
		engine       container.Engine
		dir          string
		manifestPath string
		builder      *imagebuild.Builder
		types        *typesys.System
		ports        lifecycle.PortFinder
		clock        subscribe.Clock
		interval     time.Duration
		logger       *log.Logger
		metrics      *metrics.Metrics
		out          chan Notification

		ctx       context.Context
		cancel    context.CancelFunc
		closeOnce sync.Once

		// opMu serializes operations that replace the image or container.
		opMu sync.Mutex

		mu             sync.Mutex
		mf             *manifest.Manifest
		image          container.ImageTag
		mgr            *lifecycle.Manager
		inv            *invoke.Engine
		startEnv       map[string]string
		sub            *subscribe.Subscription
		rebuildEnabled bool
		lastBuild      BuildRequest
		lastStart      *StartRequest
	}
)

// WithLogger sets the root logger; components derive prefixed loggers from it.
func WithLogger(l *log.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithMetrics records builds, transitions, invocations and subscriptions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithTypeSystem sets the type system used to reconcile and cast values.
func WithTypeSystem(t *typesys.System) Option {
	return func(s *Session) {
		s.types = t
	}
}

// WithPortFinder sets the allocator of host ports for exposed ports.
func WithPortFinder(p lifecycle.PortFinder) Option {
	return func(s *Session) {
		s.ports = p
	}
}

// WithBuilder replaces the image builder.
func WithBuilder(b *imagebuild.Builder) Option {
	return func(s *Session) {
		s.builder = b
	}
}

// WithManifestPath sets the manifest file. It defaults to
// microservice.yml in the source directory.
func WithManifestPath(path string) Option {
	return func(s *Session) {
		s.manifestPath = path
	}
}

// WithClock sets the clock of subscription watches.
func WithClock(c subscribe.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithPollInterval sets the liveness poll interval of subscriptions.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		s.interval = d
	}
}

// WithImage seeds the image reported before the first build, typically one
// built earlier with `msrun build`.
func WithImage(tag container.ImageTag) Option {
	return func(s *Session) {
		s.image = tag
	}
}

// WithBufferSize sets the capacity of the notification channel.
func WithBufferSize(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.out = make(chan Notification, n)
		}
	}
}

// New creates a session for the service in dir. Rebuilds start enabled.
func New(engine container.Engine, dir string, opts ...Option) *Session {
	s := &Session{
		engine:         engine,
		dir:            dir,
		manifestPath:   filepath.Join(dir, manifest.DefaultFileName),
		types:          typesys.Default(),
		clock:          subscribe.RealClock{},
		interval:       subscribe.DefaultInterval,
		logger:         log.NewWithOptions(os.Stderr, log.Options{Level: log.WarnLevel}),
		out:            make(chan Notification, DefaultBufferSize),
		rebuildEnabled: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ports == nil {
		s.ports = &container.PortAllocator{}
	}
	if s.builder == nil {
		s.builder = imagebuild.New(engine, imagebuild.WithLogger(s.logger), imagebuild.WithMetrics(s.metrics))
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Notifications returns the stream of progress reports. It is never closed;
// sends stop after Close.
func (s *Session) Notifications() <-chan Notification {
	return s.out
}

// Image returns the last built or started image.
func (s *Session) Image() container.ImageTag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

// Instance returns the snapshot of the current container, if any.
func (s *Session) Instance() (lifecycle.Instance, bool) {
	mgr, _, _ := s.current()
	if mgr == nil {
		return lifecycle.Instance{}, false
	}
	return mgr.Snapshot(), true
}

// RebuildEnabled reports whether Rebuild currently does anything.
func (s *Session) RebuildEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildEnabled
}

// SendManifest emits the raw manifest file and validates it.
func (s *Session) SendManifest(ctx context.Context) error {
	data, err := os.ReadFile(s.manifestPath)
	if err != nil {
		s.emit(ctx, Notification{Room: RoomManifest, Status: false, Notif: err.Error()})
		return s.Validate(ctx)
	}
	s.emit(ctx, Notification{Room: RoomManifest, Status: true, Notif: string(data)})
	return s.Validate(ctx)
}

// SaveManifest replaces the manifest file with content and validates it.
func (s *Session) SaveManifest(ctx context.Context, content []byte) error {
	if err := os.WriteFile(s.manifestPath, content, 0o644); err != nil {
		s.emit(ctx, Notification{Room: RoomManifest, Status: false, Notif: err.Error()})
		return fmt.Errorf("save manifest: %w", err)
	}
	s.logger.Info("manifest saved", "path", s.manifestPath)
	return s.Validate(ctx)
}

// Validate reloads the manifest. On success it becomes the manifest of
// containers started later; on failure the previous one is kept. The
// validate room receives the manifest as JSON or the error, and the owner
// room the current image.
func (s *Session) Validate(ctx context.Context) error {
	defer func() {
		s.emit(ctx, Notification{Room: RoomOwner, Status: true, Notif: s.Image().String()})
	}()

	data, err := os.ReadFile(s.manifestPath)
	if err == nil {
		var mf *manifest.Manifest
		if mf, err = manifest.ParseBytes(data, s.manifestPath); err == nil {
			s.mu.Lock()
			s.mf = mf
			s.mu.Unlock()
			s.emit(ctx, Notification{Room: RoomValidate, Status: true, Notif: manifestJSON(data)})
			return nil
		}
	}
	s.emit(ctx, Notification{Room: RoomValidate, Status: false, Notif: err.Error()})
	return err
}

// Build builds the service image and makes it the session image.
func (s *Session) Build(ctx context.Context, req BuildRequest) (container.ImageTag, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.build(ctx, req)
}

func (s *Session) build(ctx context.Context, req BuildRequest) (container.ImageTag, error) {
	s.emit(ctx, Notification{Room: RoomBuild, Status: true, Notif: "Building Docker image"})
	out := &lineWriter{emit: func(line string) {
		s.emit(ctx, Notification{Room: RoomBuild, Status: true, Notif: line, Build: true})
	}}
	tag, err := s.builder.BuildRequest(ctx, imagebuild.Request{Dir: s.dir, Name: req.Name, NoCache: req.NoCache, Output: out})
	out.Flush()
	if err != nil {
		s.emit(ctx, Notification{Room: RoomBuild, Status: false, Notif: "Failed to build: " + err.Error()})
		return "", err
	}

	s.mu.Lock()
	s.image = tag
	s.mu.Unlock()
	s.emit(ctx, Notification{Room: RoomBuild, Status: true, Notif: tag.String(), Built: true})
	return tag, nil
}

// Start replaces the current container with a new one. An empty image
// is built first; a named image must already exist. The manifest is
// loaded first if no valid one has been seen yet.
func (s *Session) Start(ctx context.Context, req StartRequest) (container.ContainerID, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.start(ctx, req)
}

func (s *Session) start(ctx context.Context, req StartRequest) (container.ContainerID, error) {
	s.mu.Lock()
	mf := s.mf
	s.mu.Unlock()
	if mf == nil && s.Validate(ctx) == nil {
		s.mu.Lock()
		mf = s.mf
		s.mu.Unlock()
	}
	if mf == nil {
		s.emit(ctx, Notification{Room: RoomStart, Status: false, Notif: ErrNoManifest.Error()})
		return "", ErrNoManifest
	}

	image := req.Image
	if image != "" {
		ok, err := s.builder.ImageExists(ctx, image)
		if err != nil {
			s.emit(ctx, Notification{Room: RoomStart, Status: false, Notif: "Failed to look up image: " + err.Error()})
			return "", fmt.Errorf("look up image %s: %w", image, err)
		}
		if !ok {
			s.emit(ctx, Notification{Room: RoomStart, Status: false, Notif: "Image for microservice is not built. Run `msrun build` to build the image."})
			return "", fmt.Errorf("%w: %s", ErrImageNotBuilt, image)
		}
	} else {
		tag, err := s.build(ctx, BuildRequest{})
		if err != nil {
			return "", err
		}
		image = tag
	}

	mgr := lifecycle.New(s.engine, image, mf,
		lifecycle.WithLogger(s.logger), lifecycle.WithMetrics(s.metrics), lifecycle.WithPortFinder(s.ports))
	inv := invoke.New(mf, mgr,
		invoke.WithTypeSystem(s.types), invoke.WithLogger(s.logger), invoke.WithMetrics(s.metrics))
	env, err := inv.Environment(req.Env)
	if err != nil {
		s.emit(ctx, Notification{Room: RoomStart, Status: false, Notif: err.Error()})
		return "", err
	}

	s.stop(ctx)

	s.mu.Lock()
	if s.lastStart == nil {
		start := req
		s.lastStart = &start
	}
	s.mu.Unlock()

	s.emit(ctx, Notification{Room: RoomStart, Status: true, Notif: "Starting Docker container"})
	id, err := mgr.StartService(ctx, env)
	if err != nil {
		if _, stopErr := mgr.Stop(ctx); stopErr != nil {
			s.logger.Warn("stop after failed start", "error", stopErr)
		}
		s.emit(ctx, Notification{Room: RoomStart, Status: false, Notif: "Failed to start Docker container: " + err.Error()})
		return "", err
	}

	s.mu.Lock()
	s.mgr, s.inv, s.image, s.startEnv = mgr, inv, image, req.Env
	s.mu.Unlock()

	s.emit(ctx, Notification{
		Room:    RoomStart,
		Status:  true,
		Notif:   "Started Docker container: " + id.Short(),
		Started: true,
		Ports:   mgr.PortBindings(),
	})
	return id, nil
}

// Stop ends the subscription and kills the container if it is running.
func (s *Session) Stop(ctx context.Context) (container.ContainerID, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stop(ctx)
}

func (s *Session) stop(ctx context.Context) (container.ContainerID, error) {
	s.mu.Lock()
	mgr, sub := s.mgr, s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if mgr == nil {
		return "", nil
	}
	if running, err := mgr.IsRunning(ctx); err != nil || !running {
		return mgr.ID(), nil
	}
	id, err := mgr.Stop(ctx)
	if err != nil {
		s.emit(ctx, Notification{Room: RoomStop, Status: false, Notif: "Failed to stop Docker container: " + err.Error()})
		return id, err
	}
	s.emit(ctx, Notification{Room: RoomStop, Status: true, Notif: "Stopped Docker container: " + id.String()})
	return id, nil
}

// HealthCheck reports whether the container is running. A failed check
// carries the container's stderr.
func (s *Session) HealthCheck(ctx context.Context) bool {
	s.emit(ctx, Notification{Room: RoomHealthCheck, Status: true, Notif: "Health check"})
	mgr, _, _ := s.current()
	if mgr == nil {
		s.emit(ctx, Notification{Room: RoomHealthCheck, Status: false, Notif: "Health check failed", Log: ErrNoContainer.Error()})
		return false
	}
	if running, err := mgr.IsRunning(ctx); err != nil || !running {
		stderr, _ := mgr.Stderr(ctx)
		s.emit(ctx, Notification{Room: RoomHealthCheck, Status: false, Notif: "Health check failed", Log: stderr})
		return false
	}
	s.emit(ctx, Notification{Room: RoomHealthCheck, Status: true, Notif: "Health check passed"})
	return true
}

// Run health-checks the container and invokes one action.
func (s *Session) Run(ctx context.Context, req RunRequest) (*invoke.Result, error) {
	s.HealthCheck(ctx)
	s.emit(ctx, Notification{Room: RoomRun, Status: true, Notif: fmt.Sprintf("Running action: `%s`", req.Action)})

	res, err := s.invoke(ctx, req)
	if err != nil {
		s.emit(ctx, Notification{Room: RoomRun, Status: false, Notif: fmt.Sprintf("Failed action: `%s`: %v", req.Action, err)})
		return nil, err
	}
	s.emit(ctx, Notification{Room: RoomRun, Status: true, Notif: fmt.Sprintf("Ran action: `%s` with output: %s", req.Action, res.Raw)})
	s.emit(ctx, Notification{Room: RoomRun, Status: true, Notif: res.Raw, Output: res.Value})
	return res, nil
}

func (s *Session) invoke(ctx context.Context, req RunRequest) (*invoke.Result, error) {
	_, inv, env := s.current()
	if inv == nil {
		return nil, ErrNoContainer
	}
	if req.Env == nil {
		req.Env = env
	}
	return inv.Exec(ctx, invoke.Request{Action: req.Action, Args: req.Args, Env: req.Env})
}

// Subscribe opens an event subscription on the current container,
// replacing any previous one. The watch outlives ctx and ends with Stop,
// Close or the container's death, which is reported in the subscribe room.
func (s *Session) Subscribe(ctx context.Context, req SubscribeRequest) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.HealthCheck(ctx)
	s.emit(ctx, Notification{Room: RoomSubscribe, Status: true, Notif: fmt.Sprintf("Subscribing to event: `%s`", req.Event)})

	mgr, inv, env := s.current()
	if mgr == nil {
		s.emit(ctx, Notification{Room: RoomSubscribe, Status: false, Notif: fmt.Sprintf("Failed subscribing to event %s: %v", req.Event, ErrNoContainer)})
		return ErrNoContainer
	}
	if req.Env == nil {
		req.Env = env
	}

	subscriber := subscribe.New(inv, mgr,
		subscribe.WithClock(s.clock), subscribe.WithInterval(s.interval),
		subscribe.WithLogger(s.logger), subscribe.WithMetrics(s.metrics))
	sub, err := subscriber.Subscribe(s.ctx, subscribe.Request{Action: req.Action, Event: req.Event, Args: req.Args, Env: req.Env})
	if err != nil {
		cause, stderr := err, ""
		var se *subscribe.SubscribeError
		if errors.As(err, &se) {
			cause, stderr = se.Cause, se.Stderr
		}
		s.emit(ctx, Notification{Room: RoomSubscribe, Status: false, Notif: fmt.Sprintf("Failed subscribing to event %s: %v", req.Event, cause), Log: stderr})
		return err
	}

	s.mu.Lock()
	prev := s.sub
	s.sub = sub
	s.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	s.emit(ctx, Notification{
		Room:   RoomSubscribe,
		Status: true,
		Notif:  fmt.Sprintf("Subscribed to event: `%s` data will be posted to this terminal window when appropriate", req.Event),
	})
	go s.forward(sub)
	return nil
}

func (s *Session) forward(sub *subscribe.Subscription) {
	for n := range sub.Notifications() {
		s.emit(s.ctx, Notification{Room: RoomSubscribe, Status: n.Status, Notif: n.Notif, Log: n.Log})
	}
}

// Inspect reports the engine's view of the container.
func (s *Session) Inspect(ctx context.Context) error {
	mgr, _, _ := s.current()
	if mgr == nil {
		s.emit(ctx, Notification{Room: RoomInspect, Status: false, Notif: "Container not running"})
		return ErrNoContainer
	}
	res, err := mgr.Inspect(ctx)
	if err != nil {
		s.emit(ctx, Notification{Room: RoomInspect, Status: false, Notif: err.Error()})
		return err
	}
	s.emit(ctx, Notification{Room: RoomInspect, Status: true, Notif: "Docker inspected", Log: res.Raw})
	return nil
}

// Stats reports a resource usage snapshot of the container.
func (s *Session) Stats(ctx context.Context) error {
	mgr, _, _ := s.current()
	if mgr == nil {
		s.emit(ctx, Notification{Room: RoomStats, Status: false, Notif: "Container not running"})
		return ErrNoContainer
	}
	stats, err := mgr.Stats(ctx)
	if err != nil {
		s.emit(ctx, Notification{Room: RoomStats, Status: false, Notif: err.Error()})
		return err
	}
	s.emit(ctx, Notification{Room: RoomStats, Status: true, Notif: "Container stats", Log: stats})
	return nil
}

// Logs reports the output the container has produced so far.
func (s *Session) Logs(ctx context.Context) error {
	mgr, _, _ := s.current()
	if mgr == nil {
		s.emit(ctx, Notification{Room: RoomLogs, Status: false, Notif: "Container not running"})
		return ErrNoContainer
	}
	logs, err := mgr.Logs(ctx)
	if err != nil {
		s.emit(ctx, Notification{Room: RoomLogs, Status: false, Notif: err.Error()})
		return err
	}
	s.emit(ctx, Notification{Room: RoomLogs, Status: true, Notif: "Docker logs", Log: logs.Stdout + logs.Stderr})
	return nil
}

// SetRebuildEnabled turns Rebuild on or off.
func (s *Session) SetRebuildEnabled(ctx context.Context, enabled bool) {
	s.mu.Lock()
	s.rebuildEnabled = enabled
	s.mu.Unlock()

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	s.emit(ctx, Notification{Room: RoomRebuildToggle, Status: enabled, Notif: "Rebuild on change " + state})
}

// Rebuild reloads the manifest, stops the container and builds the image
// again. When a container was started before, a new one is started from
// the fresh image with the same environment. A nil req reuses the
// remembered requests. changed names the file that triggered the rebuild
// and may be empty. Rebuild does nothing while rebuilds are disabled.
func (s *Session) Rebuild(ctx context.Context, changed string, req *RebuildRequest) error {
	if !s.RebuildEnabled() {
		s.logger.Debug("rebuild skipped", "changed", changed)
		return nil
	}
	if changed != "" {
		msg := filepath.Base(changed) + " changed. Rebuilding."
		s.logger.Info(msg)
		s.emit(ctx, Notification{Room: RoomRebuild, Status: true, Notif: msg})
	}
	// A broken manifest keeps the previous one; the error is already reported.
	_ = s.SendManifest(ctx)

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if _, err := s.stop(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if req != nil {
		s.lastBuild = req.Build
		if req.Start != nil {
			start := *req.Start
			s.lastStart = &start
		}
	}
	build, lastStart := s.lastBuild, s.lastStart
	s.mu.Unlock()

	tag, err := s.build(ctx, build)
	if err != nil {
		return err
	}
	if lastStart == nil {
		return nil
	}
	start := *lastStart
	start.Image = tag
	_, err = s.start(ctx, start)
	return err
}

// Close stops the container and ends every background watch.
func (s *Session) Close(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	_, err := s.stop(ctx)
	s.closeOnce.Do(s.cancel)
	return err
}

func (s *Session) current() (*lifecycle.Manager, *invoke.Engine, map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mgr, s.inv, s.startEnv
}

// emit delivers n unless ctx is done or the session is closed.
func (s *Session) emit(ctx context.Context, n Notification) {
	n.Time = time.Now()
	if s.ctx.Err() != nil {
		return
	}
	select {
	case s.out <- n:
	case <-ctx.Done():
		s.logger.Debug("notification dropped", "room", n.Room, "reason", ctx.Err())
	case <-s.ctx.Done():
	}
}

// manifestJSON renders a YAML manifest as indented JSON, or returns it
// unchanged when it cannot be represented as JSON.
func manifestJSON(data []byte) string {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return string(data)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return string(data)
	}
	return strings.TrimSpace(string(out))
}
