// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/imagebuild"
	"github.com/invowk/msrun/internal/subscribe"
	fixtures "github.com/invowk/msrun/internal/testutil"
)

const serviceManifest = `omg: 1
environment:
  TOKEN:
    type: string
    required: true
expose:
  web:
    http:
      port: 8080
actions:
  greet:
    format:
      command: greet.sh
    arguments:
      name:
        type: string
        default: world
    output:
      type: string
  listen:
    events:
      message:
        format:
          command: listen.sh
`

const waitTimeout = 2 * time.Second

type fixedPort struct {
	mu   sync.Mutex
	next container.NetworkPort
}

func (p *fixedPort) GetOpenPort(context.Context) (container.NetworkPort, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	port := p.next
	p.next++
	return port, nil
}

type harness struct {
	s      *Session
	engine *fixtures.FakeEngine
	clock  *fixtures.FakeClock
	dir    string
}

func newHarness(t *testing.T, yaml string) *harness {
	t.Helper()
	dir := fixtures.WriteServiceDir(t, yaml)
	engine := fixtures.NewFakeEngine()
	clock := fixtures.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tags := 0
	builder := imagebuild.New(engine, imagebuild.WithTagFunc(func() string {
		tags++
		return "img-" + strings.Repeat("a", tags)
	}))
	s := New(engine, dir, WithBuilder(builder), WithPortFinder(&fixedPort{next: 4000}), WithClock(clock))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return &harness{s: s, engine: engine, clock: clock, dir: dir}
}

// drain returns every notification emitted so far.
func drain(s *Session) []Notification {
	var out []Notification
	for {
		select {
		case n := <-s.Notifications():
			out = append(out, n)
		default:
			return out
		}
	}
}

func inRoom(ns []Notification, room Room) []Notification {
	var out []Notification
	for _, n := range ns {
		if n.Room == room {
			out = append(out, n)
		}
	}
	return out
}

func notifs(ns []Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Notif
	}
	return out
}

func (h *harness) start(t *testing.T) container.ContainerID {
	t.Helper()
	id, err := h.s.Start(context.Background(), StartRequest{Env: map[string]string{"token": "secret"}})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	drain(h.s)
	return id
}

func TestBuild_StreamsLines(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	h.engine.BuildOutput = "Step 1/2 : FROM alpine\n\nStep 2/2 : COPY . .\n"

	tag, err := h.s.Build(context.Background(), BuildRequest{})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if tag != "img-a" || h.s.Image() != tag {
		t.Errorf("tag = %q, Image() = %q", tag, h.s.Image())
	}

	got := drain(h.s)
	want := []string{"Building Docker image", "Step 1/2 : FROM alpine", "Step 2/2 : COPY . .", "img-a"}
	if !slices.Equal(notifs(got), want) {
		t.Fatalf("notifications = %q, want %q", notifs(got), want)
	}
	if !got[1].Build || !got[2].Build || !got[3].Built {
		t.Errorf("build flags not set: %+v", got)
	}
}

func TestBuild_Failure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	h.engine.BuildErr = errors.New("unknown instruction: FORM")

	if _, err := h.s.Build(context.Background(), BuildRequest{Name: "svc"}); err == nil {
		t.Fatal("expected a build error")
	}
	got := drain(h.s)
	last := got[len(got)-1]
	if last.Status || !strings.HasPrefix(last.Notif, "Failed to build: ") {
		t.Errorf("last notification = %+v", last)
	}
}

func TestStart_BuildsWhenNoImage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	id, err := h.s.Start(context.Background(), StartRequest{Env: map[string]string{"token": "secret"}})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if len(h.engine.Builds()) != 1 {
		t.Errorf("builds = %d, want 1", len(h.engine.Builds()))
	}
	create := h.engine.Creates()[0]
	if create.Image != "img-a" || !slices.Equal(create.Env, []string{"TOKEN=secret"}) {
		t.Errorf("create = %+v", create)
	}

	start := inRoom(drain(h.s), RoomStart)
	if len(start) != 2 {
		t.Fatalf("start notifications = %+v", start)
	}
	if start[0].Notif != "Starting Docker container" {
		t.Errorf("first = %q", start[0].Notif)
	}
	done := start[1]
	if done.Notif != "Started Docker container: "+id.Short() || !done.Started {
		t.Errorf("second = %+v", done)
	}
	want := []container.PortMapping{{HostPort: 4000, ContainerPort: 8080}}
	if !slices.Equal(done.Ports, want) {
		t.Errorf("Ports = %v, want %v", done.Ports, want)
	}
	if inst, ok := h.s.Instance(); !ok || inst.ID != id {
		t.Errorf("Instance() = %+v, %v", inst, ok)
	}
}

func TestStart_ImageNotBuilt(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	_, err := h.s.Start(context.Background(), StartRequest{Image: "missing"})
	if !errors.Is(err, ErrImageNotBuilt) {
		t.Fatalf("error = %v, want ErrImageNotBuilt", err)
	}
	start := inRoom(drain(h.s), RoomStart)
	if len(start) != 1 || start[0].Status || start[0].Notif != "Image for microservice is not built. Run `msrun build` to build the image." {
		t.Errorf("start notifications = %+v", start)
	}
	if len(h.engine.Creates()) != 0 {
		t.Error("no container should be created")
	}
}

func TestStart_ImageLookupFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	lookupErr := errors.New("Cannot connect to the Docker daemon")
	h.engine.ImageExistsErr = lookupErr
	_, err := h.s.Start(context.Background(), StartRequest{Image: "img", Env: map[string]string{"TOKEN": "x"}})
	if !errors.Is(err, lookupErr) {
		t.Fatalf("error = %v, want the engine error", err)
	}
	if errors.Is(err, ErrImageNotBuilt) {
		t.Errorf("engine failure reported as a missing image: %v", err)
	}
	start := inRoom(drain(h.s), RoomStart)
	if len(start) != 1 || start[0].Status || !strings.Contains(start[0].Notif, "Cannot connect to the Docker daemon") {
		t.Errorf("start notifications = %+v", start)
	}
}

func TestStart_StartFailureRemovesContainer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	h.engine.StartErr = errors.New("port is already allocated")
	if _, err := h.s.Start(context.Background(), StartRequest{Env: map[string]string{"TOKEN": "x"}}); err == nil {
		t.Fatal("expected a start error")
	}
	if len(h.engine.Creates()) != 1 || len(h.engine.Removes()) != 1 {
		t.Errorf("creates = %d, removes = %d, want 1 and 1", len(h.engine.Creates()), len(h.engine.Removes()))
	}
}

func TestStart_MissingEnvironment(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	if _, err := h.s.Start(context.Background(), StartRequest{}); err == nil {
		t.Fatal("expected an environment error")
	}
	start := inRoom(drain(h.s), RoomStart)
	if len(start) != 1 || start[0].Notif != "Need to supply required environment variables: `TOKEN`" {
		t.Errorf("start notifications = %+v", start)
	}
}

func TestStart_ReplacesRunningContainer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	first := h.start(t)
	second := h.start(t)
	if first == second {
		t.Fatal("expected a new container")
	}

	res, err := h.engine.Inspect(context.Background(), first)
	if err != nil || res.Running {
		t.Errorf("first container still running: %+v, %v", res, err)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	h.engine.ExecFunc = func(cmd []string) (*container.ExecResult, error) {
		return &container.ExecResult{Stdout: "hello bob\n"}, nil
	}
	h.start(t)

	res, err := h.s.Run(context.Background(), RunRequest{Action: "greet", Args: map[string]string{"name": "bob"}})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Value != "hello bob" {
		t.Errorf("Value = %v", res.Value)
	}
	if got := h.engine.Execs()[0]; !slices.Equal(got, []string{"greet.sh", `{"name":"bob"}`}) {
		t.Errorf("exec = %q", got)
	}

	got := drain(h.s)
	if want := []string{"Health check", "Health check passed"}; !slices.Equal(notifs(inRoom(got, RoomHealthCheck)), want) {
		t.Errorf("health = %q", notifs(inRoom(got, RoomHealthCheck)))
	}
	run := inRoom(got, RoomRun)
	want := []string{"Running action: `greet`", "Ran action: `greet` with output: hello bob", "hello bob"}
	if !slices.Equal(notifs(run), want) {
		t.Fatalf("run = %q, want %q", notifs(run), want)
	}
	if run[2].Output != "hello bob" {
		t.Errorf("Output = %v", run[2].Output)
	}
}

func TestRun_WithoutContainer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	_, err := h.s.Run(context.Background(), RunRequest{Action: "greet"})
	if !errors.Is(err, ErrNoContainer) {
		t.Fatalf("error = %v, want ErrNoContainer", err)
	}
	got := drain(h.s)
	health := inRoom(got, RoomHealthCheck)
	if len(health) != 2 || health[1].Notif != "Health check failed" || health[1].Status {
		t.Errorf("health = %+v", health)
	}
	run := inRoom(got, RoomRun)
	if last := run[len(run)-1]; last.Status || last.Notif != "Failed action: `greet`: container not running" {
		t.Errorf("run = %+v", last)
	}
}

func TestSubscribe_ReportsContainerDeath(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	h.engine.LogOutput = container.LogsResult{Stderr: "fatal: lost broker"}
	id := h.start(t)

	if err := h.s.Subscribe(context.Background(), SubscribeRequest{Action: "listen", Event: "message"}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	sub := notifs(inRoom(drain(h.s), RoomSubscribe))
	want := []string{
		"Subscribing to event: `message`",
		"Subscribed to event: `message` data will be posted to this terminal window when appropriate",
	}
	if !slices.Equal(sub, want) {
		t.Fatalf("subscribe = %q, want %q", sub, want)
	}

	if !h.clock.BlockUntilWaiters(1, waitTimeout) {
		t.Fatal("subscription never polled")
	}
	h.engine.StopOutOfBand(id)
	h.clock.Advance(subscribe.DefaultInterval)

	select {
	case n := <-h.s.Notifications():
		if n.Room != RoomSubscribe || n.Status || n.Notif != "Container unexpectedly stopped" || n.Log != "fatal: lost broker" {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(waitTimeout):
		t.Fatal("no notification after the container died")
	}
}

func TestSubscribe_FailureStopsContainer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	h.engine.ExecFunc = func([]string) (*container.ExecResult, error) {
		return &container.ExecResult{ExitCode: 2, Stderr: "bad channel"}, nil
	}
	h.engine.LogOutput = container.LogsResult{Stderr: "listener crashed"}
	id := h.start(t)

	if err := h.s.Subscribe(context.Background(), SubscribeRequest{Action: "listen", Event: "message"}); err == nil {
		t.Fatal("expected a subscription error")
	}
	sub := inRoom(drain(h.s), RoomSubscribe)
	last := sub[len(sub)-1]
	if last.Status || !strings.HasPrefix(last.Notif, "Failed subscribing to event message: ") || last.Log != "listener crashed" {
		t.Errorf("last = %+v", last)
	}
	if res, _ := h.engine.Inspect(context.Background(), id); res.Running {
		t.Error("container should be stopped after a failed subscription")
	}
}

func TestContainerQueries_WithoutContainer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	ctx := context.Background()
	for _, op := range []func(context.Context) error{h.s.Inspect, h.s.Stats, h.s.Logs} {
		if err := op(ctx); !errors.Is(err, ErrNoContainer) {
			t.Errorf("error = %v, want ErrNoContainer", err)
		}
	}
	for _, n := range drain(h.s) {
		if n.Status || n.Notif != "Container not running" {
			t.Errorf("notification = %+v", n)
		}
	}
}

func TestContainerQueries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	h.engine.LogOutput = container.LogsResult{Stdout: "out\n", Stderr: "err\n"}
	h.start(t)
	ctx := context.Background()

	if err := h.s.Inspect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.s.Stats(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.s.Logs(ctx); err != nil {
		t.Fatal(err)
	}
	got := drain(h.s)
	if n := inRoom(got, RoomInspect); len(n) != 1 || n[0].Notif != "Docker inspected" || !strings.Contains(n[0].Log, "running") {
		t.Errorf("inspect = %+v", n)
	}
	if n := inRoom(got, RoomStats); len(n) != 1 || n[0].Notif != "Container stats" || n[0].Log == "" {
		t.Errorf("stats = %+v", n)
	}
	if n := inRoom(got, RoomLogs); len(n) != 1 || n[0].Log != "out\nerr\n" {
		t.Errorf("logs = %+v", n)
	}
}

func TestStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	id := h.start(t)

	got, err := h.s.Stop(context.Background())
	if err != nil || got != id {
		t.Fatalf("Stop() = %q, %v", got, err)
	}
	stop := inRoom(drain(h.s), RoomStop)
	if len(stop) != 1 || stop[0].Notif != "Stopped Docker container: "+id.String() {
		t.Errorf("stop = %+v", stop)
	}

	if _, err := h.s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error: %v", err)
	}
	if n := inRoom(drain(h.s), RoomStop); len(n) != 0 {
		t.Errorf("second Stop emitted %+v", n)
	}
}

func TestRebuild(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	h.start(t)
	ctx := context.Background()

	h.s.SetRebuildEnabled(ctx, false)
	if err := h.s.Rebuild(ctx, filepath.Join(h.dir, "main.go"), nil); err != nil {
		t.Fatal(err)
	}
	if len(h.engine.Builds()) != 1 {
		t.Fatalf("disabled rebuild built an image")
	}

	h.s.SetRebuildEnabled(ctx, true)
	drain(h.s)
	if err := h.s.Rebuild(ctx, filepath.Join(h.dir, "main.go"), nil); err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}
	if len(h.engine.Builds()) != 2 {
		t.Errorf("builds = %d, want 2", len(h.engine.Builds()))
	}
	creates := h.engine.Creates()
	if len(creates) != 2 || creates[1].Image != "img-aa" || !slices.Equal(creates[1].Env, []string{"TOKEN=secret"}) {
		t.Errorf("creates = %+v", creates)
	}

	got := drain(h.s)
	if n := inRoom(got, RoomRebuild); len(n) != 1 || n[0].Notif != "main.go changed. Rebuilding." {
		t.Errorf("rebuild = %+v", n)
	}
	if n := inRoom(got, RoomStop); len(n) != 1 {
		t.Errorf("stop = %+v", n)
	}
	if n := inRoom(got, RoomValidate); len(n) != 1 || !n[0].Status {
		t.Errorf("validate = %+v", n)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	ctx := context.Background()
	if err := h.s.Validate(ctx); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	got := drain(h.s)
	if len(got) != 2 || got[0].Room != RoomValidate || !got[0].Status || !strings.Contains(got[0].Notif, `"greet"`) {
		t.Fatalf("notifications = %+v", got)
	}
	if got[1].Room != RoomOwner {
		t.Errorf("second room = %s, want owner", got[1].Room)
	}

	if err := h.s.SaveManifest(ctx, []byte("omg: 1\nactions: 3\n")); err == nil {
		t.Fatal("expected an invalid manifest error")
	}
	data, err := os.ReadFile(filepath.Join(h.dir, "microservice.yml"))
	if err != nil || !strings.Contains(string(data), "actions: 3") {
		t.Errorf("manifest not saved: %q, %v", data, err)
	}
	if v := inRoom(drain(h.s), RoomValidate); len(v) != 1 || v[0].Status {
		t.Errorf("validate = %+v", v)
	}

	// The last valid manifest is still usable.
	h.start(t)
}

func TestSendManifest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serviceManifest)
	if err := h.s.SendManifest(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := drain(h.s)
	if got[0].Room != RoomManifest || got[0].Notif != serviceManifest {
		t.Errorf("first = %+v", got[0])
	}
}

func TestLineWriter(t *testing.T) {
	t.Parallel()

	var lines []string
	w := &lineWriter{emit: func(s string) { lines = append(lines, s) }}
	for _, chunk := range []string{"Step 1", "/2\n  \nStep 2/2\nSucc", "essfully built"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatal(err)
		}
	}
	w.Flush()
	want := []string{"Step 1/2", "Step 2/2", "Successfully built"}
	if !slices.Equal(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestWithImage(t *testing.T) {
	t.Parallel()

	s := New(fixtures.NewFakeEngine("prebuilt"), t.TempDir(), WithImage("prebuilt"))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	if s.Image() != "prebuilt" {
		t.Errorf("Image() = %q, want prebuilt", s.Image())
	}
	if _, ok := s.Instance(); ok {
		t.Error("no container should exist before Start")
	}
}
