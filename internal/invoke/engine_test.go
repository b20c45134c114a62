// SPDX-License-Identifier: MPL-2.0

package invoke

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/lifecycle"
	"github.com/invowk/msrun/internal/metrics"
	"github.com/invowk/msrun/internal/typesys"
	fixtures "github.com/invowk/msrun/internal/testutil"
	"github.com/invowk/msrun/pkg/manifest"
)

const serviceManifest = `omg: 1
environment:
  BOB_TOKEN:
    type: string
    default: BOBBY
actions:
  steve:
    format:
      command: steve.sh
    output:
      type: string
    arguments:
      foo:
        type: int
        default: 3
      bar:
        type: map
        default:
          foo: bar
  tom:
    format:
      command: tom.sh
    arguments:
      foo:
        type: string
        required: true
  test:
    format:
      command: test.sh
    output:
      type: string
  count:
    format:
      command: ["count.sh", "--json"]
    output:
      type: object
  listen:
    events:
      message:
        format:
          command: listen.sh
        arguments:
          channel:
            type: string
            required: true
`

// startedEngine returns an invoke engine over a running fake container.
func startedEngine(t *testing.T, yaml string, opts ...Option) (*Engine, *fixtures.FakeEngine, *lifecycle.Manager) {
	t.Helper()
	mf := fixtures.MustParseManifest(t, yaml)
	fake := fixtures.NewFakeEngine("fake_docker_id")
	mgr := lifecycle.New(fake, "fake_docker_id", mf)
	e := New(mf, mgr, opts...)

	env, err := e.Environment(nil)
	if err != nil {
		t.Fatalf("Environment() error: %v", err)
	}
	if _, err := mgr.StartService(context.Background(), env); err != nil {
		t.Fatalf("StartService() error: %v", err)
	}
	return e, fake, mgr
}

func TestExec_DefaultsComposeTrailingJSON(t *testing.T) {
	t.Parallel()

	e, fake, _ := startedEngine(t, serviceManifest)
	res, err := e.Exec(context.Background(), Request{Action: "steve"})
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}

	want := []string{"steve.sh", `{"foo":3,"bar":{"foo":"bar"}}`}
	if execs := fake.Execs(); len(execs) != 1 || !slices.Equal(execs[0], want) {
		t.Errorf("executed %q, want %q", execs, want)
	}
	if !slices.Equal(res.Command, want) {
		t.Errorf("Result.Command = %q", res.Command)
	}
	if env := fake.Creates()[0].Env; !slices.Equal(env, []string{"BOB_TOKEN=BOBBY"}) {
		t.Errorf("container env = %v", env)
	}
}

func TestExec_MissingArgumentsNeverExecs(t *testing.T) {
	t.Parallel()

	e, fake, _ := startedEngine(t, serviceManifest)
	_, err := e.Exec(context.Background(), Request{Action: "tom"})
	if err == nil || err.Error() != "Need to supply required arguments: `foo`" {
		t.Fatalf("Exec() error = %v", err)
	}
	if !errors.Is(err, manifest.ErrMissing) {
		t.Errorf("error should wrap ErrMissing: %v", err)
	}
	if len(fake.Execs()) != 0 {
		t.Errorf("runtime exec called %d times", len(fake.Execs()))
	}
}

func TestExec_MissingEnvironmentNeverExecs(t *testing.T) {
	t.Parallel()

	const yaml = `omg: 1
environment:
  TOKEN:
    type: string
    required: true
actions:
  tom:
    format:
      command: tom.sh
    arguments:
      foo:
        type: float
        required: true
`
	mf := fixtures.MustParseManifest(t, yaml)
	fake := fixtures.NewFakeEngine("img")
	mgr := lifecycle.New(fake, "img", mf)
	if _, err := mgr.StartService(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	_, err := New(mf, mgr).Exec(context.Background(), Request{Action: "tom", Args: map[string]string{"foo": "1.1"}})
	if err == nil || err.Error() != "Need to supply required environment variables: `TOKEN`" {
		t.Fatalf("Exec() error = %v", err)
	}
	if len(fake.Execs()) != 0 {
		t.Error("runtime exec must not be called")
	}
}

func TestExec_TypeMismatch(t *testing.T) {
	t.Parallel()

	e, fake, _ := startedEngine(t, serviceManifest)
	_, err := e.Exec(context.Background(), Request{Action: "steve", Args: map[string]string{"foo": "three"}})
	var tm *manifest.TypeMismatchError
	if !errors.As(err, &tm) || tm.Name != "foo" {
		t.Fatalf("Exec() error = %v, want TypeMismatchError for foo", err)
	}
	if len(fake.Execs()) != 0 {
		t.Error("runtime exec must not be called")
	}
}

func TestExec_RawOutputTrimmed(t *testing.T) {
	t.Parallel()

	e, fake, _ := startedEngine(t, serviceManifest)
	fake.ExecFunc = func([]string) (*container.ExecResult, error) {
		return &container.ExecResult{Stdout: "  hello world\n"}, nil
	}

	res, err := e.Exec(context.Background(), Request{Action: "test"})
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if res.Raw != "hello world" || res.Value != "hello world" || !res.Typed || res.Type != typesys.KindString {
		t.Errorf("Exec() = %+v", res)
	}
	if execs := fake.Execs(); !slices.Equal(execs[0], []string{"test.sh"}) {
		t.Errorf("executed %q, want [test.sh] with no trailing token", execs[0])
	}
}

func TestExec_TypedOutput(t *testing.T) {
	t.Parallel()

	e, fake, _ := startedEngine(t, serviceManifest)
	fake.ExecFunc = func([]string) (*container.ExecResult, error) {
		return &container.ExecResult{Stdout: `{"count":2,"tags":["a"]}`}, nil
	}

	res, err := e.Exec(context.Background(), Request{Action: "count"})
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	want := map[string]any{"count": float64(2), "tags": []any{"a"}}
	if !reflect.DeepEqual(res.Value, want) {
		t.Errorf("Value = %#v, want %#v", res.Value, want)
	}
	if execs := fake.Execs(); !slices.Equal(execs[0], []string{"count.sh", "--json"}) {
		t.Errorf("list command not used verbatim: %q", execs[0])
	}
}

func TestExec_OutputTypeMismatch(t *testing.T) {
	t.Parallel()

	e, fake, _ := startedEngine(t, serviceManifest)
	fake.ExecFunc = func([]string) (*container.ExecResult, error) {
		return &container.ExecResult{Stdout: "[1,2]"}, nil
	}

	_, err := e.Exec(context.Background(), Request{Action: "count"})
	var ote *OutputTypeError
	if !errors.As(err, &ote) || ote.Type != typesys.KindObject || ote.Raw != "[1,2]" {
		t.Fatalf("Exec() error = %v", err)
	}
}

func TestExec_NonZeroExit(t *testing.T) {
	t.Parallel()

	e, fake, _ := startedEngine(t, serviceManifest)
	calls := 0
	fake.ExecFunc = func([]string) (*container.ExecResult, error) {
		calls++
		return &container.ExecResult{ExitCode: 2, Stderr: "Traceback: KeyError\n"}, nil
	}

	_, err := e.Exec(context.Background(), Request{Action: "test"})
	var failure *ExecutionFailureError
	if !errors.As(err, &failure) {
		t.Fatalf("Exec() error = %v, want ExecutionFailureError", err)
	}
	if failure.ExitCode != 2 || failure.Stderr != "Traceback: KeyError\n" {
		t.Errorf("failure = %+v", failure)
	}
	if !errors.Is(err, ErrExecutionFailure) {
		t.Error("should wrap ErrExecutionFailure")
	}
	if got := err.Error(); got != `action "test" failed with exit code 2: Traceback: KeyError` {
		t.Errorf("Error() = %q", got)
	}
	if calls != 1 {
		t.Errorf("exec called %d times, failures must not be retried", calls)
	}
}

func TestExec_TransportFailure(t *testing.T) {
	t.Parallel()

	e, fake, _ := startedEngine(t, serviceManifest)
	cause := errors.New("connection reset")
	fake.ExecFunc = func([]string) (*container.ExecResult, error) { return nil, cause }

	_, err := e.Exec(context.Background(), Request{Action: "test"})
	if !errors.Is(err, ErrExecutionFailure) || !errors.Is(err, cause) {
		t.Fatalf("Exec() error = %v", err)
	}
}

func TestExec_RequiresRunningInstance(t *testing.T) {
	t.Parallel()

	mf := fixtures.MustParseManifest(t, serviceManifest)
	fake := fixtures.NewFakeEngine("img")
	e := New(mf, lifecycle.New(fake, "img", mf))

	_, err := e.Exec(context.Background(), Request{Action: "test"})
	if !errors.Is(err, lifecycle.ErrNotRunning) {
		t.Fatalf("Exec() error = %v, want ErrNotRunning", err)
	}
	if errors.Is(err, ErrExecutionFailure) {
		t.Error("a stopped instance is not an execution failure")
	}
	if len(fake.Creates()) != 0 {
		t.Error("Exec must not start the container")
	}
}

func TestExec_UnknownActionAndEvent(t *testing.T) {
	t.Parallel()

	e, _, _ := startedEngine(t, serviceManifest)
	if _, err := e.Exec(context.Background(), Request{Action: "nope"}); !errors.Is(err, manifest.ErrActionNotFound) {
		t.Errorf("unknown action error = %v", err)
	}
	var enf *EventNotFoundError
	_, err := e.Exec(context.Background(), Request{Action: "listen", Event: "nope"})
	if !errors.As(err, &enf) || !slices.Equal(enf.Available, []string{"message"}) {
		t.Errorf("unknown event error = %v", err)
	}
}

func TestExec_Event(t *testing.T) {
	t.Parallel()

	e, fake, _ := startedEngine(t, serviceManifest)
	res, err := e.Exec(context.Background(), Request{Action: "listen", Event: "message", Args: map[string]string{"channel": "general"}})
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if res.Action != "listen.message" {
		t.Errorf("Action = %q", res.Action)
	}
	if got := fake.Execs()[0]; !slices.Equal(got, []string{"listen.sh", `{"channel":"general"}`}) {
		t.Errorf("executed %q", got)
	}
}

func TestDryRun(t *testing.T) {
	t.Parallel()

	mf := fixtures.MustParseManifest(t, serviceManifest)
	fake := fixtures.NewFakeEngine("img")
	e := New(mf, lifecycle.New(fake, "img", mf))

	argv, err := e.DryRun(Request{Action: "steve", Args: map[string]string{"foo": "7", "bar": `{"<x>":"&"}`}})
	if err != nil {
		t.Fatalf("DryRun() error: %v", err)
	}
	if want := []string{"steve.sh", `{"foo":7,"bar":{"<x>":"&"}}`}; !slices.Equal(argv, want) {
		t.Errorf("DryRun() = %q, want %q", argv, want)
	}
	if len(fake.Execs()) != 0 || len(fake.Creates()) != 0 {
		t.Error("DryRun must not touch the runtime")
	}
}

func TestExec_Metrics(t *testing.T) {
	t.Parallel()

	mt := metrics.New()
	e, _, _ := startedEngine(t, serviceManifest, WithMetrics(mt))
	ctx := context.Background()

	_, _ = e.Exec(ctx, Request{Action: "test"})
	_, _ = e.Exec(ctx, Request{Action: "tom"})

	if got := testutil.ToFloat64(mt.Invocations.WithLabelValues("test", metrics.OutcomeSuccess)); got != 1 {
		t.Errorf("test successes = %v", got)
	}
	if got := testutil.ToFloat64(mt.Invocations.WithLabelValues("tom", metrics.OutcomeInvalid)); got != 1 {
		t.Errorf("tom invalid = %v", got)
	}
}

type overlapInstance struct {
	active, maxActive atomic.Int32
}

func (o *overlapInstance) Exec(context.Context, []string) (*container.ExecResult, error) {
	n := o.active.Add(1)
	for {
		m := o.maxActive.Load()
		if n <= m || o.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	o.active.Add(-1)
	return &container.ExecResult{Stdout: "ok"}, nil
}

func TestExec_SerializesConcurrentInvocations(t *testing.T) {
	t.Parallel()

	inst := &overlapInstance{}
	e := New(fixtures.MustParseManifest(t, serviceManifest), inst)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Exec(context.Background(), Request{Action: "test"}); err != nil {
				t.Errorf("Exec() error: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := inst.maxActive.Load(); got != 1 {
		t.Errorf("max concurrent execs = %d, want 1", got)
	}
}

func TestEnvironment_CaseInsensitive(t *testing.T) {
	t.Parallel()

	e := New(fixtures.MustParseManifest(t, serviceManifest), &overlapInstance{})
	env, err := e.Environment(map[string]string{"bob_token": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(env, []string{"BOB_TOKEN=alice"}) {
		t.Errorf("Environment() = %v", env)
	}
}
