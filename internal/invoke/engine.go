// SPDX-License-Identifier: MPL-2.0

package invoke

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/lifecycle"
	"github.com/invowk/msrun/internal/metrics"
	"github.com/invowk/msrun/internal/typesys"
	"github.com/invowk/msrun/pkg/manifest"
)

type (
	// Instance runs commands in the microservice container.
	// *lifecycle.Manager satisfies it.
	Instance interface {
		Exec(ctx context.Context, command []string) (*container.ExecResult, error)
	}

	// Request names an action (and optionally one of its events) together
	// with the raw, possibly partial, arguments and environment.
	Request struct {
		Action string
		Event  string
		Args   map[string]string
		Env    map[string]string
	}

	// Result is the outcome of a successful invocation.
	Result struct {
		Action  string
		Command []string
		// Raw is stdout with surrounding whitespace trimmed.
		Raw string
		// Value is the cast output when Typed, otherwise Raw.
		Value any
		Typed bool
		Type  typesys.Kind
	}

	// Option configures an Engine.
	Option func(*Engine)

	// Engine invokes manifest actions in a running instance. Invocations
	// against one Engine are serialized.
	Engine struct {
		manifest   *manifest.Manifest
		instance   Instance
		types      *typesys.System
		reconciler *manifest.Reconciler
		logger     *log.Logger
		metrics    *metrics.Metrics

		mu sync.Mutex
	}

	target struct {
		name    string
		command manifest.Command
		args    manifest.Schema
		output  *manifest.Output
	}
)

// WithTypeSystem replaces the default type system.
func WithTypeSystem(types *typesys.System) Option {
	return func(e *Engine) {
		e.types = types
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		e.logger = l.WithPrefix("invoke")
	}
}

// WithMetrics records invocations on the given instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine for the validated manifest mf running in inst.
func New(mf *manifest.Manifest, inst Instance, opts ...Option) *Engine {
	e := &Engine{
		manifest: mf,
		instance: inst,
		types:    typesys.Default(),
		logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "invoke", Level: log.WarnLevel}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.reconciler = manifest.NewReconciler(e.types)
	return e
}

// Manifest returns the manifest the engine invokes.
func (e *Engine) Manifest() *manifest.Manifest { return e.manifest }

// Environment reconciles supplied environment variables and renders them
// as NAME=value entries for container creation.
func (e *Engine) Environment(supplied map[string]string) ([]string, error) {
	merged, err := e.reconcileEnvironment(supplied)
	if err != nil {
		return nil, err
	}
	return manifest.EnvironmentList(e.manifest.Environment, merged), nil
}

// DryRun validates req and returns the command Exec would run, without
// touching the container.
func (e *Engine) DryRun(req Request) ([]string, error) {
	_, argv, err := e.prepare(req)
	return argv, err
}

// Exec runs one invocation. Validation failures happen before any
// container interaction. A non-zero exit is an *ExecutionFailureError and
// is never retried.
func (e *Engine) Exec(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := e.exec(ctx, req)

	outcome := metrics.Outcome(err)
	var failure *ExecutionFailureError
	if err != nil && !errors.As(err, &failure) {
		outcome = metrics.OutcomeInvalid
	}
	e.metrics.ObserveInvocation(req.Action, outcome, time.Since(start))
	return res, err
}

func (e *Engine) exec(ctx context.Context, req Request) (*Result, error) {
	t, argv, err := e.prepare(req)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Debug("invoking", "action", t.name, "command", manifest.Command(argv).String())
	out, err := e.instance.Exec(ctx, argv)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotRunning) {
			return nil, err
		}
		return nil, &ExecutionFailureError{Action: t.name, ExitCode: -1, Cause: err}
	}
	if out.ExitCode != 0 {
		return nil, &ExecutionFailureError{Action: t.name, ExitCode: out.ExitCode, Stderr: out.Stderr}
	}

	raw := strings.TrimSpace(out.Stdout)
	res := &Result{Action: t.name, Command: argv, Raw: raw, Value: raw}
	if t.output == nil || t.output.Type == "" {
		return res, nil
	}

	res.Typed, res.Type = true, t.output.Type
	if !e.types.Validate(t.output.Type, raw) {
		return nil, &OutputTypeError{Action: t.name, Type: t.output.Type, Raw: raw}
	}
	if res.Value, err = e.types.Cast(t.output.Type, raw); err != nil {
		return nil, &OutputTypeError{Action: t.name, Type: t.output.Type, Raw: raw}
	}
	return res, nil
}

// prepare resolves, reconciles and composes. Arguments are reconciled
// before the environment.
func (e *Engine) prepare(req Request) (*target, []string, error) {
	t, err := e.resolve(req.Action, req.Event)
	if err != nil {
		return nil, nil, err
	}
	args, err := e.reconciler.Reconcile(manifest.ScopeArguments, t.args, req.Args)
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.reconcileEnvironment(req.Env); err != nil {
		return nil, nil, err
	}
	argv, err := Compose(t.command, t.args, args)
	if err != nil {
		return nil, nil, err
	}
	return t, argv, nil
}

func (e *Engine) reconcileEnvironment(supplied map[string]string) (map[string]any, error) {
	schema := e.manifest.Environment
	return e.reconciler.Reconcile(manifest.ScopeEnvironment, schema, manifest.MatchEnvironmentCase(schema, supplied))
}

func (e *Engine) resolve(action, event string) (*target, error) {
	a, err := e.manifest.Action(action)
	if err != nil {
		return nil, err
	}
	if event == "" {
		return &target{name: a.Name, command: a.Format.Command, args: a.Arguments, output: a.Output}, nil
	}
	ev, ok := a.Event(event)
	if !ok {
		return nil, &EventNotFoundError{Action: a.Name, Event: event, Available: slices.Clone(a.EventOrder)}
	}
	return &target{name: a.Name + "." + ev.Name, command: ev.Format.Command, args: ev.Arguments, output: ev.Output}, nil
}
