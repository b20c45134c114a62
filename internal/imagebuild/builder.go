// SPDX-License-Identifier: MPL-2.0

package imagebuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/issue"
	"github.com/invowk/msrun/internal/metrics"
)

const (
	// DefaultDockerfile is the file looked up in the source directory.
	DefaultDockerfile = "Dockerfile"

	// DefaultAttempts bounds how many times a transient build failure is retried.
	DefaultAttempts = 3

	// DefaultBackoff is the pause before the first retry.
	DefaultBackoff = 2 * time.Second
)

// ErrDockerfileNotFound is returned when the source directory has no Dockerfile.
var ErrDockerfileNotFound = errors.New("dockerfile not found")

type (
	// Engine is the part of container.Engine a Builder needs.
	Engine interface {
		Name() string
		Build(ctx context.Context, opts container.BuildOptions) error
		ImageExists(ctx context.Context, image container.ImageTag) (bool, error)
	}

	// Request describes one build.
	Request struct {
		// Dir is the build context. Empty means the working directory.
		Dir string
		// Name tags the image. Empty means a fresh lowercase UUID.
		Name container.ImageTag
		// NoCache disables the engine's layer cache.
		NoCache bool
		// Output receives the engine's build output.
		Output io.Writer
	}

	// Option configures a Builder.
	Option func(*Builder)

	// Builder runs image builds through a container engine.
	Builder struct {
		engine   Engine
		logger   *log.Logger
		metrics  *metrics.Metrics
		attempts int
		backoff  time.Duration
		newTag   func() string
	}
)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Builder) {
		b.logger = l.WithPrefix("build")
	}
}

// WithMetrics records build outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) {
		b.metrics = m
	}
}

// WithRetry sets how often a transient failure is retried and the first pause.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(b *Builder) {
		if attempts > 0 {
			b.attempts = attempts
		}
		if backoff > 0 {
			b.backoff = backoff
		}
	}
}

// WithTagFunc replaces the generator of default image names.
func WithTagFunc(fn func() string) Option {
	return func(b *Builder) {
		b.newTag = fn
	}
}

// New creates a Builder over engine.
func New(engine Engine, opts ...Option) *Builder {
	b := &Builder{
		engine:   engine,
		logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "build", Level: log.WarnLevel}),
		attempts: DefaultAttempts,
		backoff:  DefaultBackoff,
		newTag:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build builds sourceDir under a generated tag.
func (b *Builder) Build(ctx context.Context, sourceDir string) (container.ImageTag, error) {
	return b.BuildRequest(ctx, Request{Dir: sourceDir})
}

// BuildRequest builds the image described by req and returns its tag.
// Failures the engine reports as transient are retried with backoff.
func (b *Builder) BuildRequest(ctx context.Context, req Request) (container.ImageTag, error) {
	dir := req.Dir
	if dir == "" {
		dir = "."
	}
	dockerfile := filepath.Join(dir, DefaultDockerfile)
	if _, err := os.Stat(dockerfile); err != nil {
		b.metrics.ObserveBuild(metrics.OutcomeInvalid)
		return "", issue.NewErrorContext().
			WithOperation("build image").
			WithResource(dockerfile).
			WithIssue(issue.DockerfileNotFoundId).
			WithSuggestion("Add a Dockerfile next to microservice.yml").
			Wrap(fmt.Errorf("%w: %w", ErrDockerfileNotFound, err)).
			BuildError()
	}

	tag := req.Name
	if tag == "" {
		tag = container.ImageTag(strings.ToLower(b.newTag()))
	}
	if err := tag.Validate(); err != nil {
		b.metrics.ObserveBuild(metrics.OutcomeInvalid)
		return "", err
	}

	opts := container.BuildOptions{ContextDir: dir, Tag: tag, NoCache: req.NoCache, Stdout: req.Output, Stderr: req.Output}
	b.logger.Info("building image", "engine", b.engine.Name(), "dir", dir, "tag", tag)
	start := time.Now()
	err := container.RetryWithBackoff(ctx, b.attempts, b.backoff, func(attempt int) (bool, error) {
		err := b.engine.Build(ctx, opts)
		if err != nil && container.IsTransientError(err) {
			b.logger.Warn("transient build failure", "attempt", attempt+1, "error", err)
			return true, err
		}
		return false, err
	})
	b.metrics.ObserveBuild(metrics.Outcome(err))
	if err != nil {
		return "", err
	}
	b.logger.Info("built image", "tag", tag, "elapsed", time.Since(start).Round(time.Millisecond))
	return tag, nil
}

// ImageExists reports whether tag is present in the engine's local store.
func (b *Builder) ImageExists(ctx context.Context, tag container.ImageTag) (bool, error) {
	if err := tag.Validate(); err != nil {
		return false, err
	}
	return b.engine.ImageExists(ctx, tag)
}
