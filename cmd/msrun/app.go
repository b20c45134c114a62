// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/invowk/msrun/internal/config"
	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/issue"
	"github.com/invowk/msrun/pkg/manifest"
)

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// EngineFactory returns the container engine to use, preferring the
	// configured one. container.NewEngine is the production factory.
	EngineFactory func(preferred container.EngineType) (container.Engine, error)

	// App wires CLI services and shared dependencies. Every command handler
	// receives it and resolves a runContext through it.
	App struct {
		Config  ConfigProvider
		Engines EngineFactory
		stdout  io.Writer
		stderr  io.Writer
		scheme  config.ColorScheme
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config  ConfigProvider
		Engines EngineFactory
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// rootFlagValues holds the persistent flags of the root command.
	rootFlagValues struct {
		dir        string
		configPath string
		manifest   string
		verbose    bool
	}

	// runContext is what a command needs after the global flags and the
	// configuration have been resolved.
	runContext struct {
		app          *App
		cfg          *config.Config
		logger       *log.Logger
		dir          string
		manifestPath string
		verbose      bool
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Engines == nil {
		deps.Engines = container.NewEngine
	}
	return &App{
		Config:  deps.Config,
		Engines: deps.Engines,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
		scheme:  config.ColorSchemeDark,
	}
}

// prepare loads the configuration and resolves the service directory and
// manifest path from the global flags.
func (a *App) prepare(ctx context.Context, flags *rootFlagValues) (*runContext, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: flags.configPath})
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("load configuration").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}
	if cfg.UI.ColorScheme == config.ColorSchemeLight {
		a.scheme = config.ColorSchemeLight
	}

	dir, err := filepath.Abs(flags.dir)
	if err != nil {
		return nil, fmt.Errorf("resolve service directory: %w", err)
	}
	mp := flags.manifest
	if mp == "" {
		mp = manifest.DefaultFileName
	}
	if !filepath.IsAbs(mp) {
		mp = filepath.Join(dir, mp)
	}

	verbose := flags.verbose || cfg.UI.Verbose
	return &runContext{
		app:          a,
		cfg:          cfg,
		logger:       newLogger(a.stderr, verbose),
		dir:          dir,
		manifestPath: mp,
		verbose:      verbose,
	}, nil
}

// newLogger builds the root logger and installs it as the slog default so
// components logging through log/slog share the sink.
func newLogger(w io.Writer, verbose bool) *log.Logger {
	level := log.WarnLevel
	if verbose {
		level = log.DebugLevel
	}
	l := log.NewWithOptions(w, log.Options{Prefix: "msrun", Level: level, ReportTimestamp: verbose})
	slog.SetDefault(slog.New(l))
	return l
}

// engine returns the configured container engine.
func (rc *runContext) engine() (container.Engine, error) {
	e, err := rc.app.Engines(rc.cfg.ContainerEngine.EngineType())
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("find a container engine").
			WithResource(rc.cfg.ContainerEngine.String()).
			WithIssue(issue.ContainerEngineNotFoundId).
			Wrap(err).
			BuildError()
	}
	rc.logger.Debug("using container engine", "engine", e.Name())
	return e, nil
}

// loadManifest parses and validates the service manifest.
func (rc *runContext) loadManifest() (*manifest.Manifest, error) {
	mf, err := manifest.Parse(rc.manifestPath)
	if err == nil {
		return mf, nil
	}
	id := issue.ManifestParseErrorId
	if errors.Is(err, fs.ErrNotExist) {
		id = issue.ManifestNotFoundId
	}
	return nil, issue.NewErrorContext().
		WithOperation("load microservice manifest").
		WithResource(rc.manifestPath).
		WithIssue(id).
		Wrap(err).
		BuildError()
}
