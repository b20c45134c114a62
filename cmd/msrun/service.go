// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/imagebuild"
	"github.com/invowk/msrun/internal/invoke"
	"github.com/invowk/msrun/internal/issue"
	"github.com/invowk/msrun/internal/lifecycle"
	"github.com/invowk/msrun/pkg/manifest"
)

const (
	argsParseMessage = "Unable to parse arguments. Must be of form `key=val`"
	envParseMessage  = "Unable to parse environment variables. Must be of form `-e KEY=val`"

	stopTimeout = 30 * time.Second
)

type (
	// serviceFlags are shared by the commands that start a container.
	serviceFlags struct {
		args  []string
		env   []string
		image string
	}

	// service is a started container with an invoker bound to it.
	service struct {
		rc  *runContext
		mgr *lifecycle.Manager
		inv *invoke.Engine
	}
)

func (f *serviceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.args, "arg", "a", nil, "action argument as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&f.env, "env", "e", nil, "environment variable as KEY=value (repeatable)")
	cmd.Flags().StringVar(&f.image, "image", "", "use an already built image instead of building one")
}

// parse merges positional and flagged arguments and parses the environment.
func (f *serviceFlags) parse(positional []string) (args, env map[string]string, err error) {
	args, err = manifest.ParsePairs(append(slices.Clone(positional), f.args...), argsParseMessage)
	if err != nil {
		return nil, nil, issue.NewErrorContext().
			WithOperation("parse arguments").
			WithIssue(issue.InvalidArgumentsId).
			Wrap(err).
			BuildError()
	}
	env, err = manifest.ParsePairs(f.env, envParseMessage)
	if err != nil {
		return nil, nil, issue.NewErrorContext().
			WithOperation("parse environment variables").
			WithIssue(issue.InvalidEnvironmentId).
			Wrap(err).
			BuildError()
	}
	return args, env, nil
}

// progress writes a status line to stderr, keeping stdout for results.
func (rc *runContext) progress(symbol string, format string, a ...any) {
	fmt.Fprintf(rc.app.stderr, "%s %s\n", symbol, fmt.Sprintf(format, a...))
}

// build builds the service image.
func (rc *runContext) build(ctx context.Context, engine container.Engine, req imagebuild.Request) (container.ImageTag, error) {
	if req.Dir == "" {
		req.Dir = rc.dir
	}
	if rc.verbose && req.Output == nil {
		req.Output = rc.app.stderr
	}
	b := imagebuild.New(engine, imagebuild.WithLogger(rc.logger))

	rc.progress(ArrowStyle(), "Building Docker image")
	tag, err := b.BuildRequest(ctx, req)
	if err != nil {
		if issue.IssueOf(err) != nil {
			return "", err
		}
		return "", issue.NewErrorContext().
			WithOperation("build image").
			WithResource(req.Dir).
			WithIssue(issue.ImageBuildFailedId).
			Wrap(err).
			BuildError()
	}
	rc.progress(SuccessStyle.Render(check), "Built Docker image with name: %s", CmdStyle.Render(tag.String()))
	return tag, nil
}

// startService builds (unless image is given) and starts the container.
func (rc *runContext) startService(ctx context.Context, mf *manifest.Manifest, image string, env map[string]string) (*service, error) {
	engine, err := rc.engine()
	if err != nil {
		return nil, err
	}

	tag := container.ImageTag(image)
	if tag == "" {
		if tag, err = rc.build(ctx, engine, imagebuild.Request{}); err != nil {
			return nil, err
		}
	} else if ok, err := imagebuild.New(engine).ImageExists(ctx, tag); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("look up image").
			WithResource(image).
			Wrap(err).
			BuildError()
	} else if !ok {
		return nil, issue.NewErrorContext().
			WithOperation("start container").
			WithResource(image).
			WithSuggestion("Run `msrun build` to build the image").
			Wrap(fmt.Errorf("image for microservice is not built: %s", image)).
			BuildError()
	}

	mgr := lifecycle.New(engine, tag, mf,
		lifecycle.WithLogger(rc.logger),
		lifecycle.WithPortFinder(rc.cfg.PortAllocator()),
	)
	inv := invoke.New(mf, mgr, invoke.WithTypeSystem(rc.cfg.TypeSystem()), invoke.WithLogger(rc.logger))

	envList, err := inv.Environment(env)
	if err != nil {
		return nil, err
	}
	id, err := mgr.StartService(ctx, envList)
	if err != nil {
		if id != "" {
			(&service{rc: rc, mgr: mgr}).stop()
		}
		return nil, err
	}
	rc.progress(SuccessStyle.Render(check), "Started Docker container: %s", CmdStyle.Render(id.Short()))
	for _, b := range mgr.PortBindings() {
		rc.progress(ArrowStyle(), "Port %s", container.FormatPortMapping(b))
	}
	return &service{rc: rc, mgr: mgr, inv: inv}, nil
}

// stop kills the container. It runs after the command context may already
// be cancelled.
func (s *service) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	id, err := s.mgr.Stop(ctx)
	if err != nil {
		s.rc.logger.Warn("failed to stop container", "error", err)
		return
	}
	if id != "" {
		s.rc.progress(SuccessStyle.Render(check), "Stopped Docker container: %s", CmdStyle.Render(id.Short()))
	}
}
