// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/syntax"

	"github.com/invowk/msrun/internal/invoke"
)

type execFlags struct {
	serviceFlags
	dryRun bool
	raw    bool
}

func newExecCommand(app *App, flags *rootFlagValues) *cobra.Command {
	ef := &execFlags{}
	cmd := &cobra.Command{
		Use:   "exec <action> [key=value...]",
		Short: "Run one action in a fresh container",
		Long: `Run one action in a fresh container.

The image is built unless --image is given, the container is started with the
supplied environment, the action is invoked once and the container is stopped.
Typed output is printed as JSON.`,
		Example: `  msrun exec greet name=world
  msrun exec tom 'bar={"foo":"bar"}' foo=3
  msrun exec steve -e TOKEN=secret --image 3f0c...`,
		Args: cobra.MinimumNArgs(1),
		RunE: app.withReport(flags, func(cmd *cobra.Command, args []string) error {
			return runExec(cmd.Context(), app, flags, ef, args[0], args[1:])
		}),
	}
	ef.register(cmd)
	cmd.Flags().BoolVar(&ef.dryRun, "dry-run", false, "print the command that would run without starting a container")
	cmd.Flags().BoolVar(&ef.raw, "raw", false, "print the raw output even for typed actions")
	return cmd
}

func runExec(ctx context.Context, app *App, flags *rootFlagValues, ef *execFlags, action string, positional []string) error {
	rc, err := app.prepare(ctx, flags)
	if err != nil {
		return err
	}
	mf, err := rc.loadManifest()
	if err != nil {
		return err
	}
	args, env, err := ef.parse(positional)
	if err != nil {
		return err
	}
	req := invoke.Request{Action: action, Args: args, Env: env}

	// Reconcile before any build or container work.
	argv, err := invoke.New(mf, nil, invoke.WithTypeSystem(rc.cfg.TypeSystem())).DryRun(req)
	if err != nil {
		return err
	}
	if ef.dryRun {
		fmt.Fprintln(app.stdout, quoteCommand(argv))
		return nil
	}

	svc, err := rc.startService(ctx, mf, ef.image, env)
	if err != nil {
		return err
	}
	defer svc.stop()

	rc.progress(ArrowStyle(), "Running action: `%s`", action)
	res, err := svc.inv.Exec(ctx, req)
	if err != nil {
		var failure *invoke.ExecutionFailureError
		if errors.As(err, &failure) {
			if failure.Stderr != "" {
				fmt.Fprintln(app.stderr, strings.TrimSpace(failure.Stderr))
			}
			if failure.ExitCode > 0 {
				return &ExitError{Code: failure.ExitCode, Err: err}
			}
		}
		return err
	}
	return printResult(app.stdout, res, ef.raw)
}

// printResult prints typed values as indented JSON and everything else raw.
func printResult(w io.Writer, res *invoke.Result, raw bool) error {
	if raw || !res.Typed {
		_, err := fmt.Fprintln(w, res.Raw)
		return err
	}
	if s, ok := res.Value.(string); ok {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	out, err := json.MarshalIndent(res.Value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// quoteCommand renders argv so it can be pasted into a shell.
func quoteCommand(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		q, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			q = fmt.Sprintf("%q", arg)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " ")
}
