// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/msrun/internal/invoke"
	"github.com/invowk/msrun/internal/issue"
	"github.com/invowk/msrun/internal/subscribe"
)

func newSubscribeCommand(app *App, flags *rootFlagValues) *cobra.Command {
	sf := &serviceFlags{}
	cmd := &cobra.Command{
		Use:   "subscribe <action> <event> [key=value...]",
		Short: "Subscribe to an event and wait until interrupted",
		Long: `Subscribe to an event of an action.

The container keeps running until Ctrl+C. If it stops on its own, its stderr
is printed and msrun exits non-zero.`,
		Args: cobra.MinimumNArgs(2),
		RunE: app.withReport(flags, func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd.Context(), app, flags, sf, args[0], args[1], args[2:])
		}),
	}
	sf.register(cmd)
	return cmd
}

func runSubscribe(ctx context.Context, app *App, flags *rootFlagValues, sf *serviceFlags, action, event string, positional []string) error {
	rc, err := app.prepare(ctx, flags)
	if err != nil {
		return err
	}
	mf, err := rc.loadManifest()
	if err != nil {
		return err
	}
	args, env, err := sf.parse(positional)
	if err != nil {
		return err
	}

	req := subscribe.Request{Action: action, Event: event, Args: args, Env: env}
	dry := invoke.New(mf, nil, invoke.WithTypeSystem(rc.cfg.TypeSystem()))
	if _, err := dry.DryRun(invoke.Request{Action: action, Event: event, Args: args, Env: env}); err != nil {
		return err
	}

	svc, err := rc.startService(ctx, mf, sf.image, env)
	if err != nil {
		return err
	}
	defer svc.stop()

	sub := subscribe.New(svc.inv, svc.mgr,
		subscribe.WithInterval(rc.cfg.Subscribe.PollInterval),
		subscribe.WithLogger(rc.logger),
	)
	s, err := sub.Subscribe(ctx, req)
	if err != nil {
		var subErr *subscribe.SubscribeError
		if errors.As(err, &subErr) && subErr.Stderr != "" {
			fmt.Fprintln(app.stderr, subErr.Stderr)
		}
		return err
	}
	defer s.Cancel()

	rc.progress(SuccessStyle.Render(check), "Subscribed to event: `%s`", event)
	if s.Initial != nil && s.Initial.Raw != "" {
		fmt.Fprintln(app.stdout, s.Initial.Raw)
	}

	select {
	case <-ctx.Done():
		return nil
	case n, ok := <-s.Notifications():
		if !ok {
			return nil
		}
		if n.Log != "" {
			fmt.Fprintln(app.stderr, n.Log)
		}
		return &ExitError{Code: 1, Err: issue.NewErrorContext().
			WithOperation("watch subscription").
			WithResource(action + " " + event).
			WithIssue(issue.ContainerStoppedId).
			Wrap(errors.New(n.Notif)).
			BuildError()}
	}
}
