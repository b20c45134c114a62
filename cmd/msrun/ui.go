// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/metrics"
	"github.com/invowk/msrun/internal/session"
	"github.com/invowk/msrun/internal/uiserver"
	"github.com/invowk/msrun/internal/watch"
)

type uiFlags struct {
	addr    string
	image   string
	watch   bool
	origins []string
}

func newUICommand(app *App, flags *rootFlagValues) *cobra.Command {
	uf := &uiFlags{}
	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Serve the interactive session API",
		Long: `Serve the interactive session API over HTTP.

Clients POST operations to /api/{room} (build, start, stop, run, subscribe,
inspect, dockerLogs, container-stats, rebuild, ...) and follow progress on the
server-sent event stream at /api/events. Requests need the printed token as a
bearer token or ?token= query parameter. With --watch, source changes rebuild
the image and restart the container.`,
		Example: `  msrun ui
  msrun ui --addr 127.0.0.1:9090 --watch`,
		Args: cobra.NoArgs,
		RunE: app.withReport(flags, func(cmd *cobra.Command, _ []string) error {
			return runUI(cmd.Context(), app, flags, uf)
		}),
	}
	cmd.Flags().StringVar(&uf.addr, "addr", "", "listen address (default from config ui.listen_addr and ui.listen_port)")
	cmd.Flags().StringVar(&uf.image, "image", "", "report an already built image before the first build")
	cmd.Flags().BoolVar(&uf.watch, "watch", false, "rebuild and restart when source files change")
	cmd.Flags().StringSliceVar(&uf.origins, "allow-origin", nil, "browser origins allowed by CORS")
	return cmd
}

func runUI(ctx context.Context, app *App, flags *rootFlagValues, uf *uiFlags) error {
	rc, err := app.prepare(ctx, flags)
	if err != nil {
		return err
	}
	engine, err := rc.engine()
	if err != nil {
		return err
	}

	mt := metrics.New()
	opts := []session.Option{
		session.WithLogger(rc.logger),
		session.WithMetrics(mt),
		session.WithTypeSystem(rc.cfg.TypeSystem()),
		session.WithPortFinder(rc.cfg.PortAllocator()),
		session.WithManifestPath(rc.manifestPath),
		session.WithPollInterval(rc.cfg.Subscribe.PollInterval),
	}
	if uf.image != "" {
		opts = append(opts, session.WithImage(container.ImageTag(uf.image)))
	}
	sess := session.New(engine, rc.dir, opts...)
	defer func() {
		if err := sess.Close(context.Background()); err != nil {
			rc.logger.Warn("failed to close session", "error", err)
		}
	}()

	addr := uf.addr
	if addr == "" {
		addr = rc.cfg.ListenAddress()
	}
	srvOpts := []uiserver.Option{
		uiserver.WithAddr(addr),
		uiserver.WithLogger(rc.logger),
		uiserver.WithMetrics(mt),
	}
	if len(uf.origins) > 0 {
		srvOpts = append(srvOpts, uiserver.WithAllowedOrigins(uf.origins...))
	}
	srv, err := uiserver.New(sess, srvOpts...)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			rc.logger.Warn("failed to stop UI server", "error", err)
		}
	}()

	rc.progress(SuccessStyle.Render(check), "msrun UI listening on %s", CmdStyle.Render(srv.URL()))
	fmt.Fprintf(app.stdout, "%s %s\n", KeyStyle.Render("Events:"), srv.URL()+"/api/events?token="+srv.Token())
	fmt.Fprintf(app.stdout, "%s %s\n", KeyStyle.Render("Token:"), srv.Token())

	watchErr := make(chan error, 1)
	if uf.watch {
		w, err := watch.New(watch.Config{
			Dir:      rc.dir,
			Patterns: rc.cfg.Watch.Patterns,
			Ignore:   rc.cfg.Watch.Ignore,
			Debounce: rc.cfg.Watch.Debounce,
		}, watch.RebuildOnChange(sess, rc.dir), watch.WithLogger(rc.logger))
		if err != nil {
			return err
		}
		go func() { watchErr <- w.Run(ctx) }()
		rc.progress(ArrowStyle(), "Watching %s for changes", rc.dir)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-srv.Err():
		return err
	case err := <-watchErr:
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		return nil
	}
}
