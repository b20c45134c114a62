// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/msrun/internal/config"
)

func newConfigCommand(app *App, flags *rootFlagValues) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize msrun configuration",
		Long: `Inspect and initialize the msrun configuration file.

Values are layered from built-in defaults, the CUE config file and
MSRUN_* environment variables (for example MSRUN_CONTAINER_ENGINE or
MSRUN_SUBSCRIBE_POLL_INTERVAL), in increasing precedence.`,
	}
	cmd.AddCommand(
		newConfigShowCommand(app, flags),
		newConfigPathCommand(app, flags),
		newConfigInitCommand(app, flags),
		newConfigDumpCommand(app, flags),
	)
	return cmd
}

func newConfigShowCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: app.withReport(flags, func(cmd *cobra.Command, _ []string) error {
			rc, err := app.prepare(cmd.Context(), flags)
			if err != nil {
				return err
			}
			cfg := rc.cfg
			w := app.stdout
			fmt.Fprintln(w, TitleStyle.Render("msrun configuration"))
			fmt.Fprintln(w)
			row := func(k string, v any) { fmt.Fprintf(w, "  %s %v\n", KeyStyle.Render(k+":"), v) }
			row("container_engine", cfg.ContainerEngine)
			row("ui.verbose", cfg.UI.Verbose)
			row("ui.color_scheme", cfg.UI.ColorScheme)
			row("ui.listen", cfg.ListenAddress())
			row("subscribe.poll_interval", cfg.Subscribe.PollInterval)
			row("ports", fmt.Sprintf("%d-%d (%d attempts)", cfg.Ports.Min, cfg.Ports.Max, cfg.Ports.MaxAttempts))
			row("types.path_mode", cfg.Types.PathMode)
			row("watch.patterns", cfg.Watch.Patterns)
			row("watch.ignore", cfg.Watch.Ignore)
			row("watch.debounce", cfg.Watch.Debounce)
			return nil
		}),
	}
}

func newConfigPathCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: app.withReport(flags, func(_ *cobra.Command, _ []string) error {
			path, err := config.ConfigPath(config.LoadOptions{ConfigFilePath: flags.configPath})
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		}),
	}
}

func newConfigInitCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config file if none exists",
		Args:  cobra.NoArgs,
		RunE: app.withReport(flags, func(_ *cobra.Command, _ []string) error {
			path, created, err := config.Init(config.LoadOptions{ConfigFilePath: flags.configPath})
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(app.stdout, "%s Config file already exists: %s\n", WarningStyle.Render("!"), path)
				return nil
			}
			fmt.Fprintf(app.stdout, "%s Created %s\n", PassStyle(), path)
			return nil
		}),
	}
}

func newConfigDumpCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: app.withReport(flags, func(cmd *cobra.Command, _ []string) error {
			rc, err := app.prepare(cmd.Context(), flags)
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(rc.cfg))
			return nil
		}),
	}
}
