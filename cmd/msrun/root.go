// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/invowk/msrun/pkg/manifest"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the msrun command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlagValues{}
	root := &cobra.Command{
		Use:   "msrun",
		Short: "Build, run and exercise a containerized microservice",
		Long: TitleStyle.Render("msrun") + SubtitleStyle.Render(" - build, run and exercise a containerized microservice") + `

msrun reads the microservice.yml next to a Dockerfile, builds the image with
Docker or Podman, starts one container and invokes the actions it declares.

` + SubtitleStyle.Render("Examples:") + `
  msrun validate                     Check microservice.yml
  msrun build                        Build the image
  msrun exec greet name=world        Run the 'greet' action
  msrun subscribe listen message     Subscribe to an event
  msrun ui --watch                   Serve the interactive session API`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.dir, "dir", "d", ".", "microservice directory holding the Dockerfile and manifest")
	pf.StringVarP(&flags.manifest, "manifest", "m", manifest.DefaultFileName, "manifest path, relative to --dir")
	pf.StringVar(&flags.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/msrun/config.cue)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newBuildCommand(app, flags),
		newExecCommand(app, flags),
		newSubscribeCommand(app, flags),
		newUICommand(app, flags),
		newValidateCommand(app, flags),
		newConfigCommand(app, flags),
	)
	return root
}

func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the command tree and exits with the command's status.
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
