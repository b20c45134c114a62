// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/imagebuild"
)

func newBuildCommand(app *App, flags *rootFlagValues) *cobra.Command {
	var (
		name    string
		noCache bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the microservice image from its Dockerfile",
		Long: `Build the microservice image from the Dockerfile in --dir.

The image is tagged with a fresh lowercase UUID unless --name is given. The
tag is printed on stdout so it can be passed to --image.`,
		Args: cobra.NoArgs,
		RunE: app.withReport(flags, func(cmd *cobra.Command, _ []string) error {
			rc, err := app.prepare(cmd.Context(), flags)
			if err != nil {
				return err
			}
			engine, err := rc.engine()
			if err != nil {
				return err
			}
			tag, err := rc.build(cmd.Context(), engine, imagebuild.Request{
				Name:    container.ImageTag(name),
				NoCache: noCache,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, tag)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "image tag (default: random UUID)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "do not use the engine's layer cache")
	return cmd
}
