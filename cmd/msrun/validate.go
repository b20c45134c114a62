// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/msrun/pkg/manifest"
)

func newValidateCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Parse and validate microservice.yml",
		Long: `Parse and validate the manifest against its schema and print the
actions it declares. Without an argument the manifest in --dir is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: app.withReport(flags, func(cmd *cobra.Command, args []string) error {
			f := *flags
			if len(args) == 1 {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				f.manifest = abs
			}
			rc, err := app.prepare(cmd.Context(), &f)
			if err != nil {
				return err
			}
			mf, err := rc.loadManifest()
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s %s is valid\n\n", PassStyle(), rc.manifestPath)
			describeManifest(app.stdout, mf)
			return nil
		}),
	}
}

func describeManifest(w io.Writer, mf *manifest.Manifest) {
	if mf.Info.Title != "" {
		fmt.Fprintf(w, "%s %s\n", TitleStyle.Render(mf.Info.Title), SubtitleStyle.Render(mf.Info.Version))
	}
	if mf.HasStartup() {
		fmt.Fprintf(w, "%s %s\n", KeyStyle.Render("startup:"), mf.StartupCommand().String())
	}
	if len(mf.Environment) > 0 {
		fmt.Fprintf(w, "%s %s\n", KeyStyle.Render("environment:"), schemaSummary(mf.Environment))
	}
	for _, e := range mf.Expose {
		fmt.Fprintf(w, "%s %s -> %d\n", KeyStyle.Render("expose:"), e.Name, e.Port)
	}

	fmt.Fprintln(w, KeyStyle.Render("actions:"))
	for _, name := range mf.ActionOrder {
		a := mf.Actions[name]
		line := "  " + CmdStyle.Render(name)
		if len(a.Arguments) > 0 {
			line += " " + schemaSummary(a.Arguments)
		}
		if a.Output != nil && a.Output.Type != "" {
			line += SubtitleStyle.Render(" -> " + a.Output.Type.String())
		}
		fmt.Fprintln(w, line)
		for _, en := range a.EventOrder {
			fmt.Fprintf(w, "    %s %s\n", SubtitleStyle.Render("event"), en)
		}
	}
}

// schemaSummary lists field names, marking required ones with '*'.
func schemaSummary(s manifest.Schema) string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
		if f.Spec.Required {
			names[i] += "*"
		}
	}
	return strings.Join(names, ", ")
}
