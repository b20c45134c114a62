// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/imagebuild"
	"github.com/invowk/msrun/internal/invoke"
	"github.com/invowk/msrun/internal/issue"
	"github.com/invowk/msrun/internal/lifecycle"
	"github.com/invowk/msrun/internal/subscribe"
	"github.com/invowk/msrun/pkg/cueutil"
	"github.com/invowk/msrun/pkg/manifest"
)

type runFunc func(cmd *cobra.Command, args []string) error

// classifyError maps a failure to the issue catalog entry explaining it.
// An issue attached by an ActionableError wins.
func classifyError(err error) issue.Id {
	if is := issue.IssueOf(err); is != nil {
		return is.Id()
	}

	var missing *manifest.MissingError
	var mismatch *manifest.TypeMismatchError
	switch {
	case errors.Is(err, container.ErrNoEngineAvailable):
		return issue.ContainerEngineNotFoundId
	case errors.Is(err, imagebuild.ErrDockerfileNotFound):
		return issue.DockerfileNotFoundId
	case errors.Is(err, cueutil.ErrInvalidDocument), errors.Is(err, manifest.ErrInvalidVariableSpec):
		return issue.ManifestParseErrorId
	case errors.Is(err, manifest.ErrActionNotFound), errors.Is(err, invoke.ErrEventNotFound):
		return issue.ActionNotFoundId
	case errors.As(err, &missing) && missing.Scope == manifest.ScopeEnvironment,
		errors.As(err, &mismatch) && mismatch.Scope == manifest.ScopeEnvironment:
		return issue.InvalidEnvironmentId
	case errors.Is(err, manifest.ErrMissing), errors.Is(err, manifest.ErrTypeMismatch), errors.Is(err, manifest.ErrMalformedPair):
		return issue.InvalidArgumentsId
	case errors.Is(err, subscribe.ErrSubscribe), errors.Is(err, lifecycle.ErrNotRunning):
		return issue.ContainerStoppedId
	case errors.Is(err, invoke.ErrExecutionFailure), errors.Is(err, invoke.ErrOutputType):
		return issue.ActionFailedId
	case errors.Is(err, os.ErrPermission):
		return issue.PermissionDeniedId
	}
	return 0
}

// formatErrorForDisplay uses the ActionableError format when available.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// reportError renders the matching issue catalog entry to stderr.
func (a *App) reportError(err error, verbose bool) {
	if id := classifyError(err); id != 0 {
		if rendered, rerr := issue.Get(id).Render(a.scheme.String()); rerr == nil {
			fmt.Fprint(a.stderr, rendered)
		}
	}
	var ae *issue.ActionableError
	if errors.As(err, &ae) && (ae.HasSuggestions() || verbose) {
		fmt.Fprintf(a.stderr, "%s %s\n\n", ErrorStyle.Render(cross), formatErrorForDisplay(err, verbose))
	}
}

// withReport wraps a RunE so failures also render their issue entry.
func (a *App) withReport(flags *rootFlagValues, fn runFunc) runFunc {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if err != nil {
			a.reportError(err, flags.verbose)
		}
		return err
	}
}
