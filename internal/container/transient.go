// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// engineFailureExitCode is what docker and podman exit with when the engine
// itself failed rather than the build or the container.
const engineFailureExitCode = 125

// transientMarkers are engine output fragments of failures that usually
// clear up on retry, grouped by cause.
var transientMarkers = map[string][]string{
	"network": {
		"Temporary failure resolving",
		"Could not resolve host",
		"connection timed out",
		"connection refused",
		"TLS handshake timeout",
		"i/o timeout",
	},
	"storage": {
		"error creating overlay mount",
		"error mounting layer",
	},
	"rootless": {
		"ping_group_range",
		"OCI runtime error",
	},
}

// IsTransientError reports whether a build or pull failure may succeed if
// repeated. Context cancellation is never transient.
func IsTransientError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == engineFailureExitCode {
		return true
	}
	return transientCause(err.Error()) != ""
}

// transientCause returns the marker group matching msg, or "".
func transientCause(msg string) string {
	for cause, markers := range transientMarkers {
		for _, marker := range markers {
			if strings.Contains(msg, marker) {
				return cause
			}
		}
	}
	return ""
}
