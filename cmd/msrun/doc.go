// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the msrun command tree.
//
// Commands share one App, the composition root holding the config provider
// and the container engine factory. Every RunE resolves a runContext from
// the global flags, then drives the core packages: imagebuild for build,
// lifecycle and invoke for exec, subscribe for subscribe, and session with
// uiserver for ui.
package cmd
