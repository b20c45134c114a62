// SPDX-License-Identifier: MPL-2.0

// Package config loads msrun settings using Viper with CUE as the file format.
//
// Values come from built-in defaults, then config.cue in the user config
// directory (or the file given with --config), then MSRUN_* environment
// variables such as MSRUN_CONTAINER_ENGINE or MSRUN_PORTS_MIN. The file is
// validated against an embedded CUE schema before it is merged.
package config
