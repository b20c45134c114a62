// SPDX-License-Identifier: MPL-2.0

// Package invoke runs manifest actions inside a running microservice
// container. An invocation validates its arguments and environment,
// composes the command line, executes it and casts the output to the
// action's declared type.
package invoke
