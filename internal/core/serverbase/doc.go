// SPDX-License-Identifier: MPL-2.0

// Package serverbase is the lifecycle state machine shared by long-running
// listeners. States change with compare-and-swap so reads never block, and
// goroutines started through Go are waited for on shutdown.
package serverbase
