// SPDX-License-Identifier: MPL-2.0

// Package watch rebuilds a microservice when its source directory changes.
//
// A Watcher monitors every non-ignored directory below the service root with
// fsnotify, filters events through doublestar patterns and coalesces bursts
// of events into a single callback after a quiet period.
package watch
