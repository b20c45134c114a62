// SPDX-License-Identifier: MPL-2.0

// Package session drives one microservice interactively. A Session owns the
// current image, container and subscription, and reports the progress of
// every operation as Notification values on a single channel, grouped in
// rooms (build, start, run, subscribe and so on) that a front end renders.
package session
