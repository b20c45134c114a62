// SPDX-License-Identifier: MPL-2.0

// Package uiserver exposes a session over HTTP. Clients post operations to
// /api/{room} and read the resulting notifications from a server-sent
// event stream at /api/events. Every /api route requires the bearer token
// printed at startup.
package uiserver
