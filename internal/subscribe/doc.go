// SPDX-License-Identifier: MPL-2.0

// Package subscribe starts event subscriptions and watches the container
// they depend on. A subscription polls the container on a fixed interval
// and reports once if it stops.
package subscribe
