// SPDX-License-Identifier: MPL-2.0

// Package lifecycle manages the single container instance a microservice
// runs in. A Manager moves it through uncreated, created, running and
// stopped, and never caches whether it is still alive.
package lifecycle
