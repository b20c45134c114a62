// SPDX-License-Identifier: MPL-2.0

// Package testutil provides fakes and fixtures shared by msrun tests: an
// in-memory container engine, a controllable clock, and helpers that lay
// out a microservice directory on disk.
package testutil
