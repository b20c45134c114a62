// SPDX-License-Identifier: MPL-2.0

// Package manifest loads microservice.yml and reconciles caller-supplied
// arguments and environment variables against its declared schemas.
//
// A manifest is checked twice on load: first against an embedded CUE
// schema, then against invariants the schema cannot express (for example
// that a variable is never both required and defaulted). Declaration
// order is preserved everywhere because reconciliation errors list names
// in that order.
package manifest
