// SPDX-License-Identifier: MPL-2.0

// Package typesys validates and casts the raw textual values that flow
// through manifest arguments, environment variables and action outputs.
//
// Each Kind maps to one entry of a dispatch table holding a validate and a
// cast function. Cast is only meaningful for values that Validate accepts,
// and Serialize produces text that Cast turns back into the same value.
package typesys
