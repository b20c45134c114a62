// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates user documents against embedded CUE schemas.
//
// Two entry points share one flow (compile the schema, compile the user
// document, unify with the root definition, validate):
//
//   - ParseAndDecode decodes a CUE document into a Go value. The msrun
//     configuration file uses it.
//   - ValidateYAML checks a YAML document such as microservice.yml without
//     decoding it, so callers stay free to decode with their own loader.
//
// Errors carry the file name and a JSON-path style location:
//
//	microservice.yml: actions.tom.arguments.foo.type: 5 errors in empty disjunction
package cueutil
