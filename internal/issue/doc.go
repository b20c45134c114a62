// SPDX-License-Identifier: MPL-2.0

// Package issue holds the catalog of user-facing problems msrun knows how
// to explain, and ActionableError, which ties a failed operation to
// suggestions and to a catalog entry rendered as Markdown.
package issue
