// SPDX-License-Identifier: MPL-2.0

// Package imagebuild builds the image a microservice runs in from its
// source directory.
package imagebuild
