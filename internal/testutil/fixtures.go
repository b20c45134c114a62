// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/invowk/msrun/pkg/manifest"
)

// MustParseManifest parses yaml as a microservice.yml and fails the test on error.
func MustParseManifest(t testing.TB, yaml string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.ParseBytes([]byte(yaml), manifest.DefaultFileName)
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	return m
}

// WriteServiceDir lays out a microservice directory holding the manifest
// and a trivial Dockerfile, and returns its path.
func WriteServiceDir(t testing.TB, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	MustWriteFile(t, filepath.Join(dir, manifest.DefaultFileName), yaml)
	MustWriteFile(t, filepath.Join(dir, "Dockerfile"), "FROM alpine:3.20\n")
	return dir
}

// MustWriteFile writes content to path, creating parent directories.
func MustWriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
