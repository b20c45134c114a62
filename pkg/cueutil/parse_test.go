// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"

	"cuelang.org/go/cue"
)

const testSchema = `
#Doc: {
	name: string
	port: int & >0
	tags?: [...string]
}
`

type testDoc struct {
	Name string   `json:"name"`
	Port int      `json:"port"`
	Tags []string `json:"tags,omitempty"`
}

func TestParseAndDecode(t *testing.T) {
	t.Parallel()

	t.Run("valid document decodes", func(t *testing.T) {
		t.Parallel()

		data := []byte(`name: "svc", port: 8080, tags: ["a", "b"]`)
		res, err := ParseAndDecode[testDoc]([]byte(testSchema), data, "#Doc", WithFilename("doc.cue"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Value.Name != "svc" || res.Value.Port != 8080 || len(res.Value.Tags) != 2 {
			t.Errorf("unexpected decoded value %+v", res.Value)
		}
	})

	t.Run("constraint violation names file and path", func(t *testing.T) {
		t.Parallel()

		data := []byte(`name: "svc", port: 0`)
		_, err := ParseAndDecode[testDoc]([]byte(testSchema), data, "#Doc", WithFilename("doc.cue"))
		if !errors.Is(err, ErrInvalidDocument) {
			t.Fatalf("expected ErrInvalidDocument, got %v", err)
		}
		if !strings.Contains(err.Error(), "doc.cue") || !strings.Contains(err.Error(), "port") {
			t.Errorf("error should name file and field, got %q", err)
		}
	})

	t.Run("oversized document rejected before compile", func(t *testing.T) {
		t.Parallel()

		data := []byte(`name: "svc", port: 1`)
		_, err := ParseAndDecode[testDoc]([]byte(testSchema), data, "#Doc", WithMaxFileSize(4))
		if err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
			t.Fatalf("expected size error, got %v", err)
		}
	})

	t.Run("missing definition is an internal error", func(t *testing.T) {
		t.Parallel()

		_, err := ParseAndDecode[testDoc]([]byte(testSchema), []byte(`name: "x"`), "#Missing")
		if err == nil || !strings.Contains(err.Error(), "internal error") {
			t.Fatalf("expected internal error, got %v", err)
		}
	})
}

func TestValidateYAML(t *testing.T) {
	t.Parallel()

	t.Run("valid yaml", func(t *testing.T) {
		t.Parallel()

		data := []byte("name: svc\nport: 8080\ntags:\n  - a\n")
		v, err := ValidateYAML([]byte(testSchema), data, "#Doc", WithFilename("doc.yml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		name, err := v.LookupPath(cue.ParsePath("name")).String()
		if err != nil || name != "svc" {
			t.Errorf("name = %q, %v", name, err)
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		t.Parallel()

		data := []byte("name: svc\nport: eighty\n")
		_, err := ValidateYAML([]byte(testSchema), data, "#Doc", WithFilename("doc.yml"))
		if !errors.Is(err, ErrInvalidDocument) {
			t.Fatalf("expected ErrInvalidDocument, got %v", err)
		}
		if !strings.HasPrefix(err.Error(), "doc.yml: ") {
			t.Errorf("error should start with file name, got %q", err)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Parallel()

		_, err := ValidateYAML([]byte(testSchema), []byte("name: [unclosed\n"), "#Doc")
		if err == nil {
			t.Fatal("expected error for malformed yaml")
		}
	})
}
