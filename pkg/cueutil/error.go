// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ErrInvalidDocument is the sentinel error wrapped by DocumentError.
var ErrInvalidDocument = errors.New("invalid document")

type (
	// Violation is one schema failure at a JSON-path style location.
	Violation struct {
		Path    string
		Message string
	}

	// DocumentError lists every schema violation found in one file.
	DocumentError struct {
		File       string
		Violations []Violation
	}
)

// Error implements the error interface.
func (e *DocumentError) Error() string {
	lines := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		if v.Path == "" {
			lines[i] = v.Message
		} else {
			lines[i] = v.Path + ": " + v.Message
		}
	}
	if len(lines) == 1 {
		return e.File + ": " + lines[0]
	}
	return fmt.Sprintf("%s: validation failed:\n  %s", e.File, strings.Join(lines, "\n  "))
}

// Unwrap returns ErrInvalidDocument for errors.Is() compatibility.
func (e *DocumentError) Unwrap() error { return ErrInvalidDocument }

// FormatError turns a CUE evaluation error into a *DocumentError. Errors
// that carry no CUE detail are wrapped with the file name only.
func FormatError(err error, file string) error {
	if err == nil {
		return nil
	}

	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return fmt.Errorf("%s: %w", file, err)
	}

	doc := &DocumentError{File: file}
	for _, e := range list {
		path := formatPath(cueerrors.Path(e))
		msg := e.Error()
		if path != "" && strings.HasPrefix(msg, path) {
			msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, path), ":"))
		}
		doc.Violations = append(doc.Violations, Violation{Path: path, Message: msg})
	}
	return doc
}

// formatPath renders ["actions", "0", "format"] as "actions[0].format".
func formatPath(path []string) string {
	var b strings.Builder
	for i, part := range path {
		switch {
		case i > 0 && isIndex(part):
			b.WriteString("[" + part + "]")
		case i > 0:
			b.WriteString("." + part)
		default:
			b.WriteString(part)
		}
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CheckFileSize rejects documents larger than maxSize bytes.
func CheckFileSize(data []byte, maxSize int64, file string) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", file, len(data), maxSize)
	}
	return nil
}
