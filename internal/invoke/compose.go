// SPDX-License-Identifier: MPL-2.0

package invoke

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/invowk/msrun/pkg/manifest"
)

// Compose returns the argv to run for an invocation: the base command,
// followed by one token holding the merged arguments as a JSON object when
// there are any. Keys appear in schema declaration order.
func Compose(base manifest.Command, schema manifest.Schema, merged map[string]any) ([]string, error) {
	argv := slices.Clone([]string(base))
	if len(merged) == 0 {
		return argv, nil
	}
	payload, err := encodeArguments(schema, merged)
	if err != nil {
		return nil, err
	}
	return append(argv, payload), nil
}

func encodeArguments(schema manifest.Schema, merged map[string]any) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, f := range schema {
		v, ok := merged[f.Name]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeJSON(&buf, f.Name); err != nil {
			return "", err
		}
		buf.WriteByte(':')
		if err := writeJSON(&buf, v); err != nil {
			return "", fmt.Errorf("encode argument %q: %w", f.Name, err)
		}
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
