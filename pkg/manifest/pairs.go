// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"strings"
)

// ErrMalformedPair is the sentinel error wrapped by MalformedPairError.
var ErrMalformedPair = errors.New("malformed key=value pair")

// MalformedPairError is returned by ParsePairs. Its message is the one the
// caller supplied.
type MalformedPairError struct {
	Entry   string
	Message string
}

// Error implements the error interface.
func (e *MalformedPairError) Error() string { return e.Message }

// Unwrap returns ErrMalformedPair for errors.Is() compatibility.
func (e *MalformedPairError) Unwrap() error { return ErrMalformedPair }

// ParsePairs turns entries such as "name=bob" into a map. Every entry must
// contain exactly one '='; otherwise errMessage is returned. Later entries
// overwrite earlier ones.
func ParsePairs(entries []string, errMessage string) (map[string]string, error) {
	pairs := make(map[string]string, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, "=")
		if len(parts) != 2 {
			return nil, &MalformedPairError{Entry: entry, Message: errMessage}
		}
		pairs[parts[0]] = parts[1]
	}
	return pairs, nil
}

// MatchEnvironmentCase renames supplied keys to the declared spelling when
// they match a declared name case-insensitively. Exact matches win and
// undeclared keys are kept as given.
func MatchEnvironmentCase(schema Schema, supplied map[string]string) map[string]string {
	out := make(map[string]string, len(supplied))
	for k, v := range supplied {
		if _, ok := schema.Lookup(k); ok {
			out[k] = v
		}
	}
	for k, v := range supplied {
		if _, ok := schema.Lookup(k); ok {
			continue
		}
		renamed := k
		for _, name := range schema.Names() {
			if strings.EqualFold(name, k) {
				renamed = name
				break
			}
		}
		if _, taken := out[renamed]; !taken {
			out[renamed] = v
		}
	}
	return out
}
