// SPDX-License-Identifier: MPL-2.0

package typesys

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrCast is wrapped by every error returned from Cast.
var ErrCast = errors.New("cannot cast value")

type (
	// entry pairs the validation and cast functions of one kind.
	entry struct {
		validate func(raw string) bool
		cast     func(raw string) (any, error)
	}

	// System validates and casts raw textual values by kind. The zero value
	// is not usable; construct one with New.
	System struct {
		table    map[Kind]entry
		pathMode PathMode
	}

	// Option configures a System.
	Option func(*System)

	// CastError is returned when a raw value cannot be converted to its kind.
	CastError struct {
		Kind  Kind
		Raw   string
		Cause error
	}
)

var (
	defaultEntries = map[Kind]entry{
		KindInt:     {validate: validInt, cast: castInt},
		KindFloat:   {validate: validFloat, cast: castFloat},
		KindString:  {validate: func(string) bool { return true }, cast: identity},
		KindUUID:    {validate: validUUID, cast: identity},
		KindList:    {validate: validList, cast: castJSON},
		KindObject:  {validate: validObject, cast: castJSON},
		KindBoolean: {validate: validBoolean, cast: castBoolean},
		KindPath:    {validate: validPathStrict, cast: identity},
	}

	defaultSystem = New()
)

// Error implements the error interface.
func (e *CastError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cannot cast %q to %s: %v", e.Raw, e.Kind, e.Cause)
	}
	return fmt.Sprintf("cannot cast %q to %s", e.Raw, e.Kind)
}

// Unwrap returns ErrCast for errors.Is() compatibility.
func (e *CastError) Unwrap() error { return ErrCast }

// WithPathMode selects how the path kind is validated.
func WithPathMode(mode PathMode) Option {
	return func(s *System) {
		s.pathMode = mode
	}
}

// New builds a System from the built-in dispatch table.
func New(opts ...Option) *System {
	s := &System{pathMode: PathStrict}
	for _, opt := range opts {
		opt(s)
	}

	s.table = make(map[Kind]entry, len(defaultEntries))
	for k, e := range defaultEntries {
		s.table[k] = e
	}
	if s.pathMode == PathLenient {
		s.table[KindPath] = entry{validate: validPathLenient, cast: identity}
	}
	return s
}

// Default returns the process-wide System using strict path validation.
func Default() *System { return defaultSystem }

// PathMode reports the path validation mode of the System.
func (s *System) PathMode() PathMode { return s.pathMode }

// Validate reports whether raw is an acceptable value for kind.
// Unknown kinds never validate.
func (s *System) Validate(kind Kind, raw string) bool {
	e, ok := s.table[kind]
	if !ok {
		return false
	}
	return e.validate(raw)
}

// Cast converts raw into the Go value of kind. Callers are expected to
// Validate first; invalid input yields a *CastError instead of a value.
func (s *System) Cast(kind Kind, raw string) (any, error) {
	e, ok := s.table[kind]
	if !ok {
		return nil, &CastError{Kind: kind, Raw: raw, Cause: &InvalidKindError{Value: kind}}
	}
	if !e.validate(raw) {
		return nil, &CastError{Kind: kind, Raw: raw}
	}
	v, err := e.cast(raw)
	if err != nil {
		return nil, &CastError{Kind: kind, Raw: raw, Cause: err}
	}
	return v, nil
}

// Validate reports whether raw is acceptable for kind using the default System.
func Validate(kind Kind, raw string) bool { return defaultSystem.Validate(kind, raw) }

// Cast converts raw using the default System.
func Cast(kind Kind, raw string) (any, error) { return defaultSystem.Cast(kind, raw) }

// Serialize renders a value in the textual form Cast accepts: strings
// verbatim, numbers and booleans in their native form, everything else
// as compact JSON.
func Serialize(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return fmt.Sprint(val)
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
}

// parseNumber accepts exactly one JSON number, optionally surrounded by
// whitespace. Go-only forms such as 0x1p-2 or 1_000 are not numbers.
func parseNumber(raw string) (json.Number, float64, bool) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", 0, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", 0, false
	}
	n, ok := v.(json.Number)
	if !ok {
		return "", 0, false
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", 0, false
	}
	return n, f, true
}

// parseInt reads integers exactly and falls back to the float value only
// for integral forms like 3.0 or 1e3 that fit in an int64.
func parseInt(raw string) (int64, bool) {
	n, f, ok := parseNumber(raw)
	if !ok {
		return 0, false
	}
	if !strings.ContainsAny(n.String(), ".eE") {
		i, err := strconv.ParseInt(n.String(), 10, 64)
		return i, err == nil
	}
	if f != math.Trunc(f) || f >= 0x1p63 || f < -0x1p63 {
		return 0, false
	}
	return int64(f), true
}

func validInt(raw string) bool {
	_, ok := parseInt(raw)
	return ok
}

func castInt(raw string) (any, error) {
	i, ok := parseInt(raw)
	if !ok {
		return nil, fmt.Errorf("%s is not an int64", raw)
	}
	return i, nil
}

func validFloat(raw string) bool {
	_, f, ok := parseNumber(raw)
	if !ok {
		return false
	}
	return strings.Contains(strconv.FormatFloat(f, 'f', -1, 64), ".")
}

func castFloat(raw string) (any, error) {
	_, f, _ := parseNumber(raw)
	return f, nil
}

// validUUID accepts the canonical lowercase form of an RFC 4122 UUID of
// versions 1 to 5.
func validUUID(raw string) bool {
	if len(raw) != 36 || raw != strings.ToLower(raw) {
		return false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return false
	}
	return id.Variant() == uuid.RFC4122 && id.Version() >= 1 && id.Version() <= 5
}

func decodeJSON(raw string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	return v, true
}

func validList(raw string) bool {
	v, ok := decodeJSON(raw)
	if !ok || v == nil {
		return false
	}
	_, isObject := v.(map[string]any)
	return !isObject
}

func validObject(raw string) bool {
	v, ok := decodeJSON(raw)
	if !ok {
		return false
	}
	_, isObject := v.(map[string]any)
	return isObject
}

func castJSON(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func validBoolean(raw string) bool {
	return raw == "true" || raw == "false"
}

func castBoolean(raw string) (any, error) {
	return raw == "true", nil
}

func identity(raw string) (any, error) {
	return raw, nil
}
