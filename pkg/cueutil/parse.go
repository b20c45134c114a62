// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// ParseResult holds a decoded document and the unified CUE value it came from.
type ParseResult[T any] struct {
	Value   *T
	Unified cue.Value
}

// ParseAndDecode compiles data as CUE, unifies it with the schemaPath
// definition of schema, validates the result and decodes it into T.
func ParseAndDecode[T any](schema, data []byte, schemaPath string, opts ...Option) (*ParseResult[T], error) {
	o := applyOptions(opts)
	name := o.displayName()

	if err := CheckFileSize(data, o.maxFileSize, name); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()
	root, err := lookupSchema(ctx, schema, schemaPath)
	if err != nil {
		return nil, err
	}

	user := ctx.CompileBytes(data, cue.Filename(name))
	if user.Err() != nil {
		return nil, FormatError(user.Err(), name)
	}

	unified, err := validate(root, user, o)
	if err != nil {
		return nil, err
	}

	var result T
	if err := unified.Decode(&result); err != nil {
		return nil, FormatError(err, name)
	}
	return &ParseResult[T]{Value: &result, Unified: unified}, nil
}

// ValidateYAML checks a YAML document against the schemaPath definition
// of schema and returns the unified value.
func ValidateYAML(schema, data []byte, schemaPath string, opts ...Option) (cue.Value, error) {
	o := applyOptions(opts)
	name := o.displayName()

	if err := CheckFileSize(data, o.maxFileSize, name); err != nil {
		return cue.Value{}, err
	}

	ctx := cuecontext.New()
	root, err := lookupSchema(ctx, schema, schemaPath)
	if err != nil {
		return cue.Value{}, err
	}

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return cue.Value{}, fmt.Errorf("%s: %w", name, err)
	}
	user := ctx.BuildFile(file)
	if user.Err() != nil {
		return cue.Value{}, FormatError(user.Err(), name)
	}

	return validate(root, user, o)
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func lookupSchema(ctx *cue.Context, schema []byte, schemaPath string) (cue.Value, error) {
	compiled := ctx.CompileBytes(schema)
	if compiled.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: failed to compile schema: %w", compiled.Err())
	}
	root := compiled.LookupPath(cue.ParsePath(schemaPath))
	if root.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: schema definition %s not found: %w", schemaPath, root.Err())
	}
	return root, nil
}

func validate(root, user cue.Value, o options) (cue.Value, error) {
	unified := root.Unify(user)
	var err error
	if o.concrete {
		err = unified.Validate(cue.Concrete(true))
	} else {
		err = unified.Validate()
	}
	if err != nil {
		return cue.Value{}, FormatError(err, o.displayName())
	}
	return unified, nil
}
