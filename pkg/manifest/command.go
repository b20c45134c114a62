// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/shell"
	"mvdan.cc/sh/v3/syntax"
)

// SplitCommand splits a command line into fields using shell quoting
// rules. Parameters such as $HOME are kept literally.
func SplitCommand(line string) (Command, error) {
	fields, err := shell.Fields(line, func(name string) string { return "$" + name })
	if err != nil {
		return nil, fmt.Errorf("split command %q: %w", line, err)
	}
	return fields, nil
}

// UnmarshalYAML accepts either a scalar command line or a sequence of
// arguments.
func (c *Command) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		fields, err := SplitCommand(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*c = fields
		return nil
	case yaml.SequenceNode:
		var args []string
		if err := node.Decode(&args); err != nil {
			return err
		}
		*c = args
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list of strings", node.Line)
	}
}

// String renders the command as a shell-quoted line.
func (c Command) String() string {
	parts := make([]string, len(c))
	for i, arg := range c {
		q, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			q = arg
		}
		parts[i] = q
	}
	return strings.Join(parts, " ")
}
