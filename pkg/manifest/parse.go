// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/invowk/msrun/internal/typesys"
	"github.com/invowk/msrun/pkg/cueutil"
)

// DefaultFileName is the manifest looked up when no path is given.
const DefaultFileName = "microservice.yml"

//go:embed schema.cue
var manifestSchema []byte

type (
	// ordered decodes a YAML mapping while remembering key order.
	ordered[T any] struct {
		keys   []string
		values map[string]T
	}

	rawManifest struct {
		OMG         int                  `yaml:"omg"`
		Info        rawInfo              `yaml:"info"`
		Actions     ordered[rawAction]   `yaml:"actions"`
		Environment ordered[rawVariable] `yaml:"environment"`
		Lifecycle   *rawLifecycle        `yaml:"lifecycle"`
		Expose      ordered[rawExpose]   `yaml:"expose"`
	}

	rawInfo struct {
		Title       string `yaml:"title"`
		Version     string `yaml:"version"`
		Description string `yaml:"description"`
	}

	rawAction struct {
		Help      string               `yaml:"help"`
		Format    *rawFormat           `yaml:"format"`
		Arguments ordered[rawVariable] `yaml:"arguments"`
		Output    *rawOutput           `yaml:"output"`
		Events    ordered[rawEvent]    `yaml:"events"`
	}

	rawEvent struct {
		Help      string               `yaml:"help"`
		Format    *rawFormat           `yaml:"format"`
		Arguments ordered[rawVariable] `yaml:"arguments"`
		Output    *rawOutput           `yaml:"output"`
	}

	rawFormat struct {
		Command Command `yaml:"command"`
	}

	rawOutput struct {
		Type string `yaml:"type"`
	}

	rawVariable struct {
		Type     string `yaml:"type"`
		Required bool   `yaml:"required"`
		Default  any    `yaml:"default"`
		Help     string `yaml:"help"`
	}

	rawLifecycle struct {
		Startup *rawFormat `yaml:"startup"`
	}

	rawExpose struct {
		Help string `yaml:"help"`
		HTTP struct {
			Port uint16 `yaml:"port"`
		} `yaml:"http"`
	}
)

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *ordered[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	o.values = make(map[string]T, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if _, dup := o.values[key.Value]; dup {
			return fmt.Errorf("line %d: %q is declared more than once", key.Line, key.Value)
		}
		var v T
		if err := node.Content[i+1].Decode(&v); err != nil {
			return err
		}
		o.keys = append(o.keys, key.Value)
		o.values[key.Value] = v
	}
	return nil
}

// Parse reads and parses the manifest at path.
func Parse(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest at %s: %w", path, err)
	}
	return ParseBytes(data, path)
}

// ParseBytes checks data against the manifest schema, decodes it and
// validates every variable spec. path is only used in error messages.
func ParseBytes(data []byte, path string) (*Manifest, error) {
	if path == "" {
		path = DefaultFileName
	}
	if _, err := cueutil.ValidateYAML(manifestSchema, data, "#Manifest", cueutil.WithFilename(path)); err != nil {
		return nil, err
	}

	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m := raw.build()
	m.FilePath = path
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Validate checks the manifest invariants that the schema cannot express.
func (m *Manifest) Validate() error {
	var errs []error
	if len(m.Actions) == 0 {
		errs = append(errs, errors.New("at least one action must be declared"))
	}
	for _, name := range m.ActionOrder {
		a := m.Actions[name]
		if len(a.Format.Command) == 0 && len(a.Events) == 0 {
			errs = append(errs, fmt.Errorf("action %q: format.command is required", name))
		}
		if err := validateOutput(a.Output); err != nil {
			errs = append(errs, fmt.Errorf("action %q: %w", name, err))
		}
		if err := a.Arguments.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("action %q: %w", name, err))
		}
		for _, en := range a.EventOrder {
			ev := a.Events[en]
			if len(ev.Format.Command) == 0 {
				errs = append(errs, fmt.Errorf("action %q event %q: format.command is required", name, en))
			}
			if err := validateOutput(ev.Output); err != nil {
				errs = append(errs, fmt.Errorf("action %q event %q: %w", name, en, err))
			}
			if err := ev.Arguments.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("action %q event %q: %w", name, en, err))
			}
		}
	}
	if err := m.Environment.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("environment: %w", err))
	}
	return errors.Join(errs...)
}

func validateOutput(o *Output) error {
	if o == nil || o.Type == "" {
		return nil
	}
	if err := o.Type.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

func (r rawManifest) build() *Manifest {
	m := &Manifest{
		OMG:         r.OMG,
		Info:        Info(r.Info),
		Actions:     make(map[string]*Action, len(r.Actions.keys)),
		ActionOrder: r.Actions.keys,
		Environment: buildSchema(r.Environment),
	}
	for _, name := range r.Actions.keys {
		ra := r.Actions.values[name]
		a := &Action{
			Name:       name,
			Help:       ra.Help,
			Format:     buildFormat(ra.Format),
			Arguments:  buildSchema(ra.Arguments),
			Output:     buildOutput(ra.Output),
			Events:     make(map[string]*Event, len(ra.Events.keys)),
			EventOrder: ra.Events.keys,
		}
		for _, en := range ra.Events.keys {
			re := ra.Events.values[en]
			a.Events[en] = &Event{
				Name:      en,
				Help:      re.Help,
				Format:    buildFormat(re.Format),
				Arguments: buildSchema(re.Arguments),
				Output:    buildOutput(re.Output),
			}
		}
		m.Actions[name] = a
	}
	if r.Lifecycle != nil && r.Lifecycle.Startup != nil {
		m.Lifecycle = &Lifecycle{Startup: r.Lifecycle.Startup.Command}
	}
	for _, name := range r.Expose.keys {
		re := r.Expose.values[name]
		m.Expose = append(m.Expose, Expose{Name: name, Help: re.Help, Port: re.HTTP.Port})
	}
	return m
}

func buildFormat(f *rawFormat) Format {
	if f == nil {
		return Format{}
	}
	return Format(*f)
}

func buildOutput(o *rawOutput) *Output {
	if o == nil {
		return nil
	}
	return &Output{Type: parseKind(o.Type)}
}

func buildSchema(o ordered[rawVariable]) Schema {
	s := make(Schema, 0, len(o.keys))
	for _, name := range o.keys {
		rv := o.values[name]
		kind := parseKind(rv.Type)
		s = append(s, Field{
			Name: name,
			Spec: VariableSpec{
				Type:     kind,
				Required: rv.Required,
				Default:  normalizeDefault(kind, rv.Default),
				Help:     rv.Help,
			},
		})
	}
	return s
}

// parseKind resolves aliases and keeps unknown names so Validate can
// report them.
func parseKind(name string) typesys.Kind {
	if k, err := typesys.ParseKind(name); err == nil {
		return k
	}
	return typesys.Kind(name)
}
