// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/invowk/msrun/internal/typesys"
	"github.com/invowk/msrun/pkg/cueutil"
)

const sampleManifest = `omg: 1
info:
  title: Greeter
  version: 1.0.0
  description: Says hello
lifecycle:
  startup:
    command: ["node", "start.js"]
expose:
  web:
    help: HTTP endpoint
    http:
      port: 8080
environment:
  TOKEN:
    type: string
    required: true
  LOG_LEVEL:
    type: string
    default: info
actions:
  steve:
    help: Greets steve
    format:
      command: steve.sh --loud
    output:
      type: string
    arguments:
      foo:
        type: int
        default: 3
      bar:
        type: map
        default:
          foo: bar
  tom:
    format:
      command: ["tom.sh"]
    arguments:
      foo:
        type: string
        required: true
  listen:
    events:
      message:
        format:
          command: listen.sh
        output:
          type: object
`

func TestParseBytes(t *testing.T) {
	t.Parallel()

	m, err := ParseBytes([]byte(sampleManifest), "microservice.yml")
	if err != nil {
		t.Fatalf("ParseBytes() error: %v", err)
	}

	if m.OMG != 1 || m.Info.Title != "Greeter" || m.Info.Version != "1.0.0" {
		t.Errorf("unexpected header: %+v %+v", m.OMG, m.Info)
	}
	if want := []string{"steve", "tom", "listen"}; !slices.Equal(m.ActionOrder, want) {
		t.Errorf("ActionOrder = %v, want %v", m.ActionOrder, want)
	}
	if want := []string{"TOKEN", "LOG_LEVEL"}; !slices.Equal(m.Environment.Names(), want) {
		t.Errorf("environment order = %v, want %v", m.Environment.Names(), want)
	}

	steve, err := m.Action("steve")
	if err != nil {
		t.Fatalf("Action(steve) error: %v", err)
	}
	if want := (Command{"steve.sh", "--loud"}); !slices.Equal(steve.Format.Command, want) {
		t.Errorf("steve command = %v, want %v", steve.Format.Command, want)
	}
	if !steve.Typed() || steve.Output.Type != typesys.KindString {
		t.Errorf("steve output = %+v", steve.Output)
	}
	foo, _ := steve.Arguments.Lookup("foo")
	if foo.Default != int64(3) {
		t.Errorf("foo default = %#v, want int64(3)", foo.Default)
	}
	bar, _ := steve.Arguments.Lookup("bar")
	if bar.Type != typesys.KindObject {
		t.Errorf("map alias resolved to %q, want object", bar.Type)
	}
	if !reflect.DeepEqual(bar.Default, map[string]any{"foo": "bar"}) {
		t.Errorf("bar default = %#v", bar.Default)
	}

	if want := (Command{"node", "start.js"}); !slices.Equal(m.StartupCommand(), want) {
		t.Errorf("StartupCommand() = %v, want %v", m.StartupCommand(), want)
	}
	if got := m.ExposedPorts(); !slices.Equal(got, []uint16{8080}) {
		t.Errorf("ExposedPorts() = %v", got)
	}

	listen, _ := m.Action("listen")
	ev, ok := listen.Event("message")
	if !ok || ev.Output == nil || ev.Output.Type != typesys.KindObject {
		t.Errorf("listen.message event = %+v, %v", ev, ok)
	}
}

func TestParseBytes_IdleCommandWithoutLifecycle(t *testing.T) {
	t.Parallel()

	data := "omg: 1\nactions:\n  test:\n    format:\n      command: test.sh\n    output:\n      type: string\n"
	m, err := ParseBytes([]byte(data), "")
	if err != nil {
		t.Fatalf("ParseBytes() error: %v", err)
	}
	if m.HasStartup() {
		t.Error("HasStartup() = true without lifecycle")
	}
	if got := m.StartupCommand(); !slices.Equal(got, IdleCommand) {
		t.Errorf("StartupCommand() = %v, want %v", got, IdleCommand)
	}
	if m.FilePath != DefaultFileName {
		t.Errorf("FilePath = %q, want %q", m.FilePath, DefaultFileName)
	}
}

func TestParseBytes_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		wantErr error
		wantMsg string
	}{
		{
			name:    "unknown type fails schema",
			data:    "actions:\n  a:\n    format:\n      command: a.sh\n    arguments:\n      x:\n        type: number\n",
			wantErr: cueutil.ErrInvalidDocument,
		},
		{
			name:    "missing actions",
			data:    "omg: 1\nactions: {}\n",
			wantMsg: "at least one action",
		},
		{
			name:    "required with default",
			data:    "actions:\n  a:\n    format:\n      command: a.sh\n    arguments:\n      x:\n        type: int\n        required: true\n        default: 1\n",
			wantErr: ErrInvalidVariableSpec,
			wantMsg: "cannot be required and have a default",
		},
		{
			name:    "default of wrong type",
			data:    "actions:\n  a:\n    format:\n      command: a.sh\n    arguments:\n      x:\n        type: boolean\n        default: maybe\n",
			wantErr: ErrInvalidVariableSpec,
		},
		{
			name:    "action without command",
			data:    "actions:\n  a:\n    help: nothing to run\n",
			wantMsg: "format.command is required",
		},
		{
			name:    "duplicate action",
			data:    "actions:\n  a:\n    format:\n      command: a.sh\n  a:\n    format:\n      command: b.sh\n",
			wantMsg: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseBytes([]byte(tt.data), "microservice.yml")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParse_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if m.FilePath != path {
		t.Errorf("FilePath = %q, want %q", m.FilePath, path)
	}

	if _, err := Parse(filepath.Join(dir, "missing.yml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Parse(missing) error = %v, want os.ErrNotExist", err)
	}
}

func TestManifest_Action_NotFound(t *testing.T) {
	t.Parallel()

	m, err := ParseBytes([]byte(sampleManifest), "microservice.yml")
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Action("bob")
	if !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("Action(bob) error = %v, want ErrActionNotFound", err)
	}
	var nf *ActionNotFoundError
	if !errors.As(err, &nf) || nf.Name != "bob" || len(nf.Available) != 3 {
		t.Errorf("unexpected ActionNotFoundError: %+v", nf)
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want Command
	}{
		{"test.sh", Command{"test.sh"}},
		{"python app.py  --flag", Command{"python", "app.py", "--flag"}},
		{`echo "hello world" 'x y'`, Command{"echo", "hello world", "x y"}},
		{"echo $HOME", Command{"echo", "$HOME"}},
	}

	for _, tt := range tests {
		got, err := SplitCommand(tt.line)
		if err != nil {
			t.Errorf("SplitCommand(%q) error: %v", tt.line, err)
			continue
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("SplitCommand(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}

	if _, err := SplitCommand(`echo "unterminated`); err == nil {
		t.Error("expected error for unterminated quote")
	}
}

func TestCommand_String(t *testing.T) {
	t.Parallel()

	c := Command{"steve.sh", `{"foo":3}`}
	got := c.String()
	if !strings.HasPrefix(got, "steve.sh ") || !strings.Contains(got, `'{"foo":3}'`) {
		t.Errorf("String() = %q", got)
	}
}
