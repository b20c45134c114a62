// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/invowk/msrun/internal/session"
)

const eventTimeout = 5 * time.Second

type recorder struct {
	mu    sync.Mutex
	calls [][]string
	fired chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 16)}
}

func (r *recorder) onChange(_ context.Context, changed []string) error {
	r.mu.Lock()
	r.calls = append(r.calls, changed)
	r.mu.Unlock()
	r.fired <- struct{}{}
	return nil
}

func (r *recorder) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for callback")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func runWatcher(t *testing.T, cfg Config, fn OnChange) {
	t.Helper()
	w, err := New(cfg, fn)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Run() error: %v", err)
		}
	})
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_Debounce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	runWatcher(t, Config{Dir: dir, Debounce: 150 * time.Millisecond}, rec.onChange)

	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		writeFile(t, filepath.Join(dir, name))
		time.Sleep(10 * time.Millisecond)
	}

	got := rec.wait(t)
	if !slices.Equal(got, []string{"a.txt", "b.txt", "c.txt"}) {
		t.Errorf("changed = %v, want sorted a, b, c", got)
	}
	select {
	case <-rec.fired:
		t.Error("burst should fire the callback once")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcher_PatternsAndIgnores(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	runWatcher(t, Config{
		Dir:      dir,
		Patterns: []string{"**/*.go", "microservice.yml"},
		Ignore:   []string{"gen/**"},
		Debounce: 100 * time.Millisecond,
	}, rec.onChange)

	if err := os.MkdirAll(filepath.Join(dir, "gen"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "notes.txt"))
	writeFile(t, filepath.Join(dir, "node_modules", "x.go"))
	writeFile(t, filepath.Join(dir, "gen", "y.go"))
	writeFile(t, filepath.Join(dir, "main.go"))

	got := rec.wait(t)
	if !slices.Equal(got, []string{"main.go"}) {
		t.Errorf("changed = %v, want [main.go]", got)
	}
}

func TestWatcher_NewDirectoriesAreWatched(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	runWatcher(t, Config{Dir: dir, Patterns: []string{"**/*.go"}, Debounce: 100 * time.Millisecond}, rec.onChange)

	sub := filepath.Join(dir, "pkg")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Let the create event register the directory before writing into it.
	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(sub, "lib.go"))

	got := rec.wait(t)
	if !slices.Contains(got, "pkg/lib.go") {
		t.Errorf("changed = %v, want pkg/lib.go", got)
	}
}

type fakeRebuilder struct {
	changed string
	req     *session.RebuildRequest
}

func (f *fakeRebuilder) Rebuild(_ context.Context, changed string, req *session.RebuildRequest) error {
	f.changed, f.req = changed, req
	return nil
}

func TestRebuildOnChange(t *testing.T) {
	t.Parallel()

	r := &fakeRebuilder{}
	fn := RebuildOnChange(r, "/svc")
	if err := fn(context.Background(), nil); err != nil || r.changed != "" {
		t.Fatalf("empty change set should not rebuild: %v %q", err, r.changed)
	}
	if err := fn(context.Background(), []string{"app.py", "z.txt"}); err != nil {
		t.Fatal(err)
	}
	if r.changed != filepath.Join("/svc", "app.py") || r.req != nil {
		t.Errorf("Rebuild(%q, %v)", r.changed, r.req)
	}
}

func TestWatcher_RunTwice(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	if err := w.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      Config
		problems int
	}{
		{"valid", Config{Dir: ".", Patterns: []string{"**/*.py"}}, 0},
		{"empty dir", Config{}, 1},
		{"bad pattern", Config{Dir: ".", Patterns: []string{"[a-"}}, 1},
		{"bad everything", Config{Patterns: []string{"[x"}, Ignore: []string{"{a"}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.problems == 0 {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			var cfgErr *InvalidConfigError
			if !errors.As(err, &cfgErr) || !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() error = %v, want InvalidConfigError", err)
			}
			if len(cfgErr.Problems) != tt.problems {
				t.Errorf("problems = %v, want %d", cfgErr.Problems, tt.problems)
			}
		})
	}
}

func TestConfig_DebounceDefault(t *testing.T) {
	t.Parallel()

	if got := (Config{}).debounce(); got != DefaultDebounce {
		t.Errorf("debounce() = %v", got)
	}
	if got := (Config{Debounce: time.Second}).debounce(); got != time.Second {
		t.Errorf("debounce() = %v", got)
	}
	ign := DefaultIgnores()
	ign[0] = "changed"
	if DefaultIgnores()[0] == "changed" {
		t.Error("DefaultIgnores() must return a copy")
	}
}
