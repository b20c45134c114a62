// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultDebounce is the quiet period used when Config.Debounce is not positive.
const DefaultDebounce = 500 * time.Millisecond

// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid watch configuration")

// defaultIgnores never trigger a rebuild.
var defaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

type (
	// Config selects what a Watcher observes.
	Config struct {
		// Dir is the microservice root. Events are reported relative to it.
		Dir string
		// Patterns select the files that trigger a rebuild. Empty matches all.
		Patterns []string
		// Ignore is merged with the built-in ignores.
		Ignore []string
		// Debounce falls back to DefaultDebounce when not positive.
		Debounce time.Duration
	}

	// InvalidConfigError lists every problem found by Config.Validate.
	InvalidConfigError struct {
		Problems []string
	}
)

// Validate checks that Dir is set and every pattern compiles.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Dir) == "" {
		problems = append(problems, "dir must not be empty")
	}
	for _, p := range c.Patterns {
		if !doublestar.ValidatePattern(p) {
			problems = append(problems, fmt.Sprintf("invalid pattern %q", p))
		}
	}
	for _, p := range c.Ignore {
		if !doublestar.ValidatePattern(p) {
			problems = append(problems, fmt.Sprintf("invalid ignore pattern %q", p))
		}
	}
	if len(problems) > 0 {
		return &InvalidConfigError{Problems: problems}
	}
	return nil
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(e.Problems, "; "))
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string {
	out := make([]string, len(defaultIgnores))
	copy(out, defaultIgnores)
	return out
}

func (c Config) debounce() time.Duration {
	if c.Debounce <= 0 {
		return DefaultDebounce
	}
	return c.Debounce
}
