// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invowk/msrun/internal/container"
	"github.com/invowk/msrun/internal/typesys"
)

const (
	// ContainerEngineDocker uses Docker as the container runtime.
	ContainerEngineDocker ContainerEngine = "docker"
	// ContainerEnginePodman uses Podman as the container runtime.
	ContainerEnginePodman ContainerEngine = "podman"

	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// DefaultPollInterval is how often a subscription checks its container.
	DefaultPollInterval = 1500 * time.Millisecond
	// DefaultListenAddr binds the UI server to loopback only.
	DefaultListenAddr = "127.0.0.1"
)

var (
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine specifies which container runtime to use.
	ContainerEngine string

	// InvalidContainerEngineError is returned when a ContainerEngine value is not recognized.
	InvalidContainerEngineError struct {
		Value ContainerEngine
	}

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidConfigError collects every field error found by Config.Validate.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config is the msrun user configuration.
	Config struct {
		// ContainerEngine selects the engine CLI; the other one is the fallback.
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		UI              UIConfig        `json:"ui" mapstructure:"ui"`
		Subscribe       SubscribeConfig `json:"subscribe" mapstructure:"subscribe"`
		Ports           PortsConfig     `json:"ports" mapstructure:"ports"`
		Types           TypesConfig     `json:"types" mapstructure:"types"`
		Watch           WatchConfig     `json:"watch" mapstructure:"watch"`
	}

	// UIConfig configures terminal output and the UI server.
	UIConfig struct {
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		ListenAddr  string      `json:"listen_addr" mapstructure:"listen_addr"`
		// ListenPort 0 lets the system pick a port.
		ListenPort int `json:"listen_port" mapstructure:"listen_port"`
	}

	// SubscribeConfig configures event subscriptions.
	SubscribeConfig struct {
		PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	}

	// PortsConfig bounds host port allocation for exposed services.
	PortsConfig struct {
		Min         int `json:"min" mapstructure:"min"`
		Max         int `json:"max" mapstructure:"max"`
		MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`
	}

	// TypesConfig configures the argument type system.
	TypesConfig struct {
		PathMode typesys.PathMode `json:"path_mode" mapstructure:"path_mode"`
	}

	// WatchConfig configures rebuild-on-change.
	WatchConfig struct {
		Patterns []string      `json:"patterns" mapstructure:"patterns"`
		Ignore   []string      `json:"ignore" mapstructure:"ignore"`
		Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
	}
)

// String returns the string representation of the ContainerEngine.
func (ce ContainerEngine) String() string { return string(ce) }

// Validate returns nil if the ContainerEngine is one of the defined engine types.
func (ce ContainerEngine) Validate() error {
	switch ce {
	case ContainerEngineDocker, ContainerEnginePodman:
		return nil
	default:
		return &InvalidContainerEngineError{Value: ce}
	}
}

// EngineType converts to the container package type.
func (ce ContainerEngine) EngineType() container.EngineType {
	return container.EngineType(ce)
}

func (e *InvalidContainerEngineError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: docker, podman)", e.Value)
}

func (e *InvalidContainerEngineError) Unwrap() error { return ErrInvalidContainerEngine }

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// Validate returns nil if the ColorScheme is one of the defined schemes.
func (cs ColorScheme) Validate() error {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return nil
	default:
		return &InvalidColorSchemeError{Value: cs}
	}
}

func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate checks every field that the CUE schema cannot check alone,
// and the enum fields again for configs built in code.
func (c *Config) Validate() error {
	var errs []error
	if err := c.ContainerEngine.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.UI.ColorScheme.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.UI.ListenPort < 0 || c.UI.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("ui.listen_port %d out of range", c.UI.ListenPort))
	}
	if c.Subscribe.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("subscribe.poll_interval must be positive, got %s", c.Subscribe.PollInterval))
	}
	if err := c.Types.PathMode.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Ports.Min < 1 || c.Ports.Max > 65536 || c.Ports.Min >= c.Ports.Max {
		errs = append(errs, fmt.Errorf("ports range [%d, %d) is invalid", c.Ports.Min, c.Ports.Max))
	}
	if c.Ports.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("ports.max_attempts must be at least 1, got %d", c.Ports.MaxAttempts))
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// ListenAddress joins the UI listen address and port.
func (c *Config) ListenAddress() string {
	host := c.UI.ListenAddr
	if host == "" {
		host = DefaultListenAddr
	}
	return fmt.Sprintf("%s:%d", host, c.UI.ListenPort)
}

// PortAllocator returns an allocator bounded by the ports section.
func (c *Config) PortAllocator() *container.PortAllocator {
	return &container.PortAllocator{
		Min:         container.NetworkPort(c.Ports.Min),
		Max:         container.NetworkPort(c.Ports.Max),
		MaxAttempts: c.Ports.MaxAttempts,
	}
}

// TypeSystem returns a type system using the configured path mode.
func (c *Config) TypeSystem() *typesys.System {
	return typesys.New(typesys.WithPathMode(c.Types.PathMode))
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ContainerEngine: ContainerEngineDocker,
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
			ListenAddr:  DefaultListenAddr,
		},
		Subscribe: SubscribeConfig{PollInterval: DefaultPollInterval},
		Ports: PortsConfig{
			Min:         int(container.DefaultPortMin),
			Max:         int(container.DefaultPortMax),
			MaxAttempts: container.DefaultPortAttempts,
		},
		Types: TypesConfig{PathMode: typesys.PathStrict},
		Watch: WatchConfig{
			Patterns: []string{},
			Ignore:   []string{},
			Debounce: 500 * time.Millisecond,
		},
	}
}
