// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"
	"time"
)

func TestContainerEngine_Validate(t *testing.T) {
	t.Parallel()

	for _, ce := range []ContainerEngine{ContainerEngineDocker, ContainerEnginePodman} {
		if err := ce.Validate(); err != nil {
			t.Errorf("%q.Validate() = %v", ce, err)
		}
	}
	err := ContainerEngine("lxc").Validate()
	var ceErr *InvalidContainerEngineError
	if !errors.As(err, &ceErr) || !errors.Is(err, ErrInvalidContainerEngine) || ceErr.Value != "lxc" {
		t.Errorf("Validate() error = %v", err)
	}
	if ContainerEnginePodman.EngineType() != "podman" {
		t.Error("EngineType() should keep the value")
	}
}

func TestColorScheme_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cs      ColorScheme
		wantErr bool
	}{
		{ColorSchemeAuto, false},
		{ColorSchemeDark, false},
		{ColorSchemeLight, false},
		{"", true},
		{"solarized", true},
	}
	for _, tt := range tests {
		err := tt.cs.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%q.Validate() = %v, wantErr %v", tt.cs, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidColorScheme) {
			t.Errorf("error should wrap ErrInvalidColorScheme: %v", err)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	bad := DefaultConfig()
	bad.ContainerEngine = "lxc"
	bad.UI.ListenPort = 70000
	bad.Subscribe.PollInterval = 0
	bad.Ports.MaxAttempts = 0
	bad.Watch.Debounce = -time.Second

	err := bad.Validate()
	var cfgErr *InvalidConfigError
	if !errors.As(err, &cfgErr) || !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(cfgErr.FieldErrors) != 5 {
		t.Errorf("FieldErrors = %v, want 5", cfgErr.FieldErrors)
	}
}

func TestConfig_ListenAddress(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if got := cfg.ListenAddress(); got != "127.0.0.1:0" {
		t.Errorf("ListenAddress() = %q", got)
	}
	cfg.UI.ListenAddr = ""
	cfg.UI.ListenPort = 8080
	if got := cfg.ListenAddress(); got != "127.0.0.1:8080" {
		t.Errorf("ListenAddress() = %q", got)
	}
}
