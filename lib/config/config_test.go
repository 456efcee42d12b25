// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "hwlink.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Backend.Kind != BackendCANSim {
		t.Errorf("expected backend=cansim, got %s", cfg.Backend.Kind)
	}
	if cfg.Direct.Transport != TransportQUIC {
		t.Errorf("expected transport=quic, got %s", cfg.Direct.Transport)
	}
	if cfg.Relay != nil {
		t.Error("expected relay disabled by default")
	}

	t.Setenv("HOME", "/home/operator")
	cfg.ExpandVariables()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.Direct.KeyDir != "/home/operator/.local/state/hwlink" {
		t.Errorf("expected expanded key_dir, got %s", cfg.Direct.KeyDir)
	}
}

func TestLoad_RequiresConfigVar(t *testing.T) {
	t.Setenv(EnvVar, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when HWLINK_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "HWLINK_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithConfigVar(t *testing.T) {
	t.Setenv(EnvVar, writeConfig(t, `
backend:
  kind: socketcan
  can_interface: vcan0
direct:
  transport: webrtc
  ice_servers:
    - stun:stun.example.net:3478
relay:
  url: wss://relay.example.net
  base_path: labs/rig-1
  insecure: true
`))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Backend.Kind != BackendSocketCAN || cfg.Backend.CANInterface != "vcan0" {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Direct.Transport != TransportWebRTC || len(cfg.Direct.ICEServers) != 1 {
		t.Errorf("direct = %+v", cfg.Direct)
	}
	// Unset fields keep their defaults.
	if cfg.Backend.Motors != 4 || cfg.HTTP.Listen != "127.0.0.1:9464" {
		t.Errorf("defaults lost: motors=%d http=%s", cfg.Backend.Motors, cfg.HTTP.Listen)
	}
	if cfg.Relay == nil || !cfg.Relay.Insecure || cfg.Relay.BasePath != "labs/rig-1" {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestResolve(t *testing.T) {
	flagPath := writeConfig(t, "backend:\n  kind: echo\n")
	envPath := writeConfig(t, "backend:\n  kind: serial\n")

	t.Run("flag wins", func(t *testing.T) {
		t.Setenv(EnvVar, envPath)
		cfg, err := Resolve(flagPath)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if cfg.Backend.Kind != BackendEcho {
			t.Errorf("backend = %s, want echo", cfg.Backend.Kind)
		}
	})
	t.Run("environment", func(t *testing.T) {
		t.Setenv(EnvVar, envPath)
		cfg, err := Resolve("")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if cfg.Backend.Kind != BackendSerial {
			t.Errorf("backend = %s, want serial", cfg.Backend.Kind)
		}
	})
	t.Run("defaults", func(t *testing.T) {
		t.Setenv(EnvVar, "")
		cfg, err := Resolve("")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if cfg.Backend.Kind != BackendCANSim {
			t.Errorf("backend = %s, want cansim", cfg.Backend.Kind)
		}
	})
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadFile(writeConfig(t, "backend: [unclosed")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("HWLINK_TEST_DIR", "/srv/hwlink")
	t.Setenv("HWLINK_TEST_EMPTY", "")

	tests := []struct {
		input string
		want  string
	}{
		{"${HWLINK_TEST_DIR}/keys", "/srv/hwlink/keys"},
		{"${HWLINK_TEST_EMPTY:-/fallback}", "/fallback"},
		{"${HWLINK_TEST_UNSET_VAR:-0.0.0.0:4433}", "0.0.0.0:4433"},
		{"${HWLINK_TEST_UNSET_VAR}", ""},
		{"plain", "plain"},
	}
	for _, test := range tests {
		if got := expandVars(test.input); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestStateIntervalDuration(t *testing.T) {
	cfg := Default()
	interval, err := cfg.StateIntervalDuration()
	if err != nil {
		t.Fatalf("StateIntervalDuration: %v", err)
	}
	if interval != 20*time.Millisecond {
		t.Errorf("interval = %v, want 20ms", interval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Backend.Kind = "gpio" }, "backend.kind"},
		{"too many motors", func(c *Config) { c.Backend.Motors = 300 }, "backend.motors"},
		{"bad interval", func(c *Config) { c.Backend.StateInterval = "fast" }, "backend.state_interval"},
		{"negative interval", func(c *Config) { c.Backend.StateInterval = "-1s" }, "backend.state_interval"},
		{"socketcan without interface", func(c *Config) {
			c.Backend.Kind = BackendSocketCAN
			c.Backend.CANInterface = ""
		}, "backend.can_interface"},
		{"serial without baud", func(c *Config) {
			c.Backend.Kind = BackendSerial
			c.Backend.Baud = 0
		}, "backend.baud"},
		{"unknown transport", func(c *Config) { c.Direct.Transport = "udp" }, "direct.transport"},
		{"quic without listen", func(c *Config) { c.Direct.Listen = "" }, "direct.listen"},
		{"webrtc without http", func(c *Config) {
			c.Direct.Transport = TransportWebRTC
			c.HTTP.Listen = ""
		}, "http.listen"},
		{"quic without key dir", func(c *Config) { c.Direct.KeyDir = "" }, "direct.key_dir"},
		{"relay without url", func(c *Config) { c.Relay = &RelayConfig{BasePath: "a"} }, "relay.url"},
		{"relay without base", func(c *Config) { c.Relay = &RelayConfig{URL: "wss://r"} }, "relay.base_path"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error %q does not mention %s", err, test.wantErr)
			}
		})
	}

	t.Run("tcp needs no key dir", func(t *testing.T) {
		cfg := Default()
		cfg.Direct.Transport = TransportTCP
		cfg.Direct.KeyDir = ""
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})
}
