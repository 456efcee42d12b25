// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "HWLINK_CONFIG"

// Backend kinds.
const (
	BackendCANSim    = "cansim"
	BackendSocketCAN = "socketcan"
	BackendEcho      = "echo"
	BackendSerial    = "serial"
)

// Direct transports.
const (
	TransportQUIC   = "quic"
	TransportWebRTC = "webrtc"
	TransportTCP    = "tcp"
)

// Config is the configuration of an hwlink server.
type Config struct {
	// Backend selects and configures the device.
	Backend BackendConfig `yaml:"backend"`

	// Direct configures the direct-session transport.
	Direct DirectConfig `yaml:"direct"`

	// HTTP configures the listener serving /metrics and, for the
	// WebRTC transport, signaling.
	HTTP HTTPConfig `yaml:"http"`

	// Relay enables the relay loops when present.
	Relay *RelayConfig `yaml:"relay,omitempty"`

	// SingleShot serves one direct session and exits.
	SingleShot bool `yaml:"single_shot"`
}

// BackendConfig selects the device behind the bridge.
type BackendConfig struct {
	// Kind is cansim, socketcan, echo, or serial.
	Kind string `yaml:"kind"`

	// Motors is the simulated motor count (cansim).
	Motors int `yaml:"motors"`

	// StateInterval is the simulated state broadcast period (cansim).
	StateInterval string `yaml:"state_interval"`

	// CANInterface is the SocketCAN interface name, e.g. can0.
	CANInterface string `yaml:"can_interface"`

	// SerialDevice is the serial device path, e.g. /dev/ttyUSB0.
	SerialDevice string `yaml:"serial_device"`

	// Baud is the serial line rate.
	Baud int `yaml:"baud"`
}

// DirectConfig configures the direct-session transport.
type DirectConfig struct {
	// Transport is quic, webrtc, or tcp.
	Transport string `yaml:"transport"`

	// Listen is the UDP or TCP address for quic and tcp.
	Listen string `yaml:"listen"`

	// Advertise is the address clients are told to dial. For quic it
	// is host:port; for webrtc it is the public signaling URL. Empty
	// means derive it from the listen address.
	Advertise string `yaml:"advertise"`

	// KeyDir holds the server's identity key.
	KeyDir string `yaml:"key_dir"`

	// ICEServers lists STUN/TURN URLs for webrtc.
	ICEServers    []string `yaml:"ice_servers"`
	ICEUsername   string   `yaml:"ice_username"`
	ICECredential string   `yaml:"ice_credential"`
}

// HTTPConfig configures the server's HTTP listener.
type HTTPConfig struct {
	// Listen is the address, or empty to disable the listener.
	Listen string `yaml:"listen"`
}

// RelayConfig locates the relay.
type RelayConfig struct {
	URL          string `yaml:"url"`
	BasePath     string `yaml:"base_path"`
	Insecure     bool   `yaml:"insecure"`
	StatePath    string `yaml:"state_path"`
	CommandsPath string `yaml:"commands_path"`
	Track        string `yaml:"track"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind:          BackendCANSim,
			Motors:        4,
			StateInterval: "20ms",
			CANInterface:  "can0",
			SerialDevice:  "/dev/ttyUSB0",
			Baud:          115200,
		},
		Direct: DirectConfig{
			Transport: TransportQUIC,
			Listen:    "0.0.0.0:4433",
			KeyDir:    "${HOME}/.local/state/hwlink",
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// Load loads the file named by HWLINK_CONFIG. It fails if the variable
// is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your hwlink.yaml config file, or use --config flag", EnvVar)
	}
	return LoadFile(configPath)
}

// Resolve loads flagPath if set, else the file named by HWLINK_CONFIG
// if set, else returns Default() with variables expanded.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	if os.Getenv(EnvVar) != "" {
		return Load()
	}
	cfg := Default()
	cfg.ExpandVariables()
	return cfg, nil
}

// LoadFile loads configuration from path over Default(). Fields absent
// from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.ExpandVariables()
	return cfg, nil
}

// ExpandVariables expands ${VAR} and ${VAR:-default} patterns in path
// and address fields. Call it again after overriding fields from flags.
func (c *Config) ExpandVariables() {
	c.Direct.KeyDir = expandVars(c.Direct.KeyDir)
	c.Direct.Listen = expandVars(c.Direct.Listen)
	c.Direct.Advertise = expandVars(c.Direct.Advertise)
	c.HTTP.Listen = expandVars(c.HTTP.Listen)
	c.Backend.SerialDevice = expandVars(c.Backend.SerialDevice)
	if c.Relay != nil {
		c.Relay.URL = expandVars(c.Relay.URL)
		c.Relay.BasePath = expandVars(c.Relay.BasePath)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// StateIntervalDuration parses Backend.StateInterval.
func (c *Config) StateIntervalDuration() (time.Duration, error) {
	interval, err := time.ParseDuration(c.Backend.StateInterval)
	if err != nil {
		return 0, fmt.Errorf("backend.state_interval: %w", err)
	}
	return interval, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	backends := []string{BackendCANSim, BackendSocketCAN, BackendEcho, BackendSerial}
	if !slices.Contains(backends, c.Backend.Kind) {
		errs = append(errs, fmt.Errorf("backend.kind must be one of: %v", backends))
	}
	switch c.Backend.Kind {
	case BackendCANSim:
		if c.Backend.Motors < 1 || c.Backend.Motors > 256 {
			errs = append(errs, fmt.Errorf("backend.motors must be between 1 and 256, got %d", c.Backend.Motors))
		}
		if interval, err := c.StateIntervalDuration(); err != nil {
			errs = append(errs, err)
		} else if interval <= 0 {
			errs = append(errs, errors.New("backend.state_interval must be positive"))
		}
	case BackendSocketCAN:
		if c.Backend.CANInterface == "" {
			errs = append(errs, errors.New("backend.can_interface is required"))
		}
	case BackendSerial:
		if c.Backend.SerialDevice == "" {
			errs = append(errs, errors.New("backend.serial_device is required"))
		}
		if c.Backend.Baud <= 0 {
			errs = append(errs, fmt.Errorf("backend.baud must be positive, got %d", c.Backend.Baud))
		}
	}

	transports := []string{TransportQUIC, TransportWebRTC, TransportTCP}
	if !slices.Contains(transports, c.Direct.Transport) {
		errs = append(errs, fmt.Errorf("direct.transport must be one of: %v", transports))
	}
	switch c.Direct.Transport {
	case TransportQUIC, TransportTCP:
		if c.Direct.Listen == "" {
			errs = append(errs, errors.New("direct.listen is required"))
		}
	case TransportWebRTC:
		if c.HTTP.Listen == "" {
			errs = append(errs, errors.New("http.listen is required for webrtc signaling"))
		}
	}
	if c.Direct.Transport != TransportTCP && c.Direct.KeyDir == "" {
		errs = append(errs, errors.New("direct.key_dir is required"))
	}

	if c.Relay != nil {
		if c.Relay.URL == "" {
			errs = append(errs, errors.New("relay.url is required when relay is configured"))
		}
		if c.Relay.BasePath == "" {
			errs = append(errs, errors.New("relay.base_path is required when relay is configured"))
		}
	}

	return errors.Join(errs...)
}
