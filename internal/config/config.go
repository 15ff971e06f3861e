// Package config loads the relay server's process configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the relay server.
type Config struct {
	// Reliable channel (TCP)
	ReliableBindAddress string `yaml:"reliable_bind_address"`
	ReliablePort        int    `yaml:"reliable_port"`

	// Datagram channel (UDP)
	DatagramBindAddress string `yaml:"datagram_bind_address"`
	DatagramPort        int    `yaml:"datagram_port"`

	// Auth / policy
	Standalone          bool `yaml:"standalone"`
	Whitelist           bool `yaml:"whitelist"`
	Maintenance         bool `yaml:"maintenance"`
	FragmentationFloor  int  `yaml:"fragmentation_floor"`
	TPS                 uint32 `yaml:"tps"`

	// Timeouts
	UnauthorizedIdleTimeout time.Duration `yaml:"unauthorized_idle_timeout"`
	ActiveIdleTimeout       time.Duration `yaml:"active_idle_timeout"`
	BootRefreshInterval     time.Duration `yaml:"boot_refresh_interval"`
	StatusPrintInterval     time.Duration `yaml:"status_print_interval"`

	// Collaborators
	CentralBaseURL     string `yaml:"central_base_url"`
	TokenIssuerBaseURL string `yaml:"token_issuer_base_url"`

	NoChat bool `yaml:"no_chat"`

	LogLevel string `yaml:"log_level"`
}

// Default returns a Config with sensible defaults for local development.
func Default() Config {
	return Config{
		ReliableBindAddress: "0.0.0.0",
		ReliablePort:        4201,
		DatagramBindAddress: "0.0.0.0",
		DatagramPort:        4202,
		Standalone:          true,
		Whitelist:           false,
		Maintenance:         false,
		FragmentationFloor:  1300,
		TPS:                 30,

		UnauthorizedIdleTimeout: 90 * time.Second,
		ActiveIdleTimeout:       60 * time.Second,
		BootRefreshInterval:     5 * time.Minute,
		StatusPrintInterval:     60 * time.Second,

		LogLevel: "info",
	}
}

// Load reads YAML configuration from path, falling back to Default() when
// the file does not exist.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
