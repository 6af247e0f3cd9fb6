// Package config provides daemon-level CLI argument parsing for panelmixd.
// This is distinct from the persisted routing configuration in
// internal/routing, which holds channel/bus/hardware-mapping state.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
)

// Config holds panelmixd's process-level settings, populated from CLI
// flags or defaults.
type Config struct {
	// ListenAddr is the control surface's HTTP bind address.
	ListenAddr string

	// RoutingConfigPath is where the persisted routing configuration
	// (channels, buses, hardware mapping) is read from and saved to.
	RoutingConfigPath string

	// HardwareProfile selects the named panel layout; currently only
	// "default" (the 9-control Panel K1-K5/S1-S4 profile) is built in.
	HardwareProfile string

	// Verbose enables debug-level logging.
	Verbose bool
}

// DefaultConfig returns a Config with sensible defaults for a single-user
// desktop install.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		ListenAddr:        "127.0.0.1:8787",
		RoutingConfigPath: filepath.Join(homeDir, ".config", "panelmix", "routing.json"),
		HardwareProfile:   "default",
		Verbose:           false,
	}
}

// ParseFlags parses command-line flags and returns a Config.
func ParseFlags(args []string) (*Config, error) {
	cfg := DefaultConfig()

	fs := pflag.NewFlagSet("panelmixd", pflag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "control surface HTTP listen address")
	fs.StringVar(&cfg.RoutingConfigPath, "routing-config", cfg.RoutingConfigPath, "path to the persisted routing configuration")
	fs.StringVar(&cfg.HardwareProfile, "hardware-profile", cfg.HardwareProfile, "named hardware panel profile")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.RoutingConfigPath == "" {
		return fmt.Errorf("config: routing-config path must not be empty")
	}
	if c.HardwareProfile != "default" {
		return fmt.Errorf("config: unknown hardware profile %q", c.HardwareProfile)
	}
	return nil
}
