// Package config loads and validates the on-disk node configuration
// (spec.md §6, SPEC_FULL.md §9), YAML read through the same
// github.com/goccy/go-yaml path core/entrypoint.go uses for the teacher's
// central/node config files.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/batmaniv/batmand/ogm"
	"github.com/batmaniv/batmand/wire"
)

// GatewayConfig mirrors the originator's optional gateway advertisement
// (spec.md §3's gw_flags/gw_port).
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Class   uint8  `yaml:"class,omitempty"`
	Port    uint16 `yaml:"port,omitempty"`
}

// HnaConfig mirrors one Host Network Announcement this node originates.
type HnaConfig struct {
	Network     string `yaml:"network"`
	NetmaskBits uint8  `yaml:"netmask_bits"`
}

// Config is the complete on-disk node configuration.
type Config struct {
	MainAddress  string        `yaml:"main_address"`
	Interface    string        `yaml:"interface"`
	OgmInterval  time.Duration `yaml:"ogm_interval"`
	OgmJitter    time.Duration `yaml:"ogm_interval_jitter"`
	Ttl          uint8         `yaml:"ttl"`
	PurgeTimeout time.Duration `yaml:"purge_timeout,omitempty"`
	Gateway      GatewayConfig `yaml:"gateway,omitempty"`
	Hna          []HnaConfig   `yaml:"hna,omitempty"`
	LogLevel     string        `yaml:"log_level,omitempty"`
}

// Default returns the configuration spec.md §6's defaults describe.
func Default() Config {
	return Config{
		Interface:   "eth0",
		OgmInterval: time.Second,
		OgmJitter:   200 * time.Millisecond,
		Ttl:         64,
		LogLevel:    "info",
	}
}

// Load reads and parses a YAML config file at path, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML, creating the file if necessary.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// OgmConfig translates the on-disk settings into the shape ogm.NewEngine
// expects. HNA entries that fail to parse are skipped rather than erroring
// out here: Validate rejects them before Load ever returns a *Config, so
// this only defends against a Config built by hand without going through
// Load.
func (c *Config) OgmConfig() ogm.Config {
	hnas := make([]wire.HNA, 0, len(c.Hna))
	for _, h := range c.Hna {
		addr, err := netip.ParseAddr(h.Network)
		if err != nil {
			continue
		}
		network, err := wire.AddressFromAddr(addr)
		if err != nil {
			continue
		}
		hnas = append(hnas, wire.HNA{Network: network, NetmaskBits: h.NetmaskBits})
	}
	return ogm.Config{
		OgmInterval:       c.OgmInterval,
		OgmIntervalJitter: c.OgmJitter,
		Ttl:               c.Ttl,
		GatewayEnabled:    c.Gateway.Enabled,
		GwFlags:           c.Gateway.Class,
		GwPort:            c.Gateway.Port,
		Hna:               hnas,
	}
}

// Address parses MainAddress into a wire.Address.
func (c *Config) Address() (wire.Address, error) {
	addr, err := netip.ParseAddr(c.MainAddress)
	if err != nil {
		return 0, fmt.Errorf("config: main_address: %w", err)
	}
	return wire.AddressFromAddr(addr)
}
