package config

import (
	"fmt"
	"net"
	"net/netip"
)

// Validate enforces SPEC_FULL.md §9's configuration constraints, matching
// the teacher's state/validation.go *Validator function style.
func Validate(cfg *Config) error {
	if err := MainAddressValidator(cfg.MainAddress); err != nil {
		return err
	}
	if err := InterfaceValidator(cfg.Interface); err != nil {
		return err
	}
	if err := TtlValidator(cfg.Ttl); err != nil {
		return err
	}
	for _, h := range cfg.Hna {
		if err := HnaValidator(h); err != nil {
			return err
		}
	}
	return nil
}

// MainAddressValidator requires a parseable IPv4 address.
func MainAddressValidator(s string) error {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return fmt.Errorf("config: main_address %q: %w", s, err)
	}
	if !addr.Is4() {
		return fmt.Errorf("config: main_address %q must be IPv4", s)
	}
	return nil
}

// InterfaceValidator requires a name resolvable to a live network
// interface on this host.
func InterfaceValidator(name string) error {
	if name == "" {
		return fmt.Errorf("config: interface must not be empty")
	}
	if _, err := net.InterfaceByName(name); err != nil {
		return fmt.Errorf("config: interface %q: %w", name, err)
	}
	return nil
}

// TtlValidator implements spec.md §7's ConfigOutOfRange disposition: TTL
// outside [2,255] fails configuration outright, before the agent starts.
func TtlValidator(ttl uint8) error {
	if ttl < 2 {
		return fmt.Errorf("config: ttl %d out of range, must be >= 2", ttl)
	}
	return nil
}

// HnaValidator requires a parseable IPv4 network address and a netmask of
// at most 32 bits.
func HnaValidator(h HnaConfig) error {
	addr, err := netip.ParseAddr(h.Network)
	if err != nil {
		return fmt.Errorf("config: hna network %q: %w", h.Network, err)
	}
	if !addr.Is4() {
		return fmt.Errorf("config: hna network %q must be IPv4", h.Network)
	}
	if h.NetmaskBits > uint8(addr.BitLen()) {
		return fmt.Errorf("config: hna netmask_bits %d exceeds address width", h.NetmaskBits)
	}
	return nil
}
