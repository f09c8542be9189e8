package domain

import (
	"fmt"
	"net"
	"regexp"
)

var (
	macRegex       = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)
	interfaceRegex = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)
)

// IsValidMAC checks if the string is a valid 48-bit MAC address.
func IsValidMAC(mac string) bool {
	return macRegex.MatchString(mac)
}

// IsValidInterface checks if the string is a safe interface name (alphanumeric + - _)
func IsValidInterface(iface string) bool {
	// IFNAMSIZ is 16
	if len(iface) == 0 || len(iface) > 16 {
		return false
	}
	return interfaceRegex.MatchString(iface)
}

// ParseMAC validates and parses a 48-bit MAC address.
func ParseMAC(mac string) (net.HardwareAddr, error) {
	if !IsValidMAC(mac) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}
	return net.ParseMAC(mac)
}

// MustMAC parses a MAC literal and panics on failure. Only for constants.
func MustMAC(mac string) net.HardwareAddr {
	hw, err := ParseMAC(mac)
	if err != nil {
		panic(err)
	}
	return hw
}
