//go:build linux

package tun

import (
	"fmt"
	"net/netip"
	"os"
)

const defaultName = "wg-orch0"

func addrCommands(name string, prefix netip.Prefix) []command {
	return []command{
		{argv: []string{"ip", "addr", "replace", prefix.String(), "dev", name}},
	}
}

func linkCommands(name string, up bool) []command {
	state := "down"
	if up {
		state = "up"
	}
	return []command{{argv: []string{"ip", "link", "set", "dev", name, state}}}
}

// Preflight checks that the TUN clone device exists.
func Preflight() error {
	if _, err := os.Stat("/dev/net/tun"); err != nil {
		return fmt.Errorf("TUN device unavailable: %w", err)
	}
	return nil
}
