//go:build windows

package tun

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

const defaultName = "VPNOrchestrator"

func addrCommands(name string, prefix netip.Prefix) []command {
	if prefix.Addr().Is6() {
		return []command{{argv: []string{"netsh", "interface", "ipv6", "set", "address",
			"interface=" + name, "address=" + prefix.String()}}}
	}
	mask := net.CIDRMask(prefix.Bits(), 32)
	return []command{{argv: []string{"netsh", "interface", "ipv4", "set", "address",
		"name=" + name,
		"source=static",
		"address=" + prefix.Addr().String(),
		fmt.Sprintf("mask=%d.%d.%d.%d", mask[0], mask[1], mask[2], mask[3]),
		"gateway=none",
	}}}
}

func linkCommands(name string, up bool) []command {
	state := "admin=disable"
	if up {
		state = "admin=enable"
	}
	return []command{{argv: []string{"netsh", "interface", "set", "interface", name, state}}}
}

// Preflight checks that wintun.dll can be loaded, either from next to the
// executable or from the system search path.
func Preflight() error {
	if exe, err := os.Executable(); err == nil {
		if _, err := os.Stat(filepath.Join(filepath.Dir(exe), "wintun.dll")); err == nil {
			return nil
		}
	}
	dll, err := windows.LoadDLL("wintun.dll")
	if err != nil {
		return fmt.Errorf("wintun.dll not found; place it next to the executable: %w", err)
	}
	return dll.Release()
}
