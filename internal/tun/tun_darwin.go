//go:build darwin

package tun

import "net/netip"

const defaultName = "utun"

// utun is point-to-point, so the first host of the subnet serves as peer.
func addrCommands(name string, prefix netip.Prefix) []command {
	addr := prefix.Addr()
	peer := addr
	if addr.Is4() {
		b := prefix.Masked().Addr().As4()
		b[3] = 1
		peer = netip.AddrFrom4(b)
	}
	family := "inet"
	if addr.Is6() {
		family = "inet6"
	}
	return []command{
		{argv: []string{"ifconfig", name, family, addr.String(), peer.String(), "up"}},
		{argv: []string{"route", "-q", "add", "-net", prefix.Masked().String(), "-interface", name}, optional: true},
	}
}

func linkCommands(name string, up bool) []command {
	state := "down"
	if up {
		state = "up"
	}
	return []command{{argv: []string{"ifconfig", name, state}}}
}

// Preflight is a no-op; utun is built into the kernel.
func Preflight() error { return nil }
