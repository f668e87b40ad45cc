//go:build !windows

package openvpn

const binaryName = "openvpn"
