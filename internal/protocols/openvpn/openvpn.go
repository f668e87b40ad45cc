// Package openvpn runs OpenVPN profiles through the openvpn binary and its
// management interface.
package openvpn

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/user/vpn-orchestrator/internal/protocols"
	"github.com/user/vpn-orchestrator/internal/provider"
)

// DefaultPort is used when the profile has no port.
const DefaultPort = "1194"

// Config is the tunnel configuration taken from a profile.
type Config struct {
	Binary   string
	Base     string
	Remote   string
	Port     string
	Proto    string
	Device   string
	AuthUser string
	AuthPass string
	Extra    []string
}

// ParseConfig reads the profile options:
//
//	config     path of a base .ovpn file with certificates (required)
//	auth_user  username sent when the server asks for credentials
//	device     tun device name
//	binary     path of the openvpn executable
//	extra      additional arguments, space separated
//
// The password comes from secrets.
func ParseConfig(p provider.Profile, secrets map[string]string) (Config, error) {
	cfg := Config{
		Base:     p.Options["config"],
		Remote:   p.Server,
		Port:     p.Port,
		Proto:    transport(p.Protocol),
		Device:   p.Options["device"],
		Binary:   p.Options["binary"],
		AuthUser: p.Options["auth_user"],
		AuthPass: secrets["password"],
		Extra:    strings.Fields(p.Options["extra"]),
	}
	if cfg.Remote == "" {
		return cfg, fmt.Errorf("openvpn profile %q has no server", p.Name)
	}
	if cfg.Base == "" {
		return cfg, fmt.Errorf("openvpn profile %q has no config file", p.Name)
	}
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if n, err := strconv.Atoi(cfg.Port); err != nil || n <= 0 || n > 65535 {
		return cfg, fmt.Errorf("invalid port %q", cfg.Port)
	}
	if cfg.AuthUser != "" && cfg.AuthPass == "" {
		return cfg, fmt.Errorf("openvpn profile %q has a user but no password", p.Name)
	}
	return cfg, nil
}

// transport maps a protocol name to the openvpn --proto value. Only UDP
// runs over datagrams; the other transports are stream based.
func transport(protocol string) string {
	if protocol == "" || protocol == protocols.UDP {
		return "udp"
	}
	return "tcp-client"
}

// Args builds the command line. The process connects back to mgmt and
// waits there until released.
func (c Config) Args(mgmtHost, mgmtPort string) []string {
	args := []string{
		"--config", c.Base,
		"--remote", c.Remote, c.Port,
		"--proto", c.Proto,
		"--management", mgmtHost, mgmtPort,
		"--management-client",
		"--management-hold",
		"--management-query-passwords",
		"--auth-retry", "interact",
		"--dev-type", "tun",
	}
	if c.Device != "" {
		args = append(args, "--dev", c.Device)
	} else {
		args = append(args, "--dev", "tun")
	}
	return append(args, c.Extra...)
}

// lookBinary finds openvpn next to our executable or on PATH.
func (c Config) lookBinary() (string, error) {
	if c.Binary != "" {
		return c.Binary, nil
	}
	if exe, err := os.Executable(); err == nil {
		local := filepath.Join(filepath.Dir(exe), binaryName)
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}
	}
	path, err := exec.LookPath(binaryName)
	if err != nil {
		return "", fmt.Errorf("openvpn binary not found: %w", err)
	}
	return path, nil
}
