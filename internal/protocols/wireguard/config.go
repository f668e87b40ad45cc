package wireguard

import (
	"bufio"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/user/vpn-orchestrator/internal/provider"
)

// DefaultPort is the WireGuard port used when the profile has none.
const DefaultPort = "51820"

// Key is a Curve25519 key.
type Key [32]byte

// ParseKey decodes a base64 key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return k, err
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("key must be %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

func (k Key) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Config is the tunnel configuration taken from a profile.
type Config struct {
	Interface  string
	MTU        int
	Address    netip.Prefix
	PrivateKey Key
	PeerKey    Key
	Preshared  *Key
	Endpoint   string
	AllowedIPs []netip.Prefix
	Keepalive  int
}

// ParseConfig reads the profile options:
//
//	address     tunnel address in CIDR form (required)
//	public_key  peer public key (required)
//	allowed_ips comma separated prefixes, default 0.0.0.0/0,::/0
//	keepalive   persistent keepalive in seconds
//	mtu         interface MTU
//	interface   interface name
//
// private_key and preshared_key come from secrets.
func ParseConfig(p provider.Profile, secrets map[string]string) (Config, error) {
	var cfg Config
	opts := p.Options

	if p.Server == "" {
		return cfg, fmt.Errorf("wireguard profile %q has no server", p.Name)
	}
	port := p.Port
	if port == "" {
		port = DefaultPort
	}
	cfg.Endpoint = net.JoinHostPort(p.Server, port)

	addr, err := netip.ParsePrefix(opts["address"])
	if err != nil {
		return cfg, fmt.Errorf("invalid address: %w", err)
	}
	cfg.Address = addr

	if cfg.PrivateKey, err = ParseKey(secrets["private_key"]); err != nil {
		return cfg, fmt.Errorf("invalid private key: %w", err)
	}
	if cfg.PeerKey, err = ParseKey(opts["public_key"]); err != nil {
		return cfg, fmt.Errorf("invalid peer public key: %w", err)
	}
	if s := secrets["preshared_key"]; s != "" {
		psk, err := ParseKey(s)
		if err != nil {
			return cfg, fmt.Errorf("invalid preshared key: %w", err)
		}
		cfg.Preshared = &psk
	}

	allowed := opts["allowed_ips"]
	if allowed == "" {
		allowed = "0.0.0.0/0,::/0"
	}
	for _, s := range strings.Split(allowed, ",") {
		pfx, err := netip.ParsePrefix(strings.TrimSpace(s))
		if err != nil {
			return cfg, fmt.Errorf("invalid allowed ip %q: %w", s, err)
		}
		cfg.AllowedIPs = append(cfg.AllowedIPs, pfx)
	}

	if s := opts["keepalive"]; s != "" {
		if cfg.Keepalive, err = strconv.Atoi(s); err != nil || cfg.Keepalive < 0 {
			return cfg, fmt.Errorf("invalid keepalive %q", s)
		}
	}
	if s := opts["mtu"]; s != "" {
		if cfg.MTU, err = strconv.Atoi(s); err != nil || cfg.MTU < 576 {
			return cfg, fmt.Errorf("invalid mtu %q", s)
		}
	}
	cfg.Interface = opts["interface"]
	return cfg, nil
}

// PublicKey derives the interface public key from the private key.
func (c Config) PublicKey() (Key, error) {
	var pub Key
	b, err := curve25519.X25519(c.PrivateKey[:], curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], b)
	return pub, nil
}

// UAPI renders the device configuration. Keys are hex encoded as the
// userspace API expects.
func (c Config) UAPI(endpoint netip.AddrPort) string {
	var b strings.Builder
	fmt.Fprintf(&b, "private_key=%s\n", hex.EncodeToString(c.PrivateKey[:]))
	b.WriteString("replace_peers=true\n")
	fmt.Fprintf(&b, "public_key=%s\n", hex.EncodeToString(c.PeerKey[:]))
	if c.Preshared != nil {
		fmt.Fprintf(&b, "preshared_key=%s\n", hex.EncodeToString(c.Preshared[:]))
	}
	fmt.Fprintf(&b, "endpoint=%s\n", endpoint)
	if c.Keepalive > 0 {
		fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", c.Keepalive)
	}
	b.WriteString("replace_allowed_ips=true\n")
	for _, p := range c.AllowedIPs {
		fmt.Fprintf(&b, "allowed_ip=%s\n", p)
	}
	return b.String()
}

// lastHandshake reads the most recent peer handshake from an IpcGet dump.
func lastHandshake(status string) time.Time {
	var sec, nsec int64
	sc := bufio.NewScanner(strings.NewReader(status))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "last_handshake_time_sec":
			sec, _ = strconv.ParseInt(value, 10, 64)
		case "last_handshake_time_nsec":
			nsec, _ = strconv.ParseInt(value, 10, 64)
		}
	}
	if sec == 0 && nsec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, nsec)
}
