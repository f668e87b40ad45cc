// Package ikev2 runs IKEv2 profiles through the strongSwan swanctl tool.
package ikev2

import (
	"bufio"
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/procutil"
	"github.com/user/vpn-orchestrator/internal/protocols"
	"github.com/user/vpn-orchestrator/internal/provider"
)

// DefaultConfDir is where strongSwan picks up connection files.
const DefaultConfDir = "/etc/swanctl/conf.d"

var pollInterval = 2 * time.Second

// swanctl runs the tool and returns its output.
var swanctl = func(ctx context.Context, args ...string) ([]byte, error) {
	out, err := procutil.Command(ctx, "swanctl", args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("swanctl %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Config is the tunnel configuration taken from a profile.
type Config struct {
	Name     string
	Server   string
	RemoteID string
	User     string
	Password string
	ConfDir  string
}

// ParseConfig reads the profile options:
//
//	remote_id  server identity, defaults to the server name
//	auth_user  EAP identity (required)
//	conf_dir   swanctl configuration directory
//
// The EAP password comes from secrets.
func ParseConfig(p provider.Profile, secrets map[string]string) (Config, error) {
	cfg := Config{
		Name:     connName(p.Name),
		Server:   p.Server,
		RemoteID: p.Options["remote_id"],
		User:     p.Options["auth_user"],
		Password: secrets["password"],
		ConfDir:  p.Options["conf_dir"],
	}
	if cfg.Server == "" {
		return cfg, fmt.Errorf("ikev2 profile %q has no server", p.Name)
	}
	if cfg.User == "" || cfg.Password == "" {
		return cfg, fmt.Errorf("ikev2 profile %q needs auth_user and password", p.Name)
	}
	if cfg.RemoteID == "" {
		cfg.RemoteID = cfg.Server
	}
	if cfg.ConfDir == "" {
		cfg.ConfDir = DefaultConfDir
	}
	return cfg, nil
}

func connName(profile string) string {
	return "orch-" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, profile)
}

func strs(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// Render produces the swanctl.conf fragment for the connection.
func (c Config) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "connections {\n  %s {\n", c.Name)
	b.WriteString("    version = 2\n")
	fmt.Fprintf(&b, "    remote_addrs = %s\n", c.Server)
	b.WriteString("    vips = 0.0.0.0,::\n")
	b.WriteString("    local {\n      auth = eap-mschapv2\n")
	fmt.Fprintf(&b, "      eap_id = %s\n    }\n", strs(c.User))
	b.WriteString("    remote {\n      auth = pubkey\n")
	fmt.Fprintf(&b, "      id = %s\n    }\n", strs(c.RemoteID))
	fmt.Fprintf(&b, "    children {\n      %s {\n", c.Name)
	b.WriteString("        remote_ts = 0.0.0.0/0,::/0\n")
	b.WriteString("        start_action = none\n      }\n    }\n  }\n}\n")
	fmt.Fprintf(&b, "secrets {\n  eap-%s {\n", c.Name)
	fmt.Fprintf(&b, "    id = %s\n    secret = %s\n  }\n}\n", strs(c.User), strs(c.Password))
	return b.String()
}

func (c Config) path() string {
	return filepath.Join(c.ConfDir, c.Name+".conf")
}

// saState reads `swanctl --list-sas --ike NAME` output.
func saState(out string) (protocols.State, netip.Addr) {
	var vip netip.Addr
	state := protocols.StateDisconnected
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.Contains(line, ", ESTABLISHED,"), strings.Contains(line, ", REKEYING,"):
			state = protocols.StateConnected
		case strings.Contains(line, ", CONNECTING,"):
			state = protocols.StateConnecting
		case strings.Contains(line, ", DELETING,"):
			state = protocols.StateDisconnecting
		case strings.HasPrefix(line, "local ") && strings.HasSuffix(line, "]"):
			if i := strings.LastIndex(line, " ["); i >= 0 {
				if ip, err := netip.ParseAddr(line[i+2 : len(line)-1]); err == nil {
					vip = ip
				}
			}
		}
	}
	return state, vip
}

// Tunnel is an IKEv2 tunnel for one profile.
type Tunnel struct {
	*protocols.BaseTunnel

	cfg Config

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New parses the profile and returns a stopped tunnel.
func New(p provider.Profile, secrets map[string]string) (protocols.Tunnel, error) {
	cfg, err := ParseConfig(p, secrets)
	if err != nil {
		return nil, err
	}
	return &Tunnel{BaseTunnel: protocols.NewBaseTunnel(p.Name), cfg: cfg}, nil
}

// Start installs the connection and initiates it in the background.
func (t *Tunnel) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.SetState(protocols.StateConnecting, "Initializing IKEv2 tunnel", nil)
	if err := os.MkdirAll(t.cfg.ConfDir, 0700); err != nil {
		t.SetState(protocols.StateError, "Failed to write configuration", err)
		return err
	}
	if err := os.WriteFile(t.cfg.path(), []byte(t.cfg.Render()), 0600); err != nil {
		t.SetState(protocols.StateError, "Failed to write configuration", err)
		return fmt.Errorf("write swanctl config: %w", err)
	}
	if _, err := swanctl(ctx, "--load-all", "--noprompt"); err != nil {
		t.SetState(protocols.StateError, "Failed to load configuration", err)
		return err
	}

	ictx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(2)
	logger.SafeGo("ikev2Initiate", func() {
		defer t.wg.Done()
		if _, err := swanctl(ictx, "--initiate", "--child", t.cfg.Name, "--timeout", "30"); err != nil && ictx.Err() == nil {
			t.SetState(protocols.StateError, "IKEv2 negotiation failed", err)
		}
	})
	logger.SafeGo("ikev2Monitor", func() {
		defer t.wg.Done()
		t.monitor(ictx)
	})
	return nil
}

func (t *Tunnel) monitor(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		out, err := swanctl(ctx, "--list-sas", "--ike", t.cfg.Name)
		if err != nil {
			continue
		}
		state, vip := saState(string(out))
		cur := t.State()
		if cur == protocols.StateError {
			continue
		}
		switch {
		case state == protocols.StateConnected && cur != protocols.StateConnected:
			if vip.IsValid() {
				t.SetLocalIP(vip)
			}
			t.SetState(protocols.StateConnected, "IKE SA established", nil)
		case state == protocols.StateDisconnected && cur == protocols.StateConnected:
			t.SetState(protocols.StateReconnecting, "IKE SA lost", nil)
		}
	}
}

// Stop terminates the SA and removes the connection.
func (t *Tunnel) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.wg.Wait()
	t.SetState(protocols.StateDisconnecting, "Stopping IKEv2 tunnel", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := swanctl(ctx, "--terminate", "--ike", t.cfg.Name, "--timeout", "5"); err != nil {
		logger.Debug("%v", err)
	}
	if err := os.Remove(t.cfg.path()); err != nil && !os.IsNotExist(err) {
		logger.Warning("remove swanctl config: %v", err)
	}
	if _, err := swanctl(ctx, "--load-all", "--noprompt"); err != nil {
		logger.Debug("%v", err)
	}

	t.SetState(protocols.StateDisconnected, "IKEv2 tunnel stopped", nil)
	t.Close()
	return nil
}
