// Package wireguard runs WireGuard profiles with the userspace
// wireguard-go device on a local TUN interface.
package wireguard

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"

	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/protocols"
	"github.com/user/vpn-orchestrator/internal/provider"
	"github.com/user/vpn-orchestrator/internal/tun"
)

// Handshakes older than this mean the peer stopped answering.
const staleHandshake = 3 * time.Minute

var monitorInterval = 10 * time.Second

// Tunnel is a WireGuard tunnel for one profile.
type Tunnel struct {
	*protocols.BaseTunnel

	cfg Config

	mu     sync.Mutex
	iface  *tun.Interface
	device *device.Device
	cancel context.CancelFunc
}

// New parses the profile and returns a stopped tunnel. Its signature
// matches the profile store's runner.
func New(p provider.Profile, secrets map[string]string) (protocols.Tunnel, error) {
	cfg, err := ParseConfig(p, secrets)
	if err != nil {
		return nil, err
	}
	return &Tunnel{BaseTunnel: protocols.NewBaseTunnel(p.Name), cfg: cfg}, nil
}

// Start creates the interface, configures the device and brings both up.
func (t *Tunnel) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == protocols.StateConnected {
		return fmt.Errorf("tunnel already connected")
	}
	t.SetState(protocols.StateConnecting, "Initializing WireGuard tunnel", nil)

	pub, err := t.cfg.PublicKey()
	if err != nil {
		t.SetState(protocols.StateError, "Invalid private key", err)
		return err
	}
	logger.Debug("WireGuard interface public key %s", pub)

	endpoint, err := resolve(ctx, t.cfg.Endpoint)
	if err != nil {
		t.SetState(protocols.StateError, "Failed to resolve server", err)
		return err
	}

	iface, err := tun.Open(tun.Config{Name: t.cfg.Interface, MTU: t.cfg.MTU})
	if err != nil {
		t.SetState(protocols.StateError, "Failed to create TUN interface", err)
		return err
	}
	t.iface = iface

	if err := iface.Assign(ctx, t.cfg.Address); err != nil {
		t.cleanup()
		t.SetState(protocols.StateError, "Failed to configure interface", err)
		return err
	}

	t.device = device.NewDevice(iface.Device(), conn.NewDefaultBind(),
		device.NewLogger(device.LogLevelError, "(wireguard) "))

	if err := t.device.IpcSet(t.cfg.UAPI(endpoint)); err != nil {
		t.cleanup()
		t.SetState(protocols.StateError, "Failed to apply config", err)
		return fmt.Errorf("apply device config: %w", err)
	}
	if err := t.device.Up(); err != nil {
		t.cleanup()
		t.SetState(protocols.StateError, "Failed to bring device up", err)
		return fmt.Errorf("bring device up: %w", err)
	}
	if err := iface.SetUp(ctx, true); err != nil {
		t.cleanup()
		t.SetState(protocols.StateError, "Failed to bring interface up", err)
		return err
	}

	t.SetLocalIP(t.cfg.Address.Addr())
	mctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	dev := t.device
	logger.SafeGo("wireguardMonitor", func() { t.monitor(mctx, dev) })

	logger.Connection("WireGuard tunnel up on %s to %s", iface.Name(), endpoint)
	t.SetState(protocols.StateConnected, "WireGuard tunnel established", nil)
	return nil
}

// Stop tears the device and the interface down.
func (t *Tunnel) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == protocols.StateDisconnected {
		t.Close()
		return nil
	}
	t.SetState(protocols.StateDisconnecting, "Stopping WireGuard tunnel", nil)
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.cleanup()
	t.SetState(protocols.StateDisconnected, "WireGuard tunnel stopped", nil)
	t.Close()
	return nil
}

func (t *Tunnel) cleanup() {
	if t.device != nil {
		t.device.Close()
		t.device = nil
	}
	if t.iface != nil {
		if err := t.iface.Close(); err != nil {
			logger.Debug("close interface: %v", err)
		}
		t.iface = nil
	}
}

// monitor reports a reconnecting state while handshakes are stale and
// connected again once they resume.
func (t *Tunnel) monitor(ctx context.Context, dev *device.Device) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		status, err := dev.IpcGet()
		if err != nil {
			continue
		}
		last := lastHandshake(status)
		if last.IsZero() {
			continue
		}
		stale := time.Since(last) > staleHandshake
		switch st := t.State(); {
		case stale && st == protocols.StateConnected:
			t.SetState(protocols.StateReconnecting, "Handshake is stale", nil)
		case !stale && st == protocols.StateReconnecting:
			t.SetState(protocols.StateConnected, "Handshake resumed", nil)
		}
	}
}

func resolve(ctx context.Context, endpoint string) (netip.AddrPort, error) {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	pn, err := net.LookupPort("udp", port)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid endpoint port %q: %w", port, err)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr, uint16(pn)), nil
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("no addresses found for %s", host)
	}
	return netip.AddrPortFrom(addrs[0].Unmap(), uint16(pn)), nil
}
