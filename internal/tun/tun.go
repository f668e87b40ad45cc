// Package tun creates and addresses the TUN interface used by userspace
// tunnels.
package tun

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	wgtun "golang.zx2c4.com/wireguard/tun"

	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/procutil"
)

// DefaultMTU suits WireGuard over IPv4 and IPv6.
const DefaultMTU = 1420

// Config describes the interface to create.
type Config struct {
	Name string
	MTU  int
}

// command is one helper invocation. Optional commands only log failures.
type command struct {
	argv     []string
	optional bool
}

// Interface is a created TUN device.
type Interface struct {
	mu     sync.Mutex
	name   string
	mtu    int
	device wgtun.Device
	prefix netip.Prefix
	up     bool
}

// Open creates the TUN device.
func Open(cfg Config) (*Interface, error) {
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.MTU <= 0 {
		cfg.MTU = DefaultMTU
	}

	dev, err := wgtun.CreateTUN(cfg.Name, cfg.MTU)
	if err != nil {
		return nil, fmt.Errorf("create TUN device: %w", err)
	}
	iface := &Interface{name: cfg.Name, mtu: cfg.MTU, device: dev}
	if real, err := dev.Name(); err == nil {
		iface.name = real
	}
	return iface, nil
}

// Assign gives the interface its tunnel address.
func (i *Interface) Assign(ctx context.Context, prefix netip.Prefix) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := run(ctx, addrCommands(i.name, prefix)); err != nil {
		return fmt.Errorf("assign %s to %s: %w", prefix, i.name, err)
	}
	i.prefix = prefix
	return nil
}

// SetUp brings the link up or down.
func (i *Interface) SetUp(ctx context.Context, up bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := run(ctx, linkCommands(i.name, up)); err != nil {
		return fmt.Errorf("set %s link: %w", i.name, err)
	}
	i.up = up
	return nil
}

// Device returns the device for a userspace tunnel.
func (i *Interface) Device() wgtun.Device {
	return i.device
}

// Name returns the name the system gave the interface.
func (i *Interface) Name() string {
	return i.name
}

// Addr returns the assigned address, if any.
func (i *Interface) Addr() netip.Addr {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.prefix.Addr()
}

// Close takes the link down and destroys the device.
func (i *Interface) Close() error {
	i.mu.Lock()
	up := i.up
	i.mu.Unlock()
	if up {
		if err := i.SetUp(context.Background(), false); err != nil {
			logger.Debug("%v", err)
		}
	}
	return i.device.Close()
}

func run(ctx context.Context, cmds []command) error {
	for _, c := range cmds {
		if err := procutil.Run(ctx, c.argv...); err != nil {
			if c.optional {
				logger.Debug("optional command failed: %v", err)
				continue
			}
			return err
		}
	}
	return nil
}
