package profilestore

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/user/vpn-orchestrator/internal/protocols"
	"github.com/user/vpn-orchestrator/internal/provider"
)

// SimulatedRunner returns a runner whose tunnels connect after delay without
// touching the system. Profiles with the option "simulate_fail" set to true
// end in the error state instead.
func SimulatedRunner(delay time.Duration) Runner {
	return func(p provider.Profile, _ map[string]string) (protocols.Tunnel, error) {
		fail, _ := strconv.ParseBool(p.Options["simulate_fail"])
		return &simulatedTunnel{
			BaseTunnel: protocols.NewBaseTunnel(p.Name),
			delay:      delay,
			fail:       fail,
			addr:       netip.MustParseAddr("10.8.0.2"),
		}, nil
	}
}

type simulatedTunnel struct {
	*protocols.BaseTunnel
	delay time.Duration
	fail  bool
	addr  netip.Addr

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (t *simulatedTunnel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	t.SetState(protocols.StateConnecting, "simulated handshake", nil)
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(t.delay):
	}
	if t.fail {
		t.SetState(protocols.StateError, "simulated failure", fmt.Errorf("handshake refused"))
		return nil
	}
	t.SetLocalIP(t.addr)
	t.SetState(protocols.StateConnected, "connected", nil)
	return nil
}

func (t *simulatedTunnel) Stop() error {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()
	t.SetState(protocols.StateDisconnected, "stopped", nil)
	t.Close()
	return nil
}
