// Package protocols defines protocol candidates and the common tunnel interface.
package protocols

import (
	"context"
	"net/netip"
	"sync"
)

// Protocol names known to the application.
const (
	WireGuard = "WireGuard"
	IKEv2     = "IKEv2"
	UDP       = "UDP"
	TCP       = "TCP"
	Stealth   = "Stealth"
	WSTunnel  = "WStunnel"
)

// DefaultPort is used whenever no port is known for a protocol.
const DefaultPort = "443"

// Supported lists the protocol names the application can connect with, in
// app preferred order.
var Supported = []string{WireGuard, IKEv2, UDP, TCP, Stealth, WSTunnel}

// State represents the tunnel state as reported by the platform.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateReconnecting
	StateError
)

var stateNames = [...]string{"disconnected", "connecting", "connected", "disconnecting", "reconnecting", "error"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether the tunnel is down, either cleanly or with an error.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateError
}

// StateChange is one state transition of a named tunnel.
type StateChange struct {
	Name    string
	State   State
	Message string
	Error   error
}

// Tunnel is what a runner hands back to the profile store.
type Tunnel interface {
	// Start brings the tunnel up. It returns once the start request was
	// accepted; progress is reported through StateChanges.
	Start(ctx context.Context) error
	Stop() error
	State() State
	// LocalIP is the tunnel address, valid once connected.
	LocalIP() netip.Addr
	StateChanges() <-chan StateChange
}

// BaseTunnel carries the state bookkeeping every runner shares. Changes
// are published on a buffered channel; when the reader falls behind they
// are dropped, and State stays authoritative.
type BaseTunnel struct {
	name string

	mu      sync.Mutex
	state   State
	addr    netip.Addr
	changes chan StateChange
	closed  bool
}

// NewBaseTunnel returns a disconnected tunnel for the named profile.
func NewBaseTunnel(name string) *BaseTunnel {
	return &BaseTunnel{
		name:    name,
		state:   StateDisconnected,
		changes: make(chan StateChange, 16),
	}
}

// Name returns the profile name the tunnel was created for.
func (b *BaseTunnel) Name() string {
	return b.name
}

// SetState records state and publishes the change.
func (b *BaseTunnel) SetState(state State, message string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
	if b.closed {
		return
	}
	select {
	case b.changes <- StateChange{Name: b.name, State: state, Message: message, Error: err}:
	default:
	}
}

func (b *BaseTunnel) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BaseTunnel) StateChanges() <-chan StateChange {
	return b.changes
}

// SetLocalIP records the address the tunnel was given.
func (b *BaseTunnel) SetLocalIP(addr netip.Addr) {
	b.mu.Lock()
	b.addr = addr
	b.mu.Unlock()
}

func (b *BaseTunnel) LocalIP() netip.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr
}

// Close ends the change stream. Later SetState calls only update State.
func (b *BaseTunnel) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.changes)
	}
}
