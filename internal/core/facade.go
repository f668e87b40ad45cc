package core

import (
	"context"
	"errors"

	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/provider"
)

// ErrNoProvider is returned when no provider can take a request.
var ErrNoProvider = errors.New("no configured provider available")

// IPResolver returns the public IP address.
type IPResolver interface {
	Lookup(ctx context.Context) (string, error)
}

// Facade composes the three tunnel providers behind one connection API.
type Facade struct {
	providers [3]provider.TunnelProvider
	ip        IPResolver
}

// NewFacade composes the primary, legacy and fallback providers.
func NewFacade(primary, legacy, fallback provider.TunnelProvider, ip IPResolver) *Facade {
	return &Facade{providers: [3]provider.TunnelProvider{primary, legacy, fallback}, ip: ip}
}

// Provider returns the provider of the given kind.
func (f *Facade) Provider(kind provider.Kind) provider.TunnelProvider {
	for _, p := range f.providers {
		if p.Kind() == kind {
			return p
		}
	}
	return nil
}

// others returns every provider except the one at i, in rotation order.
func (f *Facade) others(i int) []provider.TunnelProvider {
	out := make([]provider.TunnelProvider, 0, len(f.providers)-1)
	for j := 1; j < len(f.providers); j++ {
		out = append(out, f.providers[(i+j)%len(f.providers)])
	}
	return out
}

// IsActive reports whether any provider is configured.
func (f *Facade) IsActive() bool {
	for _, p := range f.providers {
		if p.IsConfigured() {
			return true
		}
	}
	return false
}

// IsConnected reports whether a configured provider is connected.
func (f *Facade) IsConnected() bool {
	for _, p := range f.providers {
		if p.IsConfigured() && p.IsConnected() {
			return true
		}
	}
	return false
}

// Setup runs each provider's setup in order.
func (f *Facade) Setup(ctx context.Context) {
	for _, p := range f.providers {
		p.Setup(ctx)
	}
	logger.Info("Providers set up")
}

// Connect connects the first provider that is disconnected and configured,
// with the other two as competitors.
func (f *Facade) Connect(ctx context.Context) error {
	for i, p := range f.providers {
		if p.IsDisconnected() && p.IsConfigured() {
			return p.Connect(ctx, f.others(i))
		}
	}
	return ErrNoProvider
}

// ConnectKind connects the provider of the given kind.
func (f *Facade) ConnectKind(ctx context.Context, kind provider.Kind) error {
	for i, p := range f.providers {
		if p.Kind() == kind {
			return p.Connect(ctx, f.others(i))
		}
	}
	return ErrNoProvider
}

// Disconnect disconnects the first connected provider.
func (f *Facade) Disconnect(ctx context.Context) error {
	for _, p := range f.providers {
		if p.IsConnected() {
			return p.Disconnect(ctx)
		}
	}
	return provider.ErrNotConnected
}

// Connected returns the connected provider, if any.
func (f *Facade) Connected() (provider.TunnelProvider, bool) {
	for _, p := range f.providers {
		if p.IsConfigured() && p.IsConnected() {
			return p, true
		}
	}
	return nil, false
}

// IPAddress returns the public IP address as seen by the lookup service.
func (f *Facade) IPAddress(ctx context.Context) (string, error) {
	if f.ip == nil {
		return "", ErrIPAddress
	}
	return f.ip.Lookup(ctx)
}
