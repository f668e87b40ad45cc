// Package provider adapts VPN technologies to a single tunnel provider
// contract and implements the shared connect and disconnect sequences.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

// Kind is the closed set of provider variants.
type Kind int

const (
	// KindPrimary is the modern provider (WireGuard), located by username marker.
	KindPrimary Kind = iota
	// KindLegacy is the single-profile provider (IKEv2).
	KindLegacy
	// KindFallback is the transport fallback provider (OpenVPN), located by username marker.
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindPrimary:
		return "wireguard"
	case KindLegacy:
		return "ikev2"
	case KindFallback:
		return "openvpn"
	default:
		return "unknown"
	}
}

// KindFor returns the provider kind that carries the given protocol.
func KindFor(protocol string) Kind {
	switch protocol {
	case protocols.WireGuard:
		return KindPrimary
	case protocols.IKEv2:
		return KindLegacy
	default:
		return KindFallback
	}
}

// Errors reported by providers. A nil error is success.
var (
	ErrCompetitorActive = errors.New("another provider is connected")
	ErrBusy             = errors.New("already connected or connecting")
	ErrNotConnected     = errors.New("nothing to disconnect")
	ErrConnectTimeout   = errors.New("tunnel did not connect in time")
	ErrNotConfigured    = errors.New("provider not configured")
)

// TunnelProvider is satisfied by every VPN technology adapter.
type TunnelProvider interface {
	Kind() Kind
	IsConfigured() bool
	IsConnected() bool
	IsConnecting() bool
	IsDisconnected() bool
	Setup(ctx context.Context)
	RemoveProfile(ctx context.Context) error
	Connect(ctx context.Context, others []TunnelProvider) error
	Disconnect(ctx context.Context) error
}

// Options configures a Provider.
type Options struct {
	Kind Kind
	// Profile is the stored profile name. The legacy provider loads exactly
	// this profile; the others use it when installing a profile.
	Profile string
	// Marker is the username that identifies the profile of a
	// marker-located provider among all stored profiles.
	Marker string
	// OnDemand returns the policy flag applied when a profile is enabled.
	OnDemand     func() bool
	PollAttempts int
	PollInterval time.Duration
}

// Provider is the generic TunnelProvider over a ProfileStore. Behaviour that
// differs between variants is selected by Kind.
type Provider struct {
	kind         Kind
	profileName  string
	marker       string
	store        ProfileStore
	onDemand     func() bool
	pollAttempts int
	pollInterval time.Duration

	setupMu   sync.Mutex
	setupDone bool

	mu      sync.RWMutex
	profile *Profile

	connecting atomic.Bool
}

// New creates a provider over store.
func New(store ProfileStore, opts Options) *Provider {
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 10
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.OnDemand == nil {
		opts.OnDemand = func() bool { return false }
	}
	return &Provider{
		kind:         opts.Kind,
		profileName:  opts.Profile,
		marker:       opts.Marker,
		store:        store,
		onDemand:     opts.OnDemand,
		pollAttempts: opts.PollAttempts,
		pollInterval: opts.PollInterval,
	}
}

// Kind returns the provider variant.
func (p *Provider) Kind() Kind {
	return p.kind
}

// Profile returns a copy of the last loaded profile.
func (p *Provider) Profile() (Profile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.profile == nil {
		return Profile{}, false
	}
	return *p.profile, true
}

// IsConfigured reports whether a stored profile identifies this provider.
func (p *Provider) IsConfigured() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.profile != nil
}

// State returns the platform state of the provider's tunnel.
func (p *Provider) State() protocols.State {
	p.mu.RLock()
	prof := p.profile
	p.mu.RUnlock()
	if prof == nil {
		return protocols.StateDisconnected
	}
	return p.store.Status(prof.Name)
}

// IsConnected reports whether the tunnel is up.
func (p *Provider) IsConnected() bool {
	return p.State() == protocols.StateConnected
}

// IsConnecting reports whether the tunnel is coming up or a connect
// sequence is in flight.
func (p *Provider) IsConnecting() bool {
	return p.connecting.Load() || p.State() == protocols.StateConnecting
}

// IsDisconnected reports whether the tunnel is neither up nor coming up.
// States other than connected and connecting count as disconnected.
func (p *Provider) IsDisconnected() bool {
	return !p.IsConnected() && !p.IsConnecting()
}

// Setup loads the stored profile once. Load failures leave the provider
// unconfigured and still mark setup as done.
func (p *Provider) Setup(ctx context.Context) {
	p.setupMu.Lock()
	defer p.setupMu.Unlock()
	if p.setupDone {
		return
	}
	if err := p.reload(ctx); err != nil {
		logger.Warning("%s provider setup failed: %v", p.kind, err)
	}
	p.setupDone = true
}

// Configure installs prof as this provider's profile and reloads it.
func (p *Provider) Configure(ctx context.Context, prof Profile) error {
	if prof.Name == "" {
		prof.Name = p.profileName
	}
	if p.kind != KindLegacy {
		prof.Username = p.marker
	}
	prof.Family = p.kind.String()
	if err := p.store.Save(ctx, prof); err != nil {
		logger.Error("%s provider failed to save profile: %v", p.kind, err)
		return fmt.Errorf("save %s profile: %w", p.kind, err)
	}
	return p.reload(ctx)
}

// RemoveProfile disconnects, deletes the stored profile and runs setup
// again. It is a no-op for an unconfigured provider.
func (p *Provider) RemoveProfile(ctx context.Context) error {
	prof, ok := p.Profile()
	if !ok {
		return nil
	}

	if !p.IsDisconnected() {
		if err := p.Disconnect(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
			logger.Warning("%s provider disconnect before removal failed: %v", p.kind, err)
		}
	}

	if err := p.store.Delete(ctx, prof.Name); err != nil {
		logger.Error("%s provider failed to delete profile: %v", p.kind, err)
		return fmt.Errorf("delete %s profile: %w", p.kind, err)
	}
	if err := p.reload(ctx); err != nil {
		logger.Error("%s provider failed to reload after removal: %v", p.kind, err)
		return fmt.Errorf("reload %s profile: %w", p.kind, err)
	}

	p.setupMu.Lock()
	p.setupDone = false
	p.setupMu.Unlock()
	p.Setup(ctx)

	logger.Info("%s provider profile removed", p.kind)
	return nil
}

// Connect runs the shared connect sequence against others.
func (p *Provider) Connect(ctx context.Context, others []TunnelProvider) error {
	return connect(ctx, p, others)
}

// Disconnect runs the shared disconnect sequence.
func (p *Provider) Disconnect(ctx context.Context) error {
	return disconnect(ctx, p)
}

// reload fetches the profile from the store. The legacy provider owns a
// single named profile; the others pick the profile carrying their marker.
func (p *Provider) reload(ctx context.Context) error {
	var found *Profile

	switch p.kind {
	case KindLegacy:
		prof, err := p.store.Load(ctx, p.profileName)
		switch {
		case errors.Is(err, ErrProfileNotFound):
		case err != nil:
			return err
		case prof.Server != "":
			found = &prof
		}
	default:
		all, err := p.store.LoadAll(ctx)
		if err != nil {
			return err
		}
		for i := range all {
			if all[i].Username == p.marker {
				found = &all[i]
				break
			}
		}
	}

	p.mu.Lock()
	p.profile = found
	p.mu.Unlock()
	return nil
}
