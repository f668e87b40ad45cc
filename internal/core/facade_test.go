package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/vpn-orchestrator/internal/provider"
)

type fakeProvider struct {
	kind       provider.Kind
	configured bool
	connected  bool
	connecting bool

	mu      sync.Mutex
	calls   []string
	others  []provider.Kind
	connErr error
}

func (f *fakeProvider) Kind() provider.Kind                 { return f.kind }
func (f *fakeProvider) IsConfigured() bool                  { return f.configured }
func (f *fakeProvider) IsConnected() bool                   { return f.connected }
func (f *fakeProvider) IsConnecting() bool                  { return f.connecting }
func (f *fakeProvider) IsDisconnected() bool                { return !f.connected && !f.connecting }
func (f *fakeProvider) RemoveProfile(context.Context) error { return nil }

func (f *fakeProvider) Setup(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "setup")
}

func (f *fakeProvider) Connect(_ context.Context, others []provider.TunnelProvider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "connect")
	f.others = nil
	for _, o := range others {
		f.others = append(f.others, o.Kind())
	}
	return f.connErr
}

func (f *fakeProvider) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "disconnect")
	return nil
}

func (f *fakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newFakes() (*fakeProvider, *fakeProvider, *fakeProvider) {
	return &fakeProvider{kind: provider.KindPrimary},
		&fakeProvider{kind: provider.KindLegacy},
		&fakeProvider{kind: provider.KindFallback}
}

type fakeIP struct {
	ip  string
	err error
}

func (f fakeIP) Lookup(context.Context) (string, error) { return f.ip, f.err }

func TestFacade_SetupRunsEveryProvider(t *testing.T) {
	a, b, c := newFakes()
	f := NewFacade(a, b, c, nil)
	f.Setup(context.Background())
	for _, p := range []*fakeProvider{a, b, c} {
		assert.Equal(t, []string{"setup"}, p.Calls())
	}
}

func TestFacade_ActiveAndConnected(t *testing.T) {
	a, b, c := newFakes()
	f := NewFacade(a, b, c, nil)
	assert.False(t, f.IsActive())
	assert.False(t, f.IsConnected())

	c.configured = true
	assert.True(t, f.IsActive())
	assert.False(t, f.IsConnected())

	// A connected but unconfigured provider does not count.
	b.connected = true
	assert.False(t, f.IsConnected())

	c.connected = true
	assert.True(t, f.IsConnected())
	p, ok := f.Connected()
	require.True(t, ok)
	assert.Equal(t, provider.KindFallback, p.Kind())
}

func TestFacade_ConnectPicksFirstDisconnectedConfigured(t *testing.T) {
	a, b, c := newFakes()
	f := NewFacade(a, b, c, nil)
	assert.ErrorIs(t, f.Connect(context.Background()), ErrNoProvider)

	a.configured, a.connecting = true, true
	b.configured = true
	c.configured = true

	require.NoError(t, f.Connect(context.Background()))
	assert.Empty(t, a.Calls())
	assert.Equal(t, []string{"connect"}, b.Calls())
	assert.Equal(t, []provider.Kind{provider.KindFallback, provider.KindPrimary}, b.others)
	assert.Empty(t, c.Calls())
}

func TestFacade_ConnectKindPassesOthers(t *testing.T) {
	a, b, c := newFakes()
	f := NewFacade(a, b, c, nil)

	require.NoError(t, f.ConnectKind(context.Background(), provider.KindPrimary))
	assert.Equal(t, []provider.Kind{provider.KindLegacy, provider.KindFallback}, a.others)

	c.connErr = provider.ErrConnectTimeout
	assert.ErrorIs(t, f.ConnectKind(context.Background(), provider.KindFallback), provider.ErrConnectTimeout)
	assert.Equal(t, []provider.Kind{provider.KindPrimary, provider.KindLegacy}, c.others)
}

func TestFacade_Disconnect(t *testing.T) {
	a, b, c := newFakes()
	f := NewFacade(a, b, c, nil)
	assert.ErrorIs(t, f.Disconnect(context.Background()), provider.ErrNotConnected)

	b.connected = true
	require.NoError(t, f.Disconnect(context.Background()))
	assert.Equal(t, []string{"disconnect"}, b.Calls())
	assert.Empty(t, a.Calls())
}

func TestFacade_IPAddress(t *testing.T) {
	a, b, c := newFakes()

	_, err := NewFacade(a, b, c, nil).IPAddress(context.Background())
	assert.ErrorIs(t, err, ErrIPAddress)

	ip, err := NewFacade(a, b, c, fakeIP{ip: "203.0.113.9"}).IPAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", ip)

	_, err = NewFacade(a, b, c, fakeIP{err: errors.New("boom")}).IPAddress(context.Background())
	assert.Error(t, err)
}
