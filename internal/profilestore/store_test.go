package profilestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/user/vpn-orchestrator/internal/protocols"
	"github.com/user/vpn-orchestrator/internal/provider"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	keyring.MockInit()
	s, err := New(Options{
		Dir:            t.TempDir(),
		KeyringService: "test",
		Runners: map[string]Runner{
			"wireguard": SimulatedRunner(5 * time.Millisecond),
			"openvpn":   SimulatedRunner(5 * time.Millisecond),
		},
	})
	require.NoError(t, err)
	return s
}

func wgProfile() provider.Profile {
	return provider.Profile{
		Name:     "wireguard",
		Family:   "wireguard",
		Username: "WireGuard",
		Server:   "vpn.example.com",
		Port:     "51820",
		Enabled:  true,
		Options: map[string]string{
			"address":     "10.8.0.2/32",
			"private_key": "c2VjcmV0",
		},
	}
}

func TestStore_SaveKeepsSecretsOutOfDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, wgProfile()))

	data, err := os.ReadFile(filepath.Join(s.dir, "wireguard.yaml"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "c2VjcmV0")
	assert.Contains(t, string(data), "10.8.0.2/32")

	p, err := s.Load(ctx, "wireguard")
	require.NoError(t, err)
	assert.Equal(t, "WireGuard", p.Username)
	assert.Equal(t, map[string]string{"address": "10.8.0.2/32"}, p.Options)

	secrets, err := s.secrets.All("wireguard")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"private_key": "c2VjcmV0"}, secrets)
}

func TestStore_LoadAllSorted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"b", "a", "c"} {
		require.NoError(t, s.Save(ctx, provider.Profile{Name: name, Family: "openvpn"}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "notes.txt"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "broken.yaml"), []byte("::"), 0600))

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	var names []string
	for _, p := range all {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, provider.ErrProfileNotFound)
}

func TestStore_RejectsBadNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"", "../x", "a/b", ".hidden"} {
		err := s.Save(ctx, provider.Profile{Name: name})
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestStore_DeleteKeepsSecretsPurgeRemovesThem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, wgProfile()))
	require.NoError(t, s.Delete(ctx, "wireguard"))

	_, err := s.Load(ctx, "wireguard")
	assert.ErrorIs(t, err, provider.ErrProfileNotFound)
	secrets, err := s.secrets.All("wireguard")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"private_key": "c2VjcmV0"}, secrets)

	// Deleting twice is fine.
	assert.NoError(t, s.Delete(ctx, "wireguard"))

	require.NoError(t, s.Purge(ctx, "wireguard"))
	secrets, err = s.secrets.All("wireguard")
	require.NoError(t, err)
	assert.Empty(t, secrets)
}

func TestStore_SetSecret(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetSecret("openvpn", "password", "pw"))
	assert.Error(t, s.SetSecret("openvpn", "address", "x"))
	assert.ErrorIs(t, s.SetSecret("../x", "password", "pw"), ErrInvalidName)

	secrets, err := s.secrets.All("openvpn")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"password": "pw"}, secrets)
}

func TestStore_StartConnectsAndStops(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, wgProfile()))

	var mu sync.Mutex
	var seen []protocols.State
	s.OnStateChange(func(name string, st protocols.State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	require.NoError(t, s.Start(ctx, "wireguard"))
	require.Eventually(t, func() bool {
		return s.Status("wireguard") == protocols.StateConnected
	}, time.Second, time.Millisecond)
	assert.Equal(t, "10.8.0.2", s.LocalIP("wireguard"))

	require.NoError(t, s.Stop(ctx, "wireguard"))
	assert.Equal(t, protocols.StateDisconnected, s.Status("wireguard"))
	assert.Empty(t, s.LocalIP("wireguard"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []protocols.State{
		protocols.StateConnecting,
		protocols.StateConnected,
		protocols.StateDisconnected,
	}, seen)
}

func TestStore_StartFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Start(ctx, "missing"), provider.ErrProfileNotFound)

	disabled := wgProfile()
	disabled.Enabled = false
	require.NoError(t, s.Save(ctx, disabled))
	assert.ErrorIs(t, s.Start(ctx, "wireguard"), ErrDisabled)

	require.NoError(t, s.Save(ctx, provider.Profile{Name: "ike", Family: "ikev2", Enabled: true}))
	assert.ErrorIs(t, s.Start(ctx, "ike"), ErrNoRunner)
}

func TestStore_SimulatedFailureEndsInError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := wgProfile()
	p.Options["simulate_fail"] = "true"
	require.NoError(t, s.Save(ctx, p))

	require.NoError(t, s.Start(ctx, "wireguard"))
	require.Eventually(t, func() bool {
		return s.Status("wireguard") == protocols.StateError
	}, time.Second, time.Millisecond)
}

func TestStore_StatusDefaultsToDisconnected(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, protocols.StateDisconnected, s.Status("anything"))
	assert.NoError(t, s.Stop(context.Background(), "anything"))
}

func TestSecrets_FileFallback(t *testing.T) {
	keyring.MockInitWithError(errors.New("no keyring"))
	t.Cleanup(keyring.MockInit)

	dir := t.TempDir()
	st := newSecretStore("test", dir)
	require.NoError(t, st.Set("p", "password", "hunter2"))

	data, err := os.ReadFile(filepath.Join(dir, ".secrets"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	// A fresh store reads the encrypted file back.
	again := newSecretStore("test", dir)
	again.useFile = true
	v, err := again.Get("p", "password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	require.NoError(t, again.Delete("p"))
	_, err = again.Get("p", "password")
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestSealOpen(t *testing.T) {
	key := make([]byte, 32)
	sealed, err := seal(key, []byte("payload"))
	require.NoError(t, err)
	plain, err := open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))

	sealed[len(sealed)-1] ^= 1
	_, err = open(key, sealed)
	assert.Error(t, err)

	_, err = open(key, []byte("short"))
	assert.Error(t, err)
}

func TestStore_DrivesProviderConnect(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wg := provider.New(s, provider.Options{Kind: provider.KindPrimary, Profile: "wireguard", Marker: "WireGuard", PollInterval: 5 * time.Millisecond, PollAttempts: 100})
	ovpn := provider.New(s, provider.Options{Kind: provider.KindFallback, Profile: "openvpn", Marker: "OpenVPN", PollInterval: 5 * time.Millisecond, PollAttempts: 100})
	wg.Setup(ctx)
	ovpn.Setup(ctx)

	require.NoError(t, wg.Configure(ctx, provider.Profile{Server: "vpn.example.com", Options: map[string]string{"address": "10.8.0.2/32"}}))
	require.NoError(t, wg.Connect(ctx, []provider.TunnelProvider{ovpn}))
	assert.True(t, wg.IsConnected())

	require.NoError(t, wg.Disconnect(ctx))
	assert.True(t, wg.IsDisconnected())
}
