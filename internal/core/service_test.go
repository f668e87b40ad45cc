package core

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/user/vpn-orchestrator/internal/config"
	"github.com/user/vpn-orchestrator/internal/metrics"
	"github.com/user/vpn-orchestrator/internal/netwatch"
	"github.com/user/vpn-orchestrator/internal/profilestore"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

type testService struct {
	*Service
	store *profilestore.Store
}

// newTestService builds a service over simulated tunnels. WireGuard maps to
// the primary provider and UDP to the fallback provider.
func newTestService(t *testing.T, modify func(*config.Config)) testService {
	t.Helper()
	return newTestServiceDelay(t, 5*time.Millisecond, modify)
}

// newTestServiceDelay is newTestService with simulated handshakes taking
// delay.
func newTestServiceDelay(t *testing.T, delay time.Duration, modify func(*config.Config)) testService {
	t.Helper()
	keyring.MockInit()

	cm := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, cm.Load())
	require.NoError(t, cm.Modify(func(c *config.Config) {
		c.PortMap = map[string][]string{
			protocols.WireGuard: {"51820"},
			protocols.UDP:       {"1194"},
		}
		c.Failover.CountdownSeconds = 1
		c.Failover.Tick = config.Duration(5 * time.Millisecond)
		c.Failover.PollAttempts = 100
		c.Failover.PollInterval = config.Duration(5 * time.Millisecond)
		c.Providers.WireGuard.Server = "wg.example.com"
		c.Providers.WireGuard.Options = map[string]string{"address": "10.8.0.2/32"}
		c.Providers.OpenVPN.Server = "ovpn.example.com"
		if modify != nil {
			modify(c)
		}
	}))

	sim := profilestore.SimulatedRunner(delay)
	store, err := profilestore.New(profilestore.Options{
		Dir:            t.TempDir(),
		KeyringService: "test",
		Runners: map[string]profilestore.Runner{
			"wireguard": sim,
			"openvpn":   sim,
		},
	})
	require.NoError(t, err)

	watcher := netwatch.New(netwatch.Options{
		Detect: func() (netwatch.Network, error) {
			return netwatch.Network{Interface: "eth0", Prefix: "192.168.1.0/24"}, nil
		},
	})

	s := newService(cm, store, watcher, metrics.New(), nil)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	return testService{Service: s, store: store}
}

func TestService_ConnectAndDisconnect(t *testing.T) {
	s := newTestService(t, nil)
	var mu sync.Mutex
	var statuses []string
	s.OnStatus(func(p *StatusPayload) {
		mu.Lock()
		statuses = append(statuses, p.State)
		mu.Unlock()
	})

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsConnected())

	pp, ok := s.ConnectedProtocol()
	require.True(t, ok)
	assert.Equal(t, protocols.NewProtocolPort(protocols.WireGuard, "51820"), pp)

	status := s.GetStatusPayload()
	assert.Equal(t, "connected", status.State)
	assert.Equal(t, "wireguard", status.Provider)
	assert.Equal(t, "10.8.0.2", status.LocalIP)
	assert.NotEmpty(t, status.AttemptID)
	require.NotNil(t, status.ConnectedAt)
	assert.Equal(t, protocols.ViewConnected, status.Candidates[0].View.Kind)

	good, _, ok := s.Engine().GoodProtocol()
	require.True(t, ok)
	assert.Equal(t, pp, good)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().Connected.WithLabelValues(protocols.WireGuard)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().ConnectAttempts.WithLabelValues(protocols.WireGuard, "user", "success")))

	require.NoError(t, s.Disconnect(context.Background()))
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 0, testutil.CollectAndCount(s.Metrics().Connected))
	for _, c := range s.Engine().Candidates() {
		assert.NotEqual(t, protocols.ViewConnected, c.View.Kind)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, statuses, "connecting")
	assert.Contains(t, statuses, "disconnected")
}

func TestService_FailoverToNextCandidate(t *testing.T) {
	s := newTestService(t, func(c *config.Config) {
		c.Providers.WireGuard.Options["simulate_fail"] = "true"
	})

	err := s.Connect(context.Background())
	require.Error(t, err)

	// The countdown expires after one tick and the fallback provider takes over.
	require.Eventually(t, func() bool {
		pp, ok := s.ConnectedProtocol()
		return ok && pp.Protocol == protocols.UDP
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, "openvpn", s.GetStatusPayload().Provider)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().Failovers))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().ConnectAttempts.WithLabelValues(protocols.UDP, "failover", "success")))
	assert.False(t, s.Engine().CountdownActive())

	list := s.Engine().Candidates()
	assert.Equal(t, protocols.ViewConnected, list[list.Index(protocols.UDP)].View.Kind)
	assert.Equal(t, protocols.ViewFail, list[list.Index(protocols.WireGuard)].View.Kind)
}

func TestService_ExhaustionReportsError(t *testing.T) {
	s := newTestService(t, func(c *config.Config) {
		c.Providers.WireGuard.Options["simulate_fail"] = "true"
		c.Providers.OpenVPN.Options = map[string]string{"simulate_fail": "true"}
	})

	require.Error(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return s.State() == StateError
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, ErrExhausted.Error(), s.GetStatusPayload().Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().Exhaustions))
	assert.Zero(t, s.Engine().Candidates().Count(protocols.ViewFail))
}

func TestService_SelectProtocolConnectsInBackground(t *testing.T) {
	s := newTestService(t, nil)

	s.SelectProtocol(protocols.NewProtocolPort(protocols.UDP, "1194"))
	require.Eventually(t, func() bool {
		pp, ok := s.ConnectedProtocol()
		return ok && pp.Protocol == protocols.UDP
	}, 5*time.Second, 5*time.Millisecond)

	head, ok := s.Engine().Candidates().Head()
	require.True(t, ok)
	assert.Equal(t, protocols.UDP, head.Protocol)
	assert.Equal(t, protocols.ViewConnected, s.Engine().Candidates()[0].View.Kind)

	good, _, ok := s.Engine().GoodProtocol()
	require.True(t, ok)
	assert.Equal(t, protocols.NewProtocolPort(protocols.UDP, "1194"), good)
}

func TestService_DisconnectCancelsAttempt(t *testing.T) {
	s := newTestServiceDelay(t, time.Minute, nil)

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background()) }()
	require.Eventually(t, func() bool {
		return s.State() == StateConnecting
	}, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Disconnect(ctx))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not return after disconnect")
	}

	assert.Equal(t, StateDisconnected, s.State())
	assert.False(t, s.IsConnected())
	require.Eventually(t, func() bool {
		for _, p := range s.providers {
			if p.IsConnecting() || p.IsConnected() {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
	assert.False(t, s.Engine().CountdownActive())
	assert.Zero(t, s.Engine().Candidates().Count(protocols.ViewFail))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().ConnectAttempts.WithLabelValues(protocols.WireGuard, "user", "failure")))
}

func TestService_MonitorAdoptsTunnel(t *testing.T) {
	prev := statusInterval
	statusInterval = 5 * time.Millisecond
	t.Cleanup(func() { statusInterval = prev })

	s := newTestService(t, nil)
	require.NoError(t, s.Connect(context.Background()))

	// Lose track of the running tunnel.
	s.setState(StateDisconnected)
	s.Engine().Reset()
	_, _, ok := s.Engine().GoodProtocol()
	require.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.monitorStatus(ctx)

	require.Eventually(t, func() bool {
		_, _, ok := s.Engine().GoodProtocol()
		return ok && s.State() == StateConnected
	}, 5*time.Second, 5*time.Millisecond)

	good, _, _ := s.Engine().GoodProtocol()
	assert.Equal(t, protocols.NewProtocolPort(protocols.WireGuard, "51820"), good)
	list := s.Engine().Candidates()
	i := list.Index(protocols.WireGuard)
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, protocols.ViewConnected, list[i].View.Kind)
}

func TestService_TunnelDropMarksDisconnected(t *testing.T) {
	s := newTestService(t, nil)
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.store.Stop(context.Background(), "wireguard"))
	require.Eventually(t, func() bool {
		return s.State() == StateDisconnected
	}, time.Second, time.Millisecond)
	_, ok := s.ConnectedProtocol()
	assert.False(t, ok)
}

func TestService_ConnectWithoutServerFails(t *testing.T) {
	s := newTestService(t, func(c *config.Config) {
		c.PortMap = map[string][]string{protocols.IKEv2: {"500"}}
	})

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, StateError, s.State())
}

func TestService_PowerEvents(t *testing.T) {
	s := newTestService(t, nil)
	s.resumeDelay = time.Millisecond
	require.NoError(t, s.Connect(context.Background()))

	s.HandlePowerEvent(true)
	assert.Equal(t, StateDisconnected, s.State())

	s.HandlePowerEvent(false)
	require.Eventually(t, s.IsConnected, 5*time.Second, 5*time.Millisecond)
}

func TestService_ConfigChangeRefreshes(t *testing.T) {
	s := newTestService(t, nil)
	require.NoError(t, s.Config().SetPortMap(map[string][]string{protocols.TCP: {"443"}}))

	head, ok := s.Engine().Candidates().Head()
	require.True(t, ok)
	assert.Equal(t, protocols.NewProtocolPort(protocols.TCP, "443"), head)
}
