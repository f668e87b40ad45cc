package netwatch

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkIdentity(t *testing.T) {
	assert.Equal(t, "", Network{}.ID())
	assert.Nil(t, Network{}.Keys())
	assert.Equal(t, "offline", Network{}.String())

	n := Network{Interface: "wlan0", Prefix: "192.168.1.0/24"}
	assert.Equal(t, "wlan0/192.168.1.0/24", n.ID())
	assert.Equal(t, []string{"192.168.1.0/24", "wlan0"}, n.Keys())
}

func TestIsTunnel(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"tun0", true},
		{"wg0", true},
		{"utun3", true},
		{"ppp0", true},
		{"eth0", false},
		{"wlan0", false},
		{"en0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTunnel(tt.name))
		})
	}
}

func TestNetworkOf(t *testing.T) {
	_, ipNet, err := net.ParseCIDR("192.168.1.0/24")
	require.NoError(t, err)
	ipNet.IP = net.ParseIP("192.168.1.42")

	n, ok := networkOf("eth0", ipNet)
	require.True(t, ok)
	assert.Equal(t, Network{Interface: "eth0", Prefix: "192.168.1.0/24"}, n)

	_, v6, err := net.ParseCIDR("2001:db8::/64")
	require.NoError(t, err)
	_, ok = networkOf("eth0", v6)
	assert.False(t, ok)

	_, ll, err := net.ParseCIDR("169.254.3.4/16")
	require.NoError(t, err)
	ll.IP = net.ParseIP("169.254.3.4")
	_, ok = networkOf("eth0", ll)
	assert.False(t, ok)
}

type sequence struct {
	mu  sync.Mutex
	cur Network
}

func (s *sequence) Set(n Network) {
	s.mu.Lock()
	s.cur = n
	s.mu.Unlock()
}

func (s *sequence) Detect() (Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur, nil
}

func TestWatcherReportsStableChange(t *testing.T) {
	seq := &sequence{cur: Network{Interface: "eth0", Prefix: "10.0.0.0/24"}}
	w := New(Options{Interval: time.Millisecond, Debounce: 20 * time.Millisecond, Detect: seq.Detect})
	assert.Equal(t, "eth0/10.0.0.0/24", w.Current().ID())

	changes := make(chan Network, 4)
	w.OnChange(func(n Network) { changes <- n })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Serve(ctx)

	wifi := Network{Interface: "wlan0", Prefix: "192.168.1.0/24"}
	seq.Set(wifi)

	select {
	case n := <-changes:
		assert.Equal(t, wifi, n)
	case <-time.After(2 * time.Second):
		t.Fatal("no network change reported")
	}
	assert.Equal(t, wifi, w.Current())
	assert.Empty(t, changes)
}

func TestWatcherIgnoresFlaps(t *testing.T) {
	home := Network{Interface: "eth0", Prefix: "10.0.0.0/24"}
	seq := &sequence{cur: home}
	w := New(Options{Interval: time.Millisecond, Debounce: time.Hour, Detect: seq.Detect})

	var mu sync.Mutex
	called := 0
	w.OnChange(func(Network) {
		mu.Lock()
		called++
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	seq.Set(Network{})
	err := w.Serve(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, called)
	assert.Equal(t, home, w.Current())
}
