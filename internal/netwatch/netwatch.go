// Package netwatch tracks the identity of the active physical network.
package netwatch

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/user/vpn-orchestrator/internal/logger"
)

// Network identifies the active network. The zero value means offline.
type Network struct {
	Interface string `json:"interface"`
	// Prefix is the IPv4 network the interface sits on, e.g. 192.168.1.0/24.
	Prefix string `json:"prefix"`
}

// ID returns a stable identity, or "" when offline.
func (n Network) ID() string {
	if n.Interface == "" {
		return ""
	}
	return n.Interface + "/" + n.Prefix
}

// Keys returns the values secured networks are matched against, most
// specific first.
func (n Network) Keys() []string {
	if n.Interface == "" {
		return nil
	}
	keys := []string{}
	if n.Prefix != "" {
		keys = append(keys, n.Prefix)
	}
	return append(keys, n.Interface)
}

func (n Network) String() string {
	if n.Interface == "" {
		return "offline"
	}
	return n.Interface + " " + n.Prefix
}

// tunnelPrefixes name interfaces owned by VPN tunnels. They never count as
// the physical network.
var tunnelPrefixes = []string{"tun", "tap", "wg", "utun", "ipsec", "ppp", "vpn-orch"}

// DetectFunc returns the current network.
type DetectFunc func() (Network, error)

// Options configures a Watcher.
type Options struct {
	Interval time.Duration
	Debounce time.Duration
	Detect   DetectFunc
}

// Watcher polls the network and reports identity changes once they have
// been stable for the debounce period.
type Watcher struct {
	interval time.Duration
	debounce time.Duration
	detect   DetectFunc

	mu       sync.RWMutex
	current  Network
	onChange []func(Network)
}

// New creates a watcher. Detect defaults to scanning system interfaces.
func New(opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Detect == nil {
		opts.Detect = Detect
	}
	w := &Watcher{
		interval: opts.Interval,
		debounce: opts.Debounce,
		detect:   opts.Detect,
	}
	if n, err := w.detect(); err == nil {
		w.current = n
	}
	return w
}

// Current returns the last reported network.
func (w *Watcher) Current() Network {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers fn for network changes.
func (w *Watcher) OnChange(fn func(Network)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Serve polls until ctx is done.
func (w *Watcher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var pending *Network
	var pendingSince time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		n, err := w.detect()
		if err != nil {
			logger.Debug("network detection failed: %v", err)
			continue
		}

		if n == w.Current() {
			pending = nil
			continue
		}
		if pending == nil || *pending != n {
			pending = &n
			pendingSince = time.Now()
		}
		if time.Since(pendingSince) < w.debounce {
			continue
		}
		pending = nil
		w.set(n)
	}
}

func (w *Watcher) set(n Network) {
	w.mu.Lock()
	prev := w.current
	w.current = n
	listeners := append([]func(Network){}, w.onChange...)
	w.mu.Unlock()

	logger.Info("Network changed: %s -> %s", prev, n)
	for _, fn := range listeners {
		fn(n)
	}
}

// Detect returns the first up, non-loopback, non-tunnel interface with a
// global unicast IPv4 address.
func Detect() (Network, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return Network{}, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 || isTunnel(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if n, ok := networkOf(iface.Name, ipNet); ok {
				return n, nil
			}
		}
	}
	return Network{}, nil
}

func networkOf(name string, ipNet *net.IPNet) (Network, bool) {
	ip, ok := netip.AddrFromSlice(ipNet.IP)
	if !ok {
		return Network{}, false
	}
	ip = ip.Unmap()
	if !ip.Is4() || !ip.IsGlobalUnicast() {
		return Network{}, false
	}
	ones, _ := ipNet.Mask.Size()
	prefix := netip.PrefixFrom(ip, ones).Masked()
	return Network{Interface: name, Prefix: prefix.String()}, true
}

func isTunnel(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range tunnelPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
