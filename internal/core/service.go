// Package core wires configuration, the profile store, the providers and
// the priority engine into the orchestrator service.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/vpn-orchestrator/internal/config"
	"github.com/user/vpn-orchestrator/internal/engine"
	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/metrics"
	"github.com/user/vpn-orchestrator/internal/netwatch"
	"github.com/user/vpn-orchestrator/internal/profilestore"
	"github.com/user/vpn-orchestrator/internal/protocols"
	"github.com/user/vpn-orchestrator/internal/protocols/ikev2"
	"github.com/user/vpn-orchestrator/internal/protocols/openvpn"
	"github.com/user/vpn-orchestrator/internal/protocols/wireguard"
	"github.com/user/vpn-orchestrator/internal/provider"
)

// State represents the service state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
	StateError         State = "error"
)

// ProfileStore is the profile store as the service uses it.
type ProfileStore interface {
	provider.ProfileStore
	OnStateChange(fn func(name string, state protocols.State))
	LocalIP(name string) string
	StopAll(ctx context.Context)
}

// Service is the orchestrator.
type Service struct {
	config  *config.Manager
	store   ProfileStore
	network *netwatch.Watcher
	metrics *metrics.Metrics
	ip      *IPLookup

	providers map[provider.Kind]*provider.Provider
	facade    *Facade
	engine    *engine.Engine

	ctx    context.Context
	cancel context.CancelFunc

	// connectMu serialises connect attempts.
	connectMu sync.Mutex

	mu             sync.RWMutex
	state          State
	protocol       protocols.ProtocolPort
	kind           provider.Kind
	attemptID      string
	attemptCancel  context.CancelFunc
	connectedAt    time.Time
	countdown      int
	lastError      error
	wasConnected   bool
	resumeDelay    time.Duration
	autoconnect    time.Duration
	statusListener []StatusListener
}

// NewService loads the configuration at configPath and builds the service
// with the system profile store and network watcher.
func NewService(configPath string) (*Service, error) {
	cm := config.NewManager(configPath)
	if err := cm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := cm.Get()

	if err := logger.Init(cfg.Log.Path); err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.Info("VPN orchestrator initializing...")

	store, err := profilestore.New(profilestore.Options{
		Dir:            cfg.Profiles.Dir,
		KeyringService: cfg.Profiles.KeyringService,
		Runners:        Runners(cfg.Profiles.Simulate),
	})
	if err != nil {
		return nil, err
	}

	watcher := netwatch.New(netwatch.Options{
		Interval: cfg.Failover.NetworkPollInterval.Std(),
		Debounce: cfg.Failover.NetworkDebounce.Std(),
	})

	return newService(cm, store, watcher, metrics.New(), NewIPLookup(cfg.IPLookup)), nil
}

// Runners returns the tunnel runner for each provider family.
func Runners(simulate bool) map[string]profilestore.Runner {
	if simulate {
		sim := profilestore.SimulatedRunner(time.Second)
		return map[string]profilestore.Runner{
			provider.KindPrimary.String():  sim,
			provider.KindLegacy.String():   sim,
			provider.KindFallback.String(): sim,
		}
	}
	return map[string]profilestore.Runner{
		provider.KindPrimary.String():  wireguard.New,
		provider.KindLegacy.String():   ikev2.New,
		provider.KindFallback.String(): openvpn.New,
	}
}

func newService(cm *config.Manager, store ProfileStore, watcher *netwatch.Watcher, m *metrics.Metrics, ip *IPLookup) *Service {
	cfg := cm.Get()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		config:      cm,
		store:       store,
		network:     watcher,
		metrics:     m,
		ip:          ip,
		providers:   map[provider.Kind]*provider.Provider{},
		ctx:         ctx,
		cancel:      cancel,
		state:       StateDisconnected,
		resumeDelay: 5 * time.Second,
		autoconnect: 2 * time.Second,
	}

	for _, kind := range []provider.Kind{provider.KindPrimary, provider.KindLegacy, provider.KindFallback} {
		pc := providerConfig(cfg, kind)
		s.providers[kind] = provider.New(store, provider.Options{
			Kind:         kind,
			Profile:      pc.Profile,
			Marker:       pc.Marker,
			OnDemand:     cm.OnDemand,
			PollAttempts: cfg.Failover.PollAttempts,
			PollInterval: cfg.Failover.PollInterval.Std(),
		})
	}
	var resolver IPResolver
	if ip != nil {
		resolver = ip
	}
	s.facade = NewFacade(
		s.providers[provider.KindPrimary],
		s.providers[provider.KindLegacy],
		s.providers[provider.KindFallback],
		resolver,
	)

	s.engine = engine.New(engine.Sources{
		PortMap:         cm,
		Preferences:     cm,
		Network:         watcher,
		SecuredNetworks: cm,
		Connection:      s,
	}, engine.Options{
		CountdownSeconds:    cfg.Failover.CountdownSeconds,
		Tick:                cfg.Failover.Tick.Std(),
		GoodRetention:       cfg.Failover.GoodProtocolRetention.Std(),
		MaintenanceInterval: cfg.Failover.MaintenanceInterval.Std(),
	})

	s.engine.AddListener(s.onEngineEvent)
	store.OnStateChange(s.onProfileState)
	watcher.OnChange(s.onNetworkChange)
	cm.OnChange(s.onConfigChange)

	logger.Info("VPN orchestrator initialized")
	return s
}

func providerConfig(cfg *config.Config, kind provider.Kind) config.Provider {
	switch kind {
	case provider.KindPrimary:
		return cfg.Providers.WireGuard
	case provider.KindLegacy:
		return cfg.Providers.IKEv2
	default:
		return cfg.Providers.OpenVPN
	}
}

// Config returns the configuration manager.
func (s *Service) Config() *config.Manager {
	return s.config
}

// Engine returns the priority engine.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// Metrics returns the metrics registry wrapper.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Network returns the network watcher.
func (s *Service) Network() *netwatch.Watcher {
	return s.network
}

// Facade returns the provider facade.
func (s *Service) Facade() *Facade {
	return s.facade
}

// Start sets the providers up, builds the first candidate list and
// connects when autoconnect is on.
func (s *Service) Start(ctx context.Context) error {
	logger.Info("Starting VPN orchestrator...")
	s.facade.Setup(ctx)
	s.syncConnected()
	s.engine.Refresh(engine.RefreshOptions{})

	if s.config.Get().Autoconnect && !s.facade.IsConnected() {
		delay := s.autoconnect
		logger.Info("Auto-connect enabled, will connect in %s...", delay)
		logger.SafeGo("autoConnect", func() {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
			if err := s.Connect(s.ctx); err != nil {
				logger.Warning("auto-connect: %v", err)
			}
		})
	}

	logger.Info("VPN orchestrator started")
	return nil
}

// syncConnected adopts a tunnel that is already up, e.g. after a restart
// with a running platform tunnel.
func (s *Service) syncConnected() {
	p, ok := s.facade.Connected()
	if !ok {
		return
	}
	pr := s.providers[p.Kind()]
	prof, _ := pr.Profile()
	s.mu.Lock()
	s.state = StateConnected
	s.kind = p.Kind()
	s.protocol = protocols.NewProtocolPort(prof.Protocol, prof.Port)
	s.connectedAt = time.Now()
	s.mu.Unlock()
	s.metrics.SetConnected(prof.Protocol)
	logger.Info("Adopted running %s tunnel", p.Kind())
}

// Stop cancels background work and brings the tunnel down.
func (s *Service) Stop() error {
	logger.Info("Stopping VPN orchestrator...")
	s.cancel()
	s.engine.CancelFailover()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if s.IsConnected() || s.State() == StateConnecting {
		if err := s.Disconnect(ctx); err != nil {
			logger.Warning("disconnect on stop: %v", err)
		}
	}
	s.store.StopAll(ctx)

	logger.Info("VPN orchestrator stopped")
	return nil
}

// State returns the service state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether the tunnel is up.
func (s *Service) IsConnected() bool {
	return s.State() == StateConnected
}

// ConnectedProtocol reports the protocol of the established tunnel.
func (s *Service) ConnectedProtocol() (protocols.ProtocolPort, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected || s.protocol.IsZero() {
		return protocols.ProtocolPort{}, false
	}
	return s.protocol, true
}
