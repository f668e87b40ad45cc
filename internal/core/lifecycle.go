package core

import (
	"time"

	"github.com/user/vpn-orchestrator/internal/config"
	"github.com/user/vpn-orchestrator/internal/engine"
	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/netwatch"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

// HandlePowerEvent handles system power events. A tunnel that was up
// before suspend is brought back on resume.
func (s *Service) HandlePowerEvent(suspend bool) {
	if suspend {
		s.mu.Lock()
		s.wasConnected = s.state == StateConnected
		s.mu.Unlock()

		if s.wasConnected {
			logger.Info("Suspending, disconnecting tunnel")
			if err := s.Disconnect(s.ctx); err != nil {
				logger.Warning("disconnect on suspend: %v", err)
			}
		}
		return
	}

	s.mu.Lock()
	resume := s.wasConnected
	s.wasConnected = false
	s.mu.Unlock()
	if !resume {
		return
	}

	logger.SafeGo("powerResumeReconnect", func() {
		// Wait for the network to come back.
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.resumeDelay):
		}
		logger.Info("Resumed, reconnecting")
		if err := s.facade.Connect(s.ctx); err != nil {
			logger.Warning("reconnect on resume: %v", err)
			return
		}
		s.syncConnected()
		s.engine.OnStateChange(protocols.StateConnected)
		s.broadcastStatus()
	})
}

// onNetworkChange rebuilds the candidate list for the new network. The
// watcher has already debounced the change.
func (s *Service) onNetworkChange(n netwatch.Network) {
	s.metrics.NetworkChanges.Inc()
	logger.Info("Network changed: %s", n)
	s.engine.Refresh(engine.RefreshOptions{})
	s.broadcastStatus()
}

// onConfigChange applies a saved configuration.
func (s *Service) onConfigChange(cfg *config.Config) {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	s.engine.Refresh(engine.RefreshOptions{})
}

// onProfileState follows platform state changes of the provider profiles.
// A tunnel that drops on its own is reported to the engine.
func (s *Service) onProfileState(name string, state protocols.State) {
	s.metrics.ProviderState.WithLabelValues(name).Set(float64(state))

	s.mu.RLock()
	active := s.state == StateConnected
	kind := s.kind
	s.mu.RUnlock()
	if !active {
		return
	}
	prof, ok := s.providers[kind].Profile()
	if !ok || prof.Name != name {
		return
	}

	switch {
	case state.Terminal():
		logger.Connection("%s tunnel went %s", kind, state)
		s.markDisconnected()
	case state == protocols.StateReconnecting:
		logger.Connection("%s tunnel is reconnecting", kind)
	}
}

// onEngineEvent executes connect requests and keeps the status current.
// Engine listeners must not block, so connects run in a goroutine that
// waits for any running attempt.
func (s *Service) onEngineEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventConnectRequest:
		if ev.Protocol.IsZero() {
			return
		}
		pp, reason := ev.Protocol, ev.Reason
		logger.SafeGo("connectRequest", func() {
			s.connectMu.Lock()
			defer s.connectMu.Unlock()
			if s.ctx.Err() != nil {
				return
			}
			if err := s.connectProtocol(s.ctx, pp, reason); err != nil {
				logger.Debug("connect request for %s: %v", pp, err)
			}
		})
	case engine.EventCountdown:
		s.mu.Lock()
		if ev.Ended {
			s.countdown = 0
		} else {
			s.countdown = ev.Remaining
		}
		s.mu.Unlock()
		if ev.Ended {
			s.metrics.CountdownActive.Set(0)
		} else {
			s.metrics.CountdownActive.Set(1)
		}
		s.broadcastStatus()
	case engine.EventExhausted:
		s.metrics.Exhaustions.Inc()
	case engine.EventListChanged:
		s.broadcastStatus()
	}
}
