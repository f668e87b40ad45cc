package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/user/vpn-orchestrator/internal/engine"
	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/protocols"
	"github.com/user/vpn-orchestrator/internal/provider"
)

// Connection errors.
var (
	ErrBusy        = errors.New("a connect attempt is already running")
	ErrExhausted   = errors.New("all protocols failed")
	ErrNoCandidate = errors.New("no protocol candidate")
)

// Connect connects with the head of the refreshed candidate list and
// waits for the result.
func (s *Service) Connect(ctx context.Context) error {
	if !s.connectMu.TryLock() {
		return ErrBusy
	}
	defer s.connectMu.Unlock()

	next := s.engine.NextProtocol()
	if next.IsZero() {
		return ErrNoCandidate
	}
	return s.connectProtocol(ctx, next, engine.ReasonUser)
}

// SelectProtocol promotes p and connects with it in the background.
func (s *Service) SelectProtocol(p protocols.ProtocolPort) {
	s.engine.SelectProtocol(p, engine.ReasonUser)
}

// Reconnect tears the tunnel down and connects again with the head of a
// list rebuilt without the connected tag.
func (s *Service) Reconnect(ctx context.Context) error {
	if s.facade.IsConnected() {
		if err := s.Disconnect(ctx); err != nil {
			return err
		}
	}
	s.engine.Refresh(engine.RefreshOptions{Reconnect: true})
	return nil
}

// Disconnect stops the connected tunnel. A running failover countdown and
// any connect attempt in flight are cancelled first.
func (s *Service) Disconnect(ctx context.Context) error {
	s.engine.CancelFailover()
	if err := s.stopAttempt(ctx); err != nil {
		return err
	}
	defer s.connectMu.Unlock()

	s.mu.Lock()
	prev := s.state
	s.state = StateDisconnecting
	s.mu.Unlock()
	s.broadcastStatus()

	err := s.facade.Disconnect(ctx)
	if err != nil && !errors.Is(err, provider.ErrNotConnected) {
		logger.Error("Disconnect failed: %v", err)
		s.mu.Lock()
		s.state = prev
		s.lastError = err
		s.mu.Unlock()
		s.broadcastStatus()
		return err
	}

	s.markDisconnected()
	logger.Connection("Disconnected")
	return nil
}

// stopAttempt cancels the running connect attempt and takes connectMu once
// it has returned. Attempts that grab the lock in between are cancelled too.
func (s *Service) stopAttempt(ctx context.Context) error {
	ticker := time.NewTicker(attemptPollInterval)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		cancel := s.attemptCancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if s.connectMu.TryLock() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// markDisconnected records the disconnected state and tells the engine.
func (s *Service) markDisconnected() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.connectedAt = time.Time{}
	s.countdown = 0
	s.mu.Unlock()
	s.metrics.SetConnected("")
	s.engine.OnStateChange(protocols.StateDisconnected)
	s.broadcastStatus()
}

// connectProtocol runs one attempt with pp. A failure is reported to the
// engine, which either starts a failover countdown or gives up. The caller
// holds connectMu.
func (s *Service) connectProtocol(ctx context.Context, pp protocols.ProtocolPort, reason engine.Reason) error {
	kind := provider.KindFor(pp.Protocol)
	id := uuid.NewString()
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.mu.Lock()
		s.attemptCancel = nil
		s.mu.Unlock()
	}()

	s.mu.Lock()
	s.state = StateConnecting
	s.protocol = pp
	s.kind = kind
	s.attemptID = id
	s.attemptCancel = cancel
	s.lastError = nil
	s.mu.Unlock()
	s.broadcastStatus()

	logger.Connection("[%s] Connecting with %s over the %s provider (%s)", id, pp, kind, reason)

	err := s.installProfile(ctx, kind, pp)
	if err == nil {
		err = s.facade.ConnectKind(ctx, kind)
	}
	s.metrics.ConnectDuration.WithLabelValues(pp.Protocol).Observe(time.Since(start).Seconds())

	if err == nil {
		s.metrics.ConnectAttempts.WithLabelValues(pp.Protocol, string(reason), "success").Inc()
		s.metrics.SetConnected(pp.Protocol)
		s.mu.Lock()
		s.state = StateConnected
		s.connectedAt = time.Now()
		s.mu.Unlock()
		logger.Connection("[%s] Connected with %s in %s", id, pp, time.Since(start).Round(time.Millisecond))
		s.engine.OnStateChange(protocols.StateConnected)
		s.broadcastStatus()
		return nil
	}

	s.metrics.ConnectAttempts.WithLabelValues(pp.Protocol, string(reason), "failure").Inc()
	logger.Error("[%s] Connect with %s failed: %v", id, pp, err)

	switch {
	case errors.Is(err, provider.ErrBusy):
		// The provider is already up or coming up; keep what it reports.
		s.syncState()
		return err
	case ctx.Err() != nil:
		// Cancelled by Disconnect or shutdown; the tunnel is torn down by
		// whoever cancelled.
		s.markDisconnected()
		return err
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.lastError = err
	s.mu.Unlock()

	if s.engine.OnFail(pp) {
		s.setError(ErrExhausted)
		return fmt.Errorf("%w: %v", ErrExhausted, err)
	}
	s.metrics.Failovers.Inc()
	s.broadcastStatus()
	return err
}

// installProfile configures the provider of kind from the providers
// section with the protocol and port of pp.
func (s *Service) installProfile(ctx context.Context, kind provider.Kind, pp protocols.ProtocolPort) error {
	pc := providerConfig(s.config.Get(), kind)
	p := s.providers[kind]

	prof, ok := p.Profile()
	if !ok {
		if pc.Server == "" {
			return fmt.Errorf("%w: %s has no server", provider.ErrNotConfigured, kind)
		}
		prof = provider.Profile{Name: pc.Profile}
	}
	if pc.Server != "" {
		prof.Server = pc.Server
	}
	if len(pc.Options) > 0 {
		opts := make(map[string]string, len(prof.Options)+len(pc.Options))
		for k, v := range prof.Options {
			opts[k] = v
		}
		for k, v := range pc.Options {
			opts[k] = v
		}
		prof.Options = opts
	}
	prof.Protocol = pp.Protocol
	prof.Port = pp.Port
	return p.Configure(ctx, prof)
}

// syncState reads the state back from the providers.
func (s *Service) syncState() {
	if s.facade.IsConnected() {
		s.setState(StateConnected)
		return
	}
	for _, p := range s.providers {
		if p.IsConnecting() {
			s.setState(StateConnecting)
			return
		}
	}
	s.setState(StateDisconnected)
}

// IPAddress returns the public IP address.
func (s *Service) IPAddress(ctx context.Context) (string, error) {
	ip, err := s.facade.IPAddress(ctx)
	result := "success"
	if err != nil {
		result = "failure"
	}
	s.metrics.IPLookups.WithLabelValues(result).Inc()
	return ip, err
}

// Candidates returns a copy of the candidate list.
func (s *Service) Candidates() protocols.CandidateList {
	return s.engine.Candidates()
}

// CancelFailover stops a running failover countdown.
func (s *Service) CancelFailover() {
	s.engine.CancelFailover()
}

// ResetCandidates drops the failure history and the good protocol.
func (s *Service) ResetCandidates() {
	s.engine.Reset()
}
