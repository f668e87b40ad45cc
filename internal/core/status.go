package core

import (
	"time"

	"github.com/user/vpn-orchestrator/internal/protocols"
)

// StatusPayload is the service status as reported to the UI and the API.
type StatusPayload struct {
	State       string                  `json:"state"`
	Provider    string                  `json:"provider,omitempty"`
	Protocol    string                  `json:"protocol,omitempty"`
	Port        string                  `json:"port,omitempty"`
	LocalIP     string                  `json:"local_ip,omitempty"`
	Network     string                  `json:"network,omitempty"`
	ConnectedAt *time.Time              `json:"connected_at,omitempty"`
	AttemptID   string                  `json:"attempt_id,omitempty"`
	Countdown   int                     `json:"countdown,omitempty"`
	Next        string                  `json:"next,omitempty"`
	Candidates  protocols.CandidateList `json:"candidates"`
	Error       string                  `json:"error,omitempty"`
}

// StatusListener receives every status broadcast.
type StatusListener func(*StatusPayload)

// OnStatus registers fn for status broadcasts.
func (s *Service) OnStatus(fn StatusListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusListener = append(s.statusListener, fn)
}

// GetStatusPayload returns the current status.
func (s *Service) GetStatusPayload() *StatusPayload {
	// Engine and network are read before s.mu; neither calls back into s.
	candidates := s.engine.Candidates()
	next, _ := candidates.Head()
	network := s.network.Current()

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &StatusPayload{
		State:      string(s.state),
		AttemptID:  s.attemptID,
		Countdown:  s.countdown,
		Candidates: candidates,
		Network:    network.String(),
	}
	if !next.IsZero() {
		status.Next = next.String()
	}
	if !s.protocol.IsZero() && (s.state == StateConnected || s.state == StateConnecting) {
		status.Provider = s.kind.String()
		status.Protocol = s.protocol.Protocol
		status.Port = s.protocol.Port
	}
	if s.state == StateConnected {
		if pr, ok := s.providers[s.kind].Profile(); ok {
			status.LocalIP = s.store.LocalIP(pr.Name)
		}
		if !s.connectedAt.IsZero() {
			at := s.connectedAt
			status.ConnectedAt = &at
		}
	}
	if s.lastError != nil {
		status.Error = s.lastError.Error()
	}
	return status
}

// broadcastStatus sends the status to every listener.
func (s *Service) broadcastStatus() {
	s.mu.RLock()
	listeners := append([]StatusListener(nil), s.statusListener...)
	s.mu.RUnlock()
	if len(listeners) == 0 {
		return
	}
	status := s.GetStatusPayload()
	for _, fn := range listeners {
		fn(status)
	}
}

// setError sets the error state and broadcasts status.
func (s *Service) setError(err error) {
	s.mu.Lock()
	s.state = StateError
	s.lastError = err
	s.mu.Unlock()
	s.metrics.SetConnected("")
	s.broadcastStatus()
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	if state != StateError {
		s.lastError = nil
	}
	s.mu.Unlock()
	s.broadcastStatus()
}
