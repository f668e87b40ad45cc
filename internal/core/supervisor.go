package core

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

var (
	statusInterval      = 5 * time.Second
	attemptPollInterval = 20 * time.Millisecond
)

// Run starts the service, supervises its background loops and the extra
// services until ctx is done, then stops the service.
func (s *Service) Run(ctx context.Context, extra ...suture.Service) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()

	root := suture.New("vpn-orchestrator", suture.Spec{
		EventHook:        logEvent,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
	root.Add(named{"engine", s.engine})
	root.Add(named{"netwatch", s.network})
	root.Add(named{"status", serveFunc(s.monitorStatus)})
	for _, svc := range extra {
		root.Add(svc)
	}

	err := root.Serve(ctx)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logEvent(ev suture.Event) {
	switch ev.Type() {
	case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
		logger.Error("supervisor: %s", ev)
	case suture.EventTypeBackoff:
		logger.Warning("supervisor: %s", ev)
	default:
		logger.Debug("supervisor: %s", ev)
	}
}

// monitorStatus reconciles the service state with the providers while no
// attempt is running.
func (s *Service) monitorStatus(ctx context.Context) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !s.connectMu.TryLock() {
			continue
		}
		state := s.State()
		connected := s.facade.IsConnected()
		switch {
		case state == StateConnected && !connected:
			logger.Connection("Tunnel is gone, marking disconnected")
			s.markDisconnected()
		case state != StateConnected && connected:
			s.syncConnected()
			s.engine.OnStateChange(protocols.StateConnected)
			s.broadcastStatus()
		}
		s.connectMu.Unlock()
	}
}

type serveFunc func(ctx context.Context) error

func (f serveFunc) Serve(ctx context.Context) error { return f(ctx) }

// named gives a service a name in supervisor events.
type named struct {
	name string
	suture.Service
}

func (n named) String() string { return n.name }
