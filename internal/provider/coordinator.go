package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/user/vpn-orchestrator/internal/logger"
)

// connect brings p up after clearing competitors. Steps run strictly in
// order and every step waits for the previous one to complete.
func connect(ctx context.Context, p *Provider, others []TunnelProvider) error {
	// A connected competitor is torn down in the background and this
	// attempt fails on the first one found.
	for _, o := range others {
		if o.IsConnected() {
			logger.Connection("%s connect aborted: %s is connected, disconnecting it", p.kind, o.Kind())
			competitor := o
			logger.SafeGo("disconnectCompetitor", func() {
				if err := competitor.Disconnect(context.WithoutCancel(ctx)); err != nil {
					logger.Warning("failed to disconnect %s: %v", competitor.Kind(), err)
				}
			})
			return fmt.Errorf("%w: %s", ErrCompetitorActive, o.Kind())
		}
	}

	if p.IsConnected() || p.IsConnecting() || !p.connecting.CompareAndSwap(false, true) {
		logger.Warning("%s connect ignored: already connected or connecting", p.kind)
		return ErrBusy
	}
	defer p.connecting.Store(false)

	for _, o := range others {
		if err := o.RemoveProfile(ctx); err != nil {
			logger.Error("%s connect aborted: removing %s profile failed: %v", p.kind, o.Kind(), err)
			return err
		}
	}

	if err := p.reload(ctx); err != nil {
		logger.Error("%s connect aborted: load failed: %v", p.kind, err)
		return fmt.Errorf("load %s profile: %w", p.kind, err)
	}
	prof, ok := p.Profile()
	if !ok {
		return ErrNotConfigured
	}

	prof.OnDemand = p.onDemand()
	prof.Enabled = true
	if err := p.store.Save(ctx, prof); err != nil {
		logger.Error("%s connect aborted: save failed: %v", p.kind, err)
		return fmt.Errorf("save %s profile: %w", p.kind, err)
	}

	if err := p.reload(ctx); err != nil {
		logger.Error("%s connect aborted: reload failed: %v", p.kind, err)
		return fmt.Errorf("reload %s profile: %w", p.kind, err)
	}

	logger.Connection("Starting %s tunnel (%s %s)", p.kind, prof.Protocol, prof.Port)
	if err := p.store.Start(ctx, prof.Name); err != nil {
		logger.Error("%s tunnel failed to start: %v", p.kind, err)
		return fmt.Errorf("start %s tunnel: %w", p.kind, err)
	}

	for i := 0; i < p.pollAttempts; i++ {
		if p.IsConnected() {
			logger.Connection("%s tunnel connected", p.kind)
			return nil
		}
		logger.Debug("%s state check %d/%d: %s", p.kind, i+1, p.pollAttempts, p.State())
		select {
		case <-ctx.Done():
			p.stopAfterFailure(ctx)
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
	if p.IsConnected() {
		logger.Connection("%s tunnel connected", p.kind)
		return nil
	}

	logger.Error("%s tunnel did not connect after %d checks", p.kind, p.pollAttempts)
	p.stopAfterFailure(ctx)
	return ErrConnectTimeout
}

func (p *Provider) stopAfterFailure(ctx context.Context) {
	if err := disconnect(context.WithoutCancel(ctx), p); err != nil {
		logger.Warning("%s cleanup disconnect: %v", p.kind, err)
	}
}

// disconnect turns on-demand off and stops the tunnel. Nothing is stopped
// when a load or save fails.
func disconnect(ctx context.Context, p *Provider) error {
	if p.IsDisconnected() {
		return ErrNotConnected
	}

	if err := p.reload(ctx); err != nil {
		logger.Error("%s disconnect: load failed: %v", p.kind, err)
		return fmt.Errorf("load %s profile: %w", p.kind, err)
	}
	prof, ok := p.Profile()
	if !ok {
		return ErrNotConfigured
	}

	prof.OnDemand = false
	prof.Enabled = true
	if err := p.store.Save(ctx, prof); err != nil {
		logger.Error("%s disconnect: save failed: %v", p.kind, err)
		return fmt.Errorf("save %s profile: %w", p.kind, err)
	}

	if err := p.reload(ctx); err != nil {
		logger.Error("%s disconnect: reload failed: %v", p.kind, err)
		return fmt.Errorf("reload %s profile: %w", p.kind, err)
	}

	if err := p.store.Stop(ctx, prof.Name); err != nil {
		logger.Error("%s disconnect: stop failed: %v", p.kind, err)
		return fmt.Errorf("stop %s tunnel: %w", p.kind, err)
	}
	logger.Connection("%s tunnel stopped", p.kind)
	return nil
}
