package engine

import (
	"time"

	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

// countdown is the single failover timer. The engine holds at most one; a
// goroutine whose countdown is no longer e.countdown exits without effect.
type countdown struct {
	target protocols.ProtocolPort
	stop   chan struct{}
}

// CancelFailover stops a running countdown and demotes the NextUp candidate.
// It is a no-op when no countdown is running.
func (e *Engine) CancelFailover() {
	e.mu.Lock()
	if e.countdown == nil {
		e.mu.Unlock()
		return
	}
	events := e.stopCountdownLocked()
	e.list.Retag(protocols.ViewNextUp, protocols.Normal())
	events = append(events, e.listEventLocked())
	e.queueLocked(events...)
	e.mu.Unlock()

	logger.Info("Failover countdown cancelled")
	e.flush()
}

func (e *Engine) startCountdownLocked(target protocols.ProtocolPort) []Event {
	events := e.stopCountdownLocked()

	c := &countdown{target: target, stop: make(chan struct{})}
	e.countdown = c
	if i := e.list.Index(target.Protocol); i >= 0 {
		e.list[i].View = protocols.NextUp(e.countdownSeconds)
	}
	logger.Info("Switching to %s in %d seconds", target, e.countdownSeconds)

	logger.SafeGo("failoverCountdown", func() { e.runCountdown(c) })
	return append(events,
		e.listEventLocked(),
		Event{Kind: EventCountdown, Protocol: target, Remaining: e.countdownSeconds},
	)
}

func (e *Engine) stopCountdownLocked() []Event {
	c := e.countdown
	if c == nil {
		return nil
	}
	e.countdown = nil
	close(c.stop)
	return []Event{{Kind: EventCountdown, Protocol: c.target, Ended: true}}
}

func (e *Engine) runCountdown(c *countdown) {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	remaining := e.countdownSeconds
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
		remaining--

		connected := false
		if remaining <= 0 && e.sources.Connection != nil {
			_, connected = e.sources.Connection.ConnectedProtocol()
		}

		e.mu.Lock()
		if e.countdown != c {
			e.mu.Unlock()
			return
		}

		if remaining > 0 {
			if i := e.list.Index(c.target.Protocol); i >= 0 && e.list[i].View.Kind == protocols.ViewNextUp {
				e.list[i].View = protocols.NextUp(remaining)
			}
			events := []Event{
				e.listEventLocked(),
				{Kind: EventCountdown, Protocol: c.target, Remaining: remaining},
			}
			e.queueLocked(events...)
			e.mu.Unlock()
			e.flush()
			continue
		}

		e.countdown = nil
		events := []Event{{Kind: EventCountdown, Protocol: c.target, Ended: true}}
		if connected {
			logger.Info("Failover countdown ended while connected, nothing to do")
		} else {
			next := c.target
			if i := e.list.First(protocols.ViewNextUp); i >= 0 {
				next = e.list[i].ProtocolPort
			}
			events = append(events, e.selectLocked(next, ReasonFailover)...)
		}
		e.queueLocked(events...)
		e.mu.Unlock()
		e.flush()
		return
	}
}
