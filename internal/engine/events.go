package engine

import (
	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

// EventKind identifies an engine notification.
type EventKind int

const (
	// EventListChanged carries a copy of the new candidate list.
	EventListChanged EventKind = iota
	// EventCountdown reports the seconds left before an automatic switch.
	// Ended is set when the countdown finishes or is cancelled.
	EventCountdown
	// EventExhausted reports that every candidate failed.
	EventExhausted
	// EventConnectRequest asks the caller to connect with Protocol.
	EventConnectRequest
)

func (k EventKind) String() string {
	switch k {
	case EventListChanged:
		return "list_changed"
	case EventCountdown:
		return "countdown"
	case EventExhausted:
		return "exhausted"
	case EventConnectRequest:
		return "connect_request"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners in the order it was produced.
type Event struct {
	Kind       EventKind
	Candidates protocols.CandidateList
	Protocol   protocols.ProtocolPort
	Remaining  int
	Ended      bool
	Reason     Reason
}

// Listener receives engine events. Listeners must not block; long work
// belongs in a goroutine. A listener may call back into the engine.
type Listener func(Event)

// AddListener registers fn for all future events.
func (e *Engine) AddListener(fn Listener) {
	e.listMu.Lock()
	defer e.listMu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) queueLocked(events ...Event) {
	e.pending = append(e.pending, events...)
}

// flush delivers queued events. Only one goroutine delivers at a time; a
// caller that finds delivery in progress leaves its events to that goroutine,
// which keeps draining until the queue is empty.
func (e *Engine) flush() {
	for {
		if !e.emitMu.TryLock() {
			return
		}
		for {
			e.mu.Lock()
			events := e.pending
			e.pending = nil
			e.mu.Unlock()
			if len(events) == 0 {
				break
			}
			e.deliver(events)
		}
		e.emitMu.Unlock()

		e.mu.Lock()
		empty := len(e.pending) == 0
		e.mu.Unlock()
		if empty {
			return
		}
	}
}

func (e *Engine) deliver(events []Event) {
	e.listMu.RLock()
	listeners := append([]Listener(nil), e.listeners...)
	e.listMu.RUnlock()

	for _, ev := range events {
		for _, fn := range listeners {
			e.call(fn, ev)
		}
	}
}

func (e *Engine) call(fn Listener, ev Event) {
	defer logger.Recover("engineListener")
	fn(ev)
}
