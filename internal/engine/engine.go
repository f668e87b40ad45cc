// Package engine owns the ordered candidate list and decides which
// protocol is tried next, including the automatic failover countdown.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/netwatch"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

// Reason tells why a connect request was emitted.
type Reason string

const (
	ReasonUser     Reason = "user"
	ReasonFailover Reason = "failover"
)

// PortMapSource supplies the server-provided ports per protocol.
type PortMapSource interface {
	PortMap() map[string][]string
}

// PreferenceSource supplies the user's protocol preferences.
type PreferenceSource interface {
	ConnectionMode() string
	ManualProtocol() protocols.ProtocolPort
	CustomLocation() (protocols.ProtocolPort, bool)
}

// NetworkSource reports the active network.
type NetworkSource interface {
	Current() netwatch.Network
}

// SecuredNetworkSource returns the preferred protocol of the first secured
// network matching one of keys.
type SecuredNetworkSource interface {
	PreferredProtocol(keys ...string) (protocols.ProtocolPort, bool)
}

// ConnectionSource reports the protocol of an established tunnel.
type ConnectionSource interface {
	ConnectedProtocol() (protocols.ProtocolPort, bool)
}

// Sources are read before every rebuild. Nil sources are treated as empty.
type Sources struct {
	PortMap         PortMapSource
	Preferences     PreferenceSource
	Network         NetworkSource
	SecuredNetworks SecuredNetworkSource
	Connection      ConnectionSource
}

// Options tunes the engine. Zero values take the defaults.
type Options struct {
	Supported           []string
	CountdownSeconds    int
	Tick                time.Duration
	GoodRetention       time.Duration
	MaintenanceInterval time.Duration
	Now                 func() time.Time
}

type goodProtocol struct {
	protocols.ProtocolPort
	at time.Time
}

// Engine is the priority engine. All list mutations happen under mu.
// Events are queued under mu in the order they happen and delivered to
// listeners after mu is released.
type Engine struct {
	sources Sources

	supported        []string
	countdownSeconds int
	tick             time.Duration
	retention        time.Duration
	maintenance      time.Duration
	now              func() time.Time

	mu           sync.Mutex
	list         protocols.CandidateList
	good         *goodProtocol
	userSelected *protocols.ProtocolPort
	network      string
	countdown    *countdown

	pending []Event
	emitMu  sync.Mutex

	listMu    sync.RWMutex
	listeners []Listener
}

// New creates an engine. The list is built on the first refresh.
func New(sources Sources, opts Options) *Engine {
	if len(opts.Supported) == 0 {
		opts.Supported = protocols.Supported
	}
	if opts.CountdownSeconds <= 0 {
		opts.CountdownSeconds = 10
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.GoodRetention <= 0 {
		opts.GoodRetention = 12 * time.Hour
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		sources:          sources,
		supported:        append([]string(nil), opts.Supported...),
		countdownSeconds: opts.CountdownSeconds,
		tick:             opts.Tick,
		retention:        opts.GoodRetention,
		maintenance:      opts.MaintenanceInterval,
		now:              opts.Now,
	}
}

// RefreshOptions select the kind of rebuild.
type RefreshOptions struct {
	// Reset rebuilds the list from the catalog and drops the user selection.
	Reset bool
	// Reconnect never tags the connected candidate and emits the head as a
	// connect request.
	Reconnect bool
	// Failover marks a rebuild that follows a failed attempt.
	Failover bool
}

// Refresh re-derives the candidate list from the current signals.
func (e *Engine) Refresh(opts RefreshOptions) {
	sig := e.readSignals()

	e.mu.Lock()
	e.refreshLocked(sig, opts)
	events := []Event{e.listEventLocked()}
	if opts.Reconnect {
		events = append(events, Event{Kind: EventConnectRequest, Protocol: e.headLocked(), Reason: ReasonUser})
	}
	e.queueLocked(events...)
	e.mu.Unlock()
	e.flush()
}

// NextProtocol refreshes the list and returns its head.
func (e *Engine) NextProtocol() protocols.ProtocolPort {
	sig := e.readSignals()

	e.mu.Lock()
	e.refreshLocked(sig, RefreshOptions{})
	head := e.headLocked()
	ev := e.listEventLocked()
	e.queueLocked(ev)
	e.mu.Unlock()
	e.flush()
	return head
}

// Current returns the head of the list without refreshing it.
func (e *Engine) Current() protocols.ProtocolPort {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.headLocked()
}

// Candidates returns a copy of the candidate list.
func (e *Engine) Candidates() protocols.CandidateList {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.list.Clone()
}

// GoodProtocol returns the last protocol that connected and when it did.
func (e *Engine) GoodProtocol() (protocols.ProtocolPort, time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.good == nil {
		return protocols.ProtocolPort{}, time.Time{}, false
	}
	return e.good.ProtocolPort, e.good.at, true
}

// CountdownActive reports whether a failover countdown is running.
func (e *Engine) CountdownActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.countdown != nil
}

// OnStateChange applies a tunnel state notification.
func (e *Engine) OnStateChange(state protocols.State) {
	var connected protocols.ProtocolPort
	var isConnected bool
	if state == protocols.StateConnected && e.sources.Connection != nil {
		connected, isConnected = e.sources.Connection.ConnectedProtocol()
	}

	e.mu.Lock()
	var events []Event
	e.userSelected = nil
	logger.Info("Connection state changed to %s", state)

	switch state {
	case protocols.StateConnected:
		events = append(events, e.stopCountdownLocked()...)
		// The connection source knows what actually came up; the NextUp
		// entry is only a guess for tunnels reported without one.
		if !isConnected {
			if i := e.list.First(protocols.ViewNextUp); i >= 0 {
				connected, isConnected = e.list[i].ProtocolPort, true
			}
		}
		if isConnected {
			e.list.Retag(protocols.ViewConnected, protocols.Normal())
			e.list.SetPort(connected)
			if j := e.list.Index(connected.Protocol); j >= 0 {
				e.list[j].View = protocols.Connected()
			}
			e.setGoodLocked(connected)
		}
		e.list.Retag(protocols.ViewNextUp, protocols.Normal())
	case protocols.StateDisconnected:
		e.list.Retag(protocols.ViewNextUp, protocols.Normal())
		e.list.Retag(protocols.ViewConnected, protocols.Normal())
	}
	events = append(events, e.listEventLocked())
	e.queueLocked(events...)
	e.mu.Unlock()
	e.flush()
}

// SelectProtocol makes p the user selection, promotes it and emits it as a
// connect request. A running countdown is cancelled first.
func (e *Engine) SelectProtocol(p protocols.ProtocolPort, reason Reason) {
	sig := e.readSignals()

	e.mu.Lock()
	if len(e.list) == 0 {
		e.refreshLocked(sig, RefreshOptions{})
	}
	events := e.stopCountdownLocked()
	events = append(events, e.selectLocked(p, reason)...)
	e.queueLocked(events...)
	e.mu.Unlock()
	e.flush()
}

func (e *Engine) selectLocked(p protocols.ProtocolPort, reason Reason) []Event {
	logger.Info("%s selected %s to connect", reason, p)
	sel := p
	e.userSelected = &sel
	e.list.Retag(protocols.ViewNextUp, protocols.Normal())
	e.list.SetPort(p)
	e.list.SetPriority(p.Protocol, protocols.Normal())
	return []Event{
		e.listEventLocked(),
		{Kind: EventConnectRequest, Protocol: e.headLocked(), Reason: reason},
	}
}

// OnFail demotes attempted, or the head when attempted is zero or not in
// the list. It returns true when every candidate has failed; the engine is
// then reset and listeners get EventExhausted. Otherwise the list is
// rebuilt and a failover countdown starts.
func (e *Engine) OnFail(attempted protocols.ProtocolPort) bool {
	sig := e.readSignals()

	e.mu.Lock()
	e.userSelected = nil
	e.refreshLocked(sig, RefreshOptions{})
	failed := attempted
	if failed.IsZero() || e.list.Index(failed.Protocol) < 0 {
		failed = e.headLocked()
	}
	logger.Info("%s failed to connect", failed.Protocol)
	e.list.SetPriority(failed.Protocol, protocols.Fail())

	if e.list.Count(protocols.ViewFail) == len(e.list) {
		logger.Info("No more protocols left to connect")
		events := e.stopCountdownLocked()
		e.resetLocked(sig)
		events = append(events, e.listEventLocked(), Event{Kind: EventExhausted})
		e.queueLocked(events...)
		e.mu.Unlock()
		e.flush()
		return true
	}

	e.refreshLocked(sig, RefreshOptions{Failover: true})
	events := []Event{e.listEventLocked()}
	if len(e.list) > 0 && e.list[0].View.Kind != protocols.ViewFail {
		events = append(events, e.startCountdownLocked(e.list[0].ProtocolPort)...)
	}
	e.queueLocked(events...)
	e.mu.Unlock()
	e.flush()
	return false
}

// Reset drops the good protocol, the user selection and the failure history
// and rebuilds the list.
func (e *Engine) Reset() {
	sig := e.readSignals()

	e.mu.Lock()
	events := e.stopCountdownLocked()
	e.resetLocked(sig)
	events = append(events, e.listEventLocked())
	e.queueLocked(events...)
	e.mu.Unlock()
	e.flush()
}

func (e *Engine) resetLocked(sig signals) {
	e.userSelected = nil
	e.good = nil
	e.list = nil
	e.refreshLocked(sig, RefreshOptions{Reset: true})
}

func (e *Engine) setGoodLocked(p protocols.ProtocolPort) {
	e.good = &goodProtocol{ProtocolPort: p, at: e.now()}
	logger.Debug("Good protocol is now %s", p)
}

// Maintain resets the engine when the good protocol is older than the
// retention window.
func (e *Engine) Maintain() {
	e.mu.Lock()
	expired := e.good != nil && e.now().Sub(e.good.at) >= e.retention
	e.mu.Unlock()

	if expired {
		logger.Info("Resetting good protocol after %s", e.retention)
		e.Reset()
	}
}

// Serve runs the periodic maintenance until ctx is done.
func (e *Engine) Serve(ctx context.Context) error {
	ticker := time.NewTicker(e.maintenance)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Maintain()
		}
	}
}

func (e *Engine) headLocked() protocols.ProtocolPort {
	if head, ok := e.list.Head(); ok {
		return head
	}
	return protocols.Default
}

func (e *Engine) listEventLocked() Event {
	return Event{Kind: EventListChanged, Candidates: e.list.Clone(), Protocol: e.headLocked()}
}
