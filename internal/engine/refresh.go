package engine

import (
	"github.com/user/vpn-orchestrator/internal/config"
	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

// signals is a snapshot of the sources, taken before mu is acquired so that
// sources never run under the engine lock.
type signals struct {
	portMap      map[string][]string
	manual       *protocols.ProtocolPort
	preferred    *protocols.ProtocolPort
	custom       *protocols.ProtocolPort
	network      string
	connected    protocols.ProtocolPort
	hasConnected bool
}

func (e *Engine) readSignals() signals {
	var sig signals
	s := e.sources

	if s.PortMap != nil {
		sig.portMap = s.PortMap.PortMap()
	}
	var keys []string
	if s.Network != nil {
		n := s.Network.Current()
		sig.network = n.ID()
		keys = n.Keys()
	}
	if s.Preferences != nil {
		if s.Preferences.ConnectionMode() == config.ModeManual {
			p := s.Preferences.ManualProtocol()
			sig.manual = &p
		}
		if p, ok := s.Preferences.CustomLocation(); ok {
			sig.custom = &p
		}
	}
	if s.SecuredNetworks != nil && len(keys) > 0 {
		if p, ok := s.SecuredNetworks.PreferredProtocol(keys...); ok {
			sig.preferred = &p
		}
	}
	if s.Connection != nil {
		sig.connected, sig.hasConnected = s.Connection.ConnectedProtocol()
		sig.hasConnected = sig.hasConnected && !sig.connected.IsZero()
	}
	return sig
}

// refreshLocked rebuilds the list. Promotions apply in increasing precedence:
// good protocol, manual protocol, network preference, user selection, custom
// location. Failed candidates then go back to the end in their previous order.
func (e *Engine) refreshLocked(sig signals, opts RefreshOptions) {
	if e.network != "" && e.network != sig.network {
		logger.Info("Network changed from %s to %s, rebuilding protocols", e.network, displayNetwork(sig.network))
		e.good = nil
		e.userSelected = nil
		e.list = nil
		e.rebuildLocked(sig)
	}
	e.network = sig.network

	if opts.Reset {
		e.rebuildLocked(sig)
		e.userSelected = nil
	} else if len(e.list) == 0 {
		e.rebuildLocked(sig)
	}

	failed := e.list.Failed()
	e.list.Retag(protocols.ViewConnected, protocols.Normal())
	e.list.Retag(protocols.ViewNextUp, protocols.Normal())

	if e.good != nil {
		e.promoteLocked(e.good.ProtocolPort)
	}
	if sig.manual != nil {
		logger.Debug("Manual protocol: %s", sig.manual)
		e.promoteLocked(*sig.manual)
	}
	if sig.preferred != nil {
		e.promoteLocked(*sig.preferred)
	}
	if e.userSelected != nil {
		e.promoteLocked(*e.userSelected)
	}
	if sig.custom != nil {
		e.promoteLocked(*sig.custom)
	}

	for _, name := range failed {
		logger.Debug("Failed: %s", name)
		e.list.SetPriority(name, protocols.Fail())
	}

	switch {
	case sig.hasConnected && !opts.Reconnect && !opts.Failover:
		e.list.SetPort(sig.connected)
		e.list.SetPriority(sig.connected.Protocol, protocols.Connected())
	case len(e.list) > 0 && e.list[0].View.Kind != protocols.ViewFail:
		e.list[0].View = protocols.NextUp(protocols.NoCountdown)
	}

	logger.Info("Protocols to connect: %s", e.list)
}

func (e *Engine) rebuildLocked(sig signals) {
	e.list = protocols.BuildBaseList(e.supported, sig.portMap)
}

func (e *Engine) promoteLocked(p protocols.ProtocolPort) {
	if p.IsZero() {
		return
	}
	e.list.SetPort(p)
	e.list.SetPriority(p.Protocol, protocols.Normal())
}

func displayNetwork(id string) string {
	if id == "" {
		return "none"
	}
	return id
}
