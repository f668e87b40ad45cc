package config

import (
	"github.com/user/vpn-orchestrator/internal/protocols"
)

// The Manager doubles as the preferences store, the secured-network
// repository, the port map repository and the location source.

// PortMap returns the server-provided ports per protocol.
func (m *Manager) PortMap() map[string][]string {
	return m.Get().PortMap
}

// ConnectionMode returns ModeAuto or ModeManual.
func (m *Manager) ConnectionMode() string {
	return m.Get().Connection.Mode
}

// ManualProtocol returns the protocol and port chosen for manual mode.
func (m *Manager) ManualProtocol() protocols.ProtocolPort {
	c := m.Get().Connection
	return protocols.NewProtocolPort(c.ManualProtocol, c.ManualPort)
}

// OnDemand reports whether profiles are saved with on-demand enabled.
func (m *Manager) OnDemand() bool {
	return m.Get().Connection.OnDemand
}

// PreferredProtocol returns the preferred protocol of the first secured network
// matching any of keys, if that network has its preference enabled.
func (m *Manager) PreferredProtocol(keys ...string) (protocols.ProtocolPort, bool) {
	for _, n := range m.Get().Networks {
		for _, k := range keys {
			if k == "" || n.Match != k {
				continue
			}
			if !n.PreferredEnabled || n.PreferredProtocol == "" {
				return protocols.ProtocolPort{}, false
			}
			return protocols.NewProtocolPort(n.PreferredProtocol, n.PreferredPort), true
		}
	}
	return protocols.ProtocolPort{}, false
}

// CustomLocation returns the protocol tied to the selected custom location.
func (m *Manager) CustomLocation() (protocols.ProtocolPort, bool) {
	loc := m.Get().Location
	if loc.Type != LocationCustom || loc.Protocol == "" {
		return protocols.ProtocolPort{}, false
	}
	return protocols.NewProtocolPort(loc.Protocol, loc.Port), true
}

// SetConnectionMode switches between automatic and manual protocol selection.
func (m *Manager) SetConnectionMode(mode string) error {
	return m.Modify(func(c *Config) { c.Connection.Mode = mode })
}

// SetManualProtocol stores the protocol used in manual mode.
func (m *Manager) SetManualProtocol(p protocols.ProtocolPort) error {
	return m.Modify(func(c *Config) {
		c.Connection.ManualProtocol = p.Protocol
		c.Connection.ManualPort = p.Port
	})
}

// SetPreferredProtocol adds or replaces the preference of a secured network.
func (m *Manager) SetPreferredProtocol(match string, p protocols.ProtocolPort, enabled bool) error {
	return m.Modify(func(c *Config) {
		n := SecuredNetwork{
			Match:             match,
			PreferredEnabled:  enabled,
			PreferredProtocol: p.Protocol,
			PreferredPort:     p.Port,
		}
		for i := range c.Networks {
			if c.Networks[i].Match == match {
				c.Networks[i] = n
				return
			}
		}
		c.Networks = append(c.Networks, n)
	})
}

// SetCustomLocation selects a location. A custom location may carry a protocol.
func (m *Manager) SetCustomLocation(loc Location) error {
	return m.Modify(func(c *Config) { c.Location = loc })
}

// SetPortMap replaces the server-provided port map.
func (m *Manager) SetPortMap(portMap map[string][]string) error {
	return m.Modify(func(c *Config) { c.PortMap = portMap })
}
