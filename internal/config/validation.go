package config

import (
	"fmt"
	"net"
	"net/url"
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Version < 1 {
		return fmt.Errorf("invalid config version")
	}

	if err := c.Connection.Validate(); err != nil {
		return fmt.Errorf("connection config: %w", err)
	}

	if err := c.Failover.Validate(); err != nil {
		return fmt.Errorf("failover config: %w", err)
	}

	for i := range c.Networks {
		if err := c.Networks[i].Validate(); err != nil {
			return fmt.Errorf("networks[%d]: %w", i, err)
		}
	}

	if err := c.Location.Validate(); err != nil {
		return fmt.Errorf("location config: %w", err)
	}

	if err := c.Providers.Validate(); err != nil {
		return fmt.Errorf("providers config: %w", err)
	}

	if err := c.IPLookup.Validate(); err != nil {
		return fmt.Errorf("ip_lookup config: %w", err)
	}

	if c.API.Enabled {
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			return fmt.Errorf("api config: invalid listen address %q", c.API.Listen)
		}
	}

	return nil
}

// Validate validates connection preferences.
func (c *Connection) Validate() error {
	switch c.Mode {
	case ModeAuto:
	case ModeManual:
		if c.ManualProtocol == "" {
			return fmt.Errorf("manual_protocol is required in manual mode")
		}
	default:
		return fmt.Errorf("unknown mode: %s", c.Mode)
	}
	return nil
}

// Validate validates failover timing.
func (f *Failover) Validate() error {
	if f.CountdownSeconds < 1 {
		return fmt.Errorf("countdown_seconds must be at least 1")
	}
	if f.Tick <= 0 {
		return fmt.Errorf("tick must be positive")
	}
	if f.PollAttempts < 1 {
		return fmt.Errorf("poll_attempts must be at least 1")
	}
	if f.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if f.GoodProtocolRetention <= 0 {
		return fmt.Errorf("good_protocol_retention must be positive")
	}
	if f.MaintenanceInterval <= 0 {
		return fmt.Errorf("maintenance_interval must be positive")
	}
	if f.NetworkDebounce < 0 || f.NetworkPollInterval < 0 {
		return fmt.Errorf("network intervals cannot be negative")
	}
	return nil
}

// Validate validates a secured network entry.
func (n *SecuredNetwork) Validate() error {
	if n.Match == "" {
		return fmt.Errorf("match is required")
	}
	if n.PreferredEnabled && n.PreferredProtocol == "" {
		return fmt.Errorf("preferred_protocol is required when preferred_enabled is set")
	}
	return nil
}

// Validate validates the location selection.
func (l *Location) Validate() error {
	switch l.Type {
	case "", LocationServer, LocationCustom:
		return nil
	default:
		return fmt.Errorf("unknown location type: %s", l.Type)
	}
}

// Validate validates provider profile names. The wireguard and openvpn
// profiles are located by marker, so both need one.
func (p *Providers) Validate() error {
	if p.WireGuard.Marker == "" || p.OpenVPN.Marker == "" {
		return fmt.Errorf("wireguard and openvpn need a marker")
	}
	if p.WireGuard.Marker == p.OpenVPN.Marker {
		return fmt.Errorf("wireguard and openvpn markers must differ")
	}
	seen := map[string]bool{}
	for name, pr := range map[string]Provider{"wireguard": p.WireGuard, "ikev2": p.IKEv2, "openvpn": p.OpenVPN} {
		if pr.Profile == "" {
			return fmt.Errorf("%s.profile is required", name)
		}
		if seen[pr.Profile] {
			return fmt.Errorf("%s.profile %q is used by another provider", name, pr.Profile)
		}
		seen[pr.Profile] = true
	}
	return nil
}

// Validate validates the IP lookup settings.
func (i *IPLookup) Validate() error {
	u, err := url.Parse(i.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid url: %s", i.URL)
	}
	if i.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if i.MinInterval < 0 {
		return fmt.Errorf("min_interval cannot be negative")
	}
	return nil
}
