// Package config handles orchestrator configuration loading, saving, and validation.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Connection modes.
const (
	ModeAuto   = "auto"
	ModeManual = "manual"
)

// Location types.
const (
	LocationServer = "server"
	LocationCustom = "custom"
)

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the main configuration structure.
type Config struct {
	Version     int                 `yaml:"version"`
	Autoconnect bool                `yaml:"autoconnect"`
	Connection  Connection          `yaml:"connection"`
	Failover    Failover            `yaml:"failover"`
	PortMap     map[string][]string `yaml:"port_map,omitempty"`
	Networks    []SecuredNetwork    `yaml:"networks,omitempty"`
	Location    Location            `yaml:"location"`
	Profiles    Profiles            `yaml:"profiles"`
	Providers   Providers           `yaml:"providers"`
	IPLookup    IPLookup            `yaml:"ip_lookup"`
	API         API                 `yaml:"api"`
	Log         Log                 `yaml:"log"`
}

// Connection holds the user's protocol preferences.
type Connection struct {
	Mode           string `yaml:"mode"`
	ManualProtocol string `yaml:"manual_protocol"`
	ManualPort     string `yaml:"manual_port"`
	OnDemand       bool   `yaml:"on_demand"`
}

// Failover holds the timing of the candidate cycle.
type Failover struct {
	CountdownSeconds      int      `yaml:"countdown_seconds"`
	Tick                  Duration `yaml:"tick"`
	PollAttempts          int      `yaml:"poll_attempts"`
	PollInterval          Duration `yaml:"poll_interval"`
	GoodProtocolRetention Duration `yaml:"good_protocol_retention"`
	MaintenanceInterval   Duration `yaml:"maintenance_interval"`
	NetworkDebounce       Duration `yaml:"network_debounce"`
	NetworkPollInterval   Duration `yaml:"network_poll_interval"`
}

// SecuredNetwork is a known network with an optional preferred protocol.
// Match is compared against the network interface name or its prefix.
type SecuredNetwork struct {
	Match             string `yaml:"match"`
	PreferredEnabled  bool   `yaml:"preferred_enabled"`
	PreferredProtocol string `yaml:"preferred_protocol,omitempty"`
	PreferredPort     string `yaml:"preferred_port,omitempty"`
}

// Location is the selected location; custom locations carry their own protocol.
type Location struct {
	Type     string `yaml:"type"`
	ID       string `yaml:"id,omitempty"`
	Protocol string `yaml:"protocol,omitempty"`
	Port     string `yaml:"port,omitempty"`
}

// Profiles configures the secure profile store.
type Profiles struct {
	Dir            string `yaml:"dir"`
	KeyringService string `yaml:"keyring_service"`
	Simulate       bool   `yaml:"simulate,omitempty"`
}

// Provider describes the profile installed for one tunnel provider. Options
// carry technology-specific settings; secret options are moved to the
// keyring when the profile is installed.
type Provider struct {
	Profile string            `yaml:"profile"`
	Marker  string            `yaml:"marker,omitempty"`
	Server  string            `yaml:"server,omitempty"`
	Options map[string]string `yaml:"options,omitempty"`
}

// Providers configures the three tunnel providers.
type Providers struct {
	WireGuard Provider `yaml:"wireguard"`
	IKEv2     Provider `yaml:"ikev2"`
	OpenVPN   Provider `yaml:"openvpn"`
}

// IPLookup configures the public IP lookup.
type IPLookup struct {
	URL             string   `yaml:"url"`
	Timeout         Duration `yaml:"timeout"`
	MinInterval     Duration `yaml:"min_interval"`
	BreakerFailures uint32   `yaml:"breaker_failures"`
	BreakerTimeout  Duration `yaml:"breaker_timeout"`
}

// API configures the local control API.
type API struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Token, when set, is required as a bearer token on every request.
	Token string `yaml:"token,omitempty"`
}

// Log configures the log file.
type Log struct {
	Path  string `yaml:"path,omitempty"`
	Level string `yaml:"level"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version:     1,
		Autoconnect: false,
		Connection: Connection{
			Mode:           ModeAuto,
			ManualProtocol: "WireGuard",
			ManualPort:     "443",
			OnDemand:       false,
		},
		Failover: Failover{
			CountdownSeconds:      10,
			Tick:                  Duration(time.Second),
			PollAttempts:          10,
			PollInterval:          Duration(500 * time.Millisecond),
			GoodProtocolRetention: Duration(12 * time.Hour),
			MaintenanceInterval:   Duration(time.Hour),
			NetworkDebounce:       Duration(500 * time.Millisecond),
			NetworkPollInterval:   Duration(2 * time.Second),
		},
		Location: Location{Type: LocationServer},
		Profiles: Profiles{
			Dir:            defaultProfilesDir(),
			KeyringService: "vpn-orchestrator",
		},
		Providers: Providers{
			WireGuard: Provider{Profile: "wireguard", Marker: "WireGuard"},
			IKEv2:     Provider{Profile: "ikev2"},
			OpenVPN:   Provider{Profile: "openvpn", Marker: "OpenVPN"},
		},
		IPLookup: IPLookup{
			URL:             "https://checkip.example.com/ApiAccessIps",
			Timeout:         Duration(10 * time.Second),
			MinInterval:     Duration(time.Second),
			BreakerFailures: 3,
			BreakerTimeout:  Duration(30 * time.Second),
		},
		API: API{
			Enabled: true,
			Listen:  "127.0.0.1:7443",
		},
		Log: Log{Level: "info"},
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	if c.PortMap != nil {
		out.PortMap = make(map[string][]string, len(c.PortMap))
		for k, v := range c.PortMap {
			out.PortMap[k] = append([]string(nil), v...)
		}
	}
	out.Networks = append([]SecuredNetwork(nil), c.Networks...)
	out.Providers.WireGuard.Options = cloneOptions(c.Providers.WireGuard.Options)
	out.Providers.IKEv2.Options = cloneOptions(c.Providers.IKEv2.Options)
	out.Providers.OpenVPN.Options = cloneOptions(c.Providers.OpenVPN.Options)
	return &out
}

func cloneOptions(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
