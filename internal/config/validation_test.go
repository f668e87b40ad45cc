package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"version", func(c *Config) { c.Version = 0 }, "invalid config version"},
		{"manual without protocol", func(c *Config) {
			c.Connection.Mode = ModeManual
			c.Connection.ManualProtocol = ""
		}, "manual_protocol is required"},
		{"countdown", func(c *Config) { c.Failover.CountdownSeconds = 0 }, "countdown_seconds"},
		{"poll attempts", func(c *Config) { c.Failover.PollAttempts = 0 }, "poll_attempts"},
		{"network without match", func(c *Config) {
			c.Networks = []SecuredNetwork{{PreferredEnabled: true, PreferredProtocol: "TCP"}}
		}, "match is required"},
		{"preferred without protocol", func(c *Config) {
			c.Networks = []SecuredNetwork{{Match: "wlan0", PreferredEnabled: true}}
		}, "preferred_protocol is required"},
		{"location type", func(c *Config) { c.Location.Type = "moon" }, "unknown location type"},
		{"duplicate profile", func(c *Config) { c.Providers.IKEv2.Profile = c.Providers.WireGuard.Profile }, "used by another provider"},
		{"missing marker", func(c *Config) { c.Providers.OpenVPN.Marker = "" }, "need a marker"},
		{"shared marker", func(c *Config) { c.Providers.OpenVPN.Marker = c.Providers.WireGuard.Marker }, "markers must differ"},
		{"ip lookup url", func(c *Config) { c.IPLookup.URL = "not a url" }, "invalid url"},
		{"api listen", func(c *Config) { c.API.Listen = "7443" }, "invalid listen address"},
		{"api disabled ignores listen", func(c *Config) {
			c.API.Enabled = false
			c.API.Listen = ""
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
