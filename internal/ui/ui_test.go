package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/user/vpn-orchestrator/internal/core"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name          string
		status        core.StatusPayload
		title         string
		icon          string
		next          string
		canConnect    bool
		canDisconnect bool
	}{
		{
			name:       "disconnected",
			status:     core.StatusPayload{State: "disconnected", Next: "WireGuard 51820"},
			title:      "Status: disconnected",
			icon:       "disconnected",
			next:       "Next: WireGuard 51820",
			canConnect: true,
		},
		{
			name:          "connected",
			status:        core.StatusPayload{State: "connected", Protocol: "UDP", Port: "1194", Next: "UDP 1194"},
			title:         "Status: connected (UDP 1194)",
			icon:          "connected",
			canDisconnect: true,
		},
		{
			name:          "connecting",
			status:        core.StatusPayload{State: "connecting", Protocol: "WireGuard"},
			title:         "Status: connecting (WireGuard)",
			icon:          "connecting",
			canDisconnect: true,
		},
		{
			name:       "countdown",
			status:     core.StatusPayload{State: "disconnected", Next: "TCP 443", Countdown: 7},
			title:      "Status: disconnected",
			icon:       "countdown",
			next:       "Trying TCP 443 in 7s",
			canConnect: true,
		},
		{
			name:       "error",
			status:     core.StatusPayload{State: "error", Error: "all protocols failed"},
			title:      "Status: error",
			icon:       "error",
			canConnect: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := describe(&tt.status)
			assert.Equal(t, tt.title, v.title)
			assert.Equal(t, tt.icon, v.icon)
			assert.Equal(t, tt.next, v.next)
			assert.Equal(t, tt.canConnect, v.canConnect)
			assert.Equal(t, tt.canDisconnect, v.canDisconnect)
		})
	}
}

func TestCandidateTitle(t *testing.T) {
	pp := protocols.NewProtocolPort(protocols.UDP, "1194")
	assert.Equal(t, "UDP 1194", candidateTitle(protocols.DisplayProtocolPort{ProtocolPort: pp, View: protocols.Normal()}))
	assert.Equal(t, "UDP 1194 (failed)", candidateTitle(protocols.DisplayProtocolPort{ProtocolPort: pp, View: protocols.Fail()}))
	assert.Equal(t, "UDP 1194 (next in 3s)", candidateTitle(protocols.DisplayProtocolPort{ProtocolPort: pp, View: protocols.NextUp(3)}))
	assert.Equal(t, "UDP 1194 (next)", candidateTitle(protocols.DisplayProtocolPort{ProtocolPort: pp, View: protocols.NextUp(protocols.NoCountdown)}))
	assert.Equal(t, "UDP 1194 (connected)", candidateTitle(protocols.DisplayProtocolPort{ProtocolPort: pp, View: protocols.Connected()}))
}
