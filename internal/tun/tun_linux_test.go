//go:build linux

package tun

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddrCommands(t *testing.T) {
	cmds := addrCommands("wg0", netip.MustParsePrefix("10.8.0.2/24"))
	assert.Equal(t, []command{
		{argv: []string{"ip", "addr", "replace", "10.8.0.2/24", "dev", "wg0"}},
	}, cmds)
}

func TestLinkCommands(t *testing.T) {
	assert.Equal(t, []string{"ip", "link", "set", "dev", "wg0", "up"}, linkCommands("wg0", true)[0].argv)
	assert.Equal(t, []string{"ip", "link", "set", "dev", "wg0", "down"}, linkCommands("wg0", false)[0].argv)
}
