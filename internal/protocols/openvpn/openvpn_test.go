package openvpn

import (
	"bytes"
	"io"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/vpn-orchestrator/internal/protocols"
	"github.com/user/vpn-orchestrator/internal/provider"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		line  string
		want  protocols.State
		ip    string
		known bool
	}{
		{">STATE:1700000000,CONNECTED,SUCCESS,10.8.0.6,203.0.113.7", protocols.StateConnected, "10.8.0.6", true},
		{">STATE:1700000000,CONNECTED,SUCCESS", protocols.StateConnected, "", true},
		{">STATE:1700000000,RECONNECTING,ping-restart,,", protocols.StateReconnecting, "", true},
		{">STATE:1700000000,EXITING,SIGTERM,,", protocols.StateDisconnecting, "", true},
		{">STATE:1700000000,WAIT,,,", protocols.StateConnecting, "", true},
		{">STATE:1700000000,AUTH,,,", protocols.StateConnecting, "", true},
		{">STATE:1700000000,GET_CONFIG,,,", protocols.StateConnecting, "", true},
		{">STATE:1700000000,SOMETHING,,,", 0, "", false},
		{">STATE:broken", 0, "", false},
		{">BYTECOUNT:1,2", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ev, ok := parseState(tt.line)
			require.Equal(t, tt.known, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, ev.State)
			if tt.ip == "" {
				assert.False(t, ev.LocalIP.IsValid())
			} else {
				assert.Equal(t, netip.MustParseAddr(tt.ip), ev.LocalIP)
			}
		})
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"plain"`, quote("plain"))
	assert.Equal(t, `"a\"b\\c"`, quote(`a"b\c`))
}

func TestParseConfig(t *testing.T) {
	p := provider.Profile{
		Name:     "openvpn",
		Server:   "vpn.example.com",
		Protocol: protocols.TCP,
		Options:  map[string]string{"config": "/etc/vpn/base.ovpn", "auth_user": "alice", "extra": "--verb 3"},
	}
	cfg, err := ParseConfig(p, map[string]string{"password": "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "tcp-client", cfg.Proto)
	assert.Equal(t, "s3cret", cfg.AuthPass)

	args := cfg.Args("127.0.0.1", "40000")
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--remote vpn.example.com 1194")
	assert.Contains(t, joined, "--proto tcp-client")
	assert.Contains(t, joined, "--management 127.0.0.1 40000 --management-client --management-hold")
	assert.Contains(t, joined, "--dev tun")
	assert.Equal(t, []string{"--verb", "3"}, args[len(args)-2:])

	p.Protocol = protocols.UDP
	p.Port = "443"
	cfg, err = ParseConfig(p, map[string]string{"password": "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "udp", cfg.Proto)
	assert.Equal(t, "443", cfg.Port)
}

func TestParseConfigErrors(t *testing.T) {
	base := func() provider.Profile {
		return provider.Profile{Name: "openvpn", Server: "vpn.example.com", Options: map[string]string{"config": "x.ovpn"}}
	}

	p := base()
	p.Server = ""
	_, err := ParseConfig(p, nil)
	assert.Error(t, err)

	p = base()
	delete(p.Options, "config")
	_, err = ParseConfig(p, nil)
	assert.Error(t, err)

	p = base()
	p.Port = "70000"
	_, err = ParseConfig(p, nil)
	assert.Error(t, err)

	p = base()
	p.Options["auth_user"] = "alice"
	_, err = ParseConfig(p, nil)
	assert.Error(t, err)
}

type scriptConn struct {
	io.Reader
	mu  sync.Mutex
	out bytes.Buffer
}

func (c *scriptConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(b)
}

func (c *scriptConn) Close() error { return nil }

func (c *scriptConn) written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func TestSessionHandshake(t *testing.T) {
	conn := &scriptConn{Reader: strings.NewReader(strings.Join([]string{
		">INFO:OpenVPN Management Interface Version 5",
		">HOLD:Waiting for hold release:0",
		">STATE:1700000000,AUTH,,,",
		">PASSWORD:Need 'Auth' username/password",
		">STATE:1700000001,CONNECTED,SUCCESS,10.8.0.6,203.0.113.7",
	}, "\n") + "\n")}

	var states []protocols.State
	var fatal []string
	s := &session{
		conn:    conn,
		cfg:     Config{AuthUser: "alice", AuthPass: `p"w`},
		onState: func(ev stateEvent) { states = append(states, ev.State) },
		onFatal: func(msg string) { fatal = append(fatal, msg) },
	}
	require.NoError(t, s.run())

	assert.Equal(t, []protocols.State{protocols.StateConnecting, protocols.StateConnected}, states)
	assert.Empty(t, fatal)
	assert.Equal(t, "state on\nhold release\nusername \"Auth\" \"alice\"\npassword \"Auth\" \"p\\\"w\"\n", conn.written())
}

func TestSessionFatal(t *testing.T) {
	conn := &scriptConn{Reader: strings.NewReader(">PASSWORD:Need 'Auth' username/password\n>PASSWORD:Verification Failed: 'Auth'\n>FATAL:cannot allocate TUN\n")}
	var fatal []string
	s := &session{
		conn:    conn,
		onState: func(stateEvent) {},
		onFatal: func(msg string) { fatal = append(fatal, msg) },
	}
	require.NoError(t, s.run())
	assert.Equal(t, []string{"server requires credentials", "authentication failed", "cannot allocate TUN"}, fatal)
	assert.Empty(t, conn.written())
}
