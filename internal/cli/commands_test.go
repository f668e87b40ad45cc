package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const candidatesJSON = `[
	{"protocol":"WireGuard","port":"51820","view":{"kind":"fail"}},
	{"protocol":"UDP","port":"1194","view":{"kind":"nextUp","countdown":4}}
]`

func newServer(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	root := &cobra.Command{Use: "vpn-orchestrator", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(NewCommands(&path)...)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	url := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		w.Write([]byte(`{"state":"connected","provider":"wireguard","protocol":"WireGuard","port":"51820","local_ip":"10.8.0.2","candidates":[]}`))
	})

	out, err := run(t, "status", "--api", url, "--token", "abc")
	require.NoError(t, err)
	assert.Contains(t, out, "State:")
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "WireGuard 51820 (wireguard)")
	assert.Contains(t, out, "10.8.0.2")
}

func TestCandidatesCommand(t *testing.T) {
	url := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(candidatesJSON))
	})

	out, err := run(t, "candidates", "--api", url)
	require.NoError(t, err)
	assert.Contains(t, out, "PROTOCOL")
	assert.Contains(t, out, "fail")
	assert.Contains(t, out, "nextUp (4s)")
}

func TestConnectWithProtocolUsesListPort(t *testing.T) {
	var body []byte
	url := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/candidates":
			w.Write([]byte(candidatesJSON))
		case "/api/v1/connect":
			body, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"state":"connecting","protocol":"UDP","port":"1194","candidates":[]}`))
		}
	})

	_, err := run(t, "connect", "UDP", "--api", url)
	require.NoError(t, err)
	assert.JSONEq(t, `{"protocol":"UDP","port":"1194"}`, string(body))
}

func TestConnectReportsServerError(t *testing.T) {
	url := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"all protocols failed: boom"}`))
	})

	_, err := run(t, "connect", "--api", url)
	assert.EqualError(t, err, "all protocols failed: boom")
}

func TestLogsCommand(t *testing.T) {
	url := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("lines"))
		w.Write([]byte(`["one","two","three"]`))
	})

	out, err := run(t, "logs", "-n", "3", "--api", url)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", out)
}
