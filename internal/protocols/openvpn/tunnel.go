package openvpn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/procutil"
	"github.com/user/vpn-orchestrator/internal/protocols"
	"github.com/user/vpn-orchestrator/internal/provider"
)

var (
	// managementWait bounds how long the process may take to dial back.
	managementWait = 10 * time.Second
	stopGrace      = 3 * time.Second
)

// Tunnel is an OpenVPN tunnel for one profile.
type Tunnel struct {
	*protocols.BaseTunnel

	cfg Config

	mu       sync.Mutex
	process  *exec.Cmd
	sess     *session
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool
}

// New parses the profile and returns a stopped tunnel.
func New(p provider.Profile, secrets map[string]string) (protocols.Tunnel, error) {
	cfg, err := ParseConfig(p, secrets)
	if err != nil {
		return nil, err
	}
	return &Tunnel{BaseTunnel: protocols.NewBaseTunnel(p.Name), cfg: cfg}, nil
}

// Start launches openvpn and returns once it has dialled the management
// listener. The connection itself is reported through state changes.
func (t *Tunnel) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.process != nil {
		return fmt.Errorf("tunnel already started")
	}
	t.SetState(protocols.StateConnecting, "Initializing OpenVPN tunnel", nil)

	bin, err := t.cfg.lookBinary()
	if err != nil {
		t.SetState(protocols.StateError, "OpenVPN not found", err)
		return err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.SetState(protocols.StateError, "Failed to open management listener", err)
		return fmt.Errorf("management listener: %w", err)
	}
	defer ln.Close()
	host, port, _ := net.SplitHostPort(ln.Addr().String())

	pctx, cancel := context.WithCancel(ctx)
	cmd := procutil.Command(pctx, bin, t.cfg.Args(host, port)...)
	if err := cmd.Start(); err != nil {
		cancel()
		t.SetState(protocols.StateError, "Failed to start OpenVPN", err)
		return fmt.Errorf("start openvpn: %w", err)
	}
	t.process = cmd
	t.cancel = cancel
	t.done = make(chan struct{})
	t.stopping = false

	exited := make(chan error, 1)
	logger.SafeGo("openvpnWait", func() { exited <- cmd.Wait() })

	conn, err := accept(ln, exited)
	if err != nil {
		t.killLocked()
		t.process = nil
		t.SetState(protocols.StateError, "Management interface unavailable", err)
		return err
	}

	sess := &session{conn: conn, cfg: t.cfg, onState: t.applyState, onFatal: t.fatal}
	t.sess = sess
	logger.SafeGo("openvpnManagement", func() {
		if err := sess.run(); err != nil {
			logger.Debug("openvpn management closed: %v", err)
		}
	})
	done := t.done
	logger.SafeGo("openvpnExit", func() { t.watchExit(exited, done) })
	return nil
}

func accept(ln net.Listener, exited <-chan error) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	if tl, ok := ln.(*net.TCPListener); ok {
		tl.SetDeadline(time.Now().Add(managementWait))
	}
	go func() {
		c, err := ln.Accept()
		done <- result{c, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("accept management connection: %w", r.err)
		}
		return r.conn, nil
	case err := <-exited:
		if err == nil {
			err = errors.New("exited")
		}
		return nil, fmt.Errorf("openvpn exited before management connected: %w", err)
	}
}

func (t *Tunnel) applyState(ev stateEvent) {
	if ev.State == protocols.StateConnected && ev.LocalIP.IsValid() {
		t.SetLocalIP(ev.LocalIP)
	}
	t.SetState(ev.State, ev.Name, nil)
}

func (t *Tunnel) fatal(msg string) {
	logger.Error("openvpn: %s", msg)
	t.SetState(protocols.StateError, msg, errors.New(msg))
	t.mu.Lock()
	t.killLocked()
	t.mu.Unlock()
}

func (t *Tunnel) watchExit(exited <-chan error, done chan struct{}) {
	err := <-exited
	close(done)
	t.mu.Lock()
	stopping := t.stopping
	t.process = nil
	t.mu.Unlock()
	if stopping {
		return
	}
	if err != nil {
		t.SetState(protocols.StateError, "OpenVPN exited", err)
		return
	}
	t.SetState(protocols.StateDisconnected, "OpenVPN exited", nil)
}

// Stop asks openvpn to exit and kills it after a grace period.
func (t *Tunnel) Stop() error {
	t.mu.Lock()
	t.stopping = true
	if t.process != nil {
		t.SetState(protocols.StateDisconnecting, "Stopping OpenVPN tunnel", nil)
		done := t.done
		if t.sess != nil && t.sess.send("signal SIGTERM") == nil {
			t.mu.Unlock()
			select {
			case <-done:
			case <-time.After(stopGrace):
				logger.Warning("openvpn did not exit in %s, killing it", stopGrace)
			}
			t.mu.Lock()
		}
	}
	t.killLocked()
	t.mu.Unlock()

	t.SetState(protocols.StateDisconnected, "OpenVPN tunnel stopped", nil)
	t.Close()
	return nil
}

func (t *Tunnel) killLocked() {
	if t.sess != nil {
		t.sess.conn.Close()
		t.sess = nil
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
