package openvpn

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

// stateEvent is a parsed >STATE: notification.
type stateEvent struct {
	State   protocols.State
	Name    string
	LocalIP netip.Addr
}

// parseState reads ">STATE:time,name,description,local_ip,remote_ip".
// Names without a tunnel state equivalent return false.
func parseState(line string) (stateEvent, bool) {
	body, ok := strings.CutPrefix(line, ">STATE:")
	if !ok {
		return stateEvent{}, false
	}
	parts := strings.Split(body, ",")
	if len(parts) < 2 {
		return stateEvent{}, false
	}
	ev := stateEvent{Name: parts[1]}
	switch parts[1] {
	case "CONNECTED":
		ev.State = protocols.StateConnected
		if len(parts) >= 4 {
			if ip, err := netip.ParseAddr(parts[3]); err == nil {
				ev.LocalIP = ip
			}
		}
	case "RECONNECTING":
		ev.State = protocols.StateReconnecting
	case "EXITING":
		ev.State = protocols.StateDisconnecting
	case "CONNECTING", "WAIT", "AUTH", "GET_CONFIG", "ASSIGN_IP", "ADD_ROUTES", "RESOLVE", "TCP_CONNECT":
		ev.State = protocols.StateConnecting
	default:
		return stateEvent{}, false
	}
	return ev, true
}

// quote escapes a management command argument.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// session speaks the management protocol over one connection.
type session struct {
	conn io.ReadWriteCloser
	cfg  Config

	writeMu sync.Mutex
	onState func(stateEvent)
	onFatal func(string)
}

func (s *session) send(cmd string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if d, ok := s.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		d.SetWriteDeadline(time.Now().Add(5 * time.Second))
	}
	_, err := io.WriteString(s.conn, cmd+"\n")
	return err
}

// run reads notifications until the connection closes.
func (s *session) run() error {
	sc := bufio.NewScanner(s.conn)
	for sc.Scan() {
		if err := s.handle(sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (s *session) handle(line string) error {
	switch {
	case strings.HasPrefix(line, ">HOLD:"):
		if err := s.send("state on"); err != nil {
			return err
		}
		return s.send("hold release")
	case strings.HasPrefix(line, ">STATE:"):
		if ev, ok := parseState(line); ok {
			s.onState(ev)
		}
	case strings.HasPrefix(line, ">PASSWORD:Verification Failed"):
		s.onFatal("authentication failed")
	case strings.HasPrefix(line, ">PASSWORD:Need 'Auth'"):
		if s.cfg.AuthUser == "" {
			s.onFatal("server requires credentials")
			return nil
		}
		if err := s.send(fmt.Sprintf("username \"Auth\" %s", quote(s.cfg.AuthUser))); err != nil {
			return err
		}
		return s.send(fmt.Sprintf("password \"Auth\" %s", quote(s.cfg.AuthPass)))
	case strings.HasPrefix(line, ">FATAL:"):
		s.onFatal(strings.TrimPrefix(line, ">FATAL:"))
	case strings.HasPrefix(line, ">LOG:"), strings.HasPrefix(line, ">INFO:"):
		logger.Debug("openvpn: %s", line)
	}
	return nil
}
