package protocols

import (
	"fmt"
	"strings"
)

// ProtocolPort is a (protocol, port) pair. Identity is the protocol name.
type ProtocolPort struct {
	Protocol string `json:"protocol" yaml:"protocol"`
	Port     string `json:"port" yaml:"port"`
}

// NewProtocolPort returns a pair, filling in DefaultPort when port is empty.
func NewProtocolPort(protocol, port string) ProtocolPort {
	if port == "" {
		port = DefaultPort
	}
	return ProtocolPort{Protocol: protocol, Port: port}
}

// Default is the candidate used when the list is empty.
var Default = ProtocolPort{Protocol: WireGuard, Port: DefaultPort}

func (p ProtocolPort) String() string {
	return p.Protocol + " " + p.Port
}

// IsZero reports whether the pair is unset.
func (p ProtocolPort) IsZero() bool {
	return p.Protocol == ""
}

// ViewKind is the role of a candidate in the current cycle.
type ViewKind int

const (
	ViewNormal ViewKind = iota
	ViewConnected
	ViewFail
	ViewNextUp
)

func (k ViewKind) String() string {
	switch k {
	case ViewNormal:
		return "normal"
	case ViewConnected:
		return "connected"
	case ViewFail:
		return "fail"
	case ViewNextUp:
		return "nextUp"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k ViewKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *ViewKind) UnmarshalText(b []byte) error {
	for _, v := range []ViewKind{ViewNormal, ViewConnected, ViewFail, ViewNextUp} {
		if v.String() == string(b) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown view kind %q", b)
}

// NoCountdown marks a NextUp candidate that is selected but has no running countdown.
const NoCountdown = -1

// ViewState tags a candidate. Countdown is only meaningful for ViewNextUp.
type ViewState struct {
	Kind      ViewKind `json:"kind"`
	Countdown int      `json:"countdown,omitempty"`
}

// Normal returns the default view state.
func Normal() ViewState { return ViewState{Kind: ViewNormal} }

// Connected tags the candidate the tunnel is up with.
func Connected() ViewState { return ViewState{Kind: ViewConnected} }

// Fail tags a candidate that failed to connect in this cycle.
func Fail() ViewState { return ViewState{Kind: ViewFail} }

// NextUp tags the candidate that will be tried next, with the seconds left
// before it is selected automatically.
func NextUp(seconds int) ViewState { return ViewState{Kind: ViewNextUp, Countdown: seconds} }

func (v ViewState) String() string {
	if v.Kind == ViewNextUp {
		return fmt.Sprintf("nextUp(%d)", v.Countdown)
	}
	return v.Kind.String()
}

// DisplayProtocolPort is a candidate with its view state.
type DisplayProtocolPort struct {
	ProtocolPort
	View ViewState `json:"view"`
}

// CandidateList is ordered by priority: index 0 is tried next.
type CandidateList []DisplayProtocolPort

// Index returns the position of protocol in the list, or -1.
func (l CandidateList) Index(protocol string) int {
	for i := range l {
		if l[i].Protocol == protocol {
			return i
		}
	}
	return -1
}

// Head returns the first candidate.
func (l CandidateList) Head() (ProtocolPort, bool) {
	if len(l) == 0 {
		return ProtocolPort{}, false
	}
	return l[0].ProtocolPort, true
}

// Clone returns an independent copy.
func (l CandidateList) Clone() CandidateList {
	if l == nil {
		return nil
	}
	out := make(CandidateList, len(l))
	copy(out, l)
	return out
}

// SetPort updates the port of protocol, appending a Normal entry when the
// protocol is not in the list yet.
func (l *CandidateList) SetPort(p ProtocolPort) {
	if i := l.Index(p.Protocol); i >= 0 {
		(*l)[i].Port = p.Port
		return
	}
	*l = append(*l, DisplayProtocolPort{ProtocolPort: p, View: Normal()})
}

// SetPriority tags protocol with v and moves it to the front, or to the back
// for Fail. Unknown protocols are ignored.
func (l *CandidateList) SetPriority(protocol string, v ViewState) {
	i := l.Index(protocol)
	if i < 0 {
		return
	}
	item := (*l)[i]
	item.View = v
	rest := append((*l)[:i:i], (*l)[i+1:]...)
	if v.Kind == ViewFail {
		*l = append(rest, item)
		return
	}
	*l = append(CandidateList{item}, rest...)
}

// Retag sets the view of every candidate of kind from to v, in place.
func (l CandidateList) Retag(from ViewKind, v ViewState) int {
	n := 0
	for i := range l {
		if l[i].View.Kind == from {
			l[i].View = v
			n++
		}
	}
	return n
}

// First returns the index of the first candidate of the given kind, or -1.
func (l CandidateList) First(kind ViewKind) int {
	for i := range l {
		if l[i].View.Kind == kind {
			return i
		}
	}
	return -1
}

// Count returns the number of candidates of the given kind.
func (l CandidateList) Count(kind ViewKind) int {
	n := 0
	for i := range l {
		if l[i].View.Kind == kind {
			n++
		}
	}
	return n
}

// Failed returns the Fail-tagged protocols in list order.
func (l CandidateList) Failed() []string {
	var out []string
	for i := range l {
		if l[i].View.Kind == ViewFail {
			out = append(out, l[i].Protocol)
		}
	}
	return out
}

func (l CandidateList) String() string {
	parts := make([]string, len(l))
	for i, c := range l {
		parts[i] = fmt.Sprintf("%s %s %s", c.Protocol, c.Port, c.View)
	}
	return strings.Join(parts, ", ")
}
