package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/user/vpn-orchestrator/internal/protocols"
)

var errInjected = errors.New("injected failure")

// fakeStore is an in-memory ProfileStore that records every call.
type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	status   map[string]protocols.State
	calls    []string
	failOn   map[string]error
	// onStart decides the state a started tunnel reaches.
	onStart func(name string) protocols.State
}

func newFakeStore(profiles ...Profile) *fakeStore {
	s := &fakeStore{
		profiles: map[string]Profile{},
		status:   map[string]protocols.State{},
		failOn:   map[string]error{},
		onStart:  func(string) protocols.State { return protocols.StateConnected },
	}
	for _, p := range profiles {
		s.profiles[p.Name] = p
	}
	return s
}

func (s *fakeStore) record(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op)
	return s.failOn[op]
}

func (s *fakeStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeStore) ResetCalls() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

func (s *fakeStore) Fail(op string, err error) {
	s.mu.Lock()
	s.failOn[op] = err
	s.mu.Unlock()
}

func (s *fakeStore) SetStatus(name string, st protocols.State) {
	s.mu.Lock()
	s.status[name] = st
	s.mu.Unlock()
}

func (s *fakeStore) Stored(name string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[name]
	return p, ok
}

func (s *fakeStore) LoadAll(ctx context.Context) ([]Profile, error) {
	if err := s.record("loadAll"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) Load(ctx context.Context, name string) (Profile, error) {
	if err := s.record("load"); err != nil {
		return Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[name]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (s *fakeStore) Save(ctx context.Context, p Profile) error {
	if err := s.record("save"); err != nil {
		return err
	}
	s.mu.Lock()
	s.profiles[p.Name] = p
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, name string) error {
	if err := s.record("delete"); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.profiles, name)
	delete(s.status, name)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) Start(ctx context.Context, name string) error {
	if err := s.record("start"); err != nil {
		return err
	}
	st := s.onStart(name)
	s.SetStatus(name, st)
	return nil
}

func (s *fakeStore) Stop(ctx context.Context, name string) error {
	if err := s.record("stop"); err != nil {
		return err
	}
	s.SetStatus(name, protocols.StateDisconnected)
	return nil
}

func (s *fakeStore) Status(name string) protocols.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[name]
}

func wireguardProfile() Profile {
	return Profile{Name: "wireguard", Username: "WireGuard", Server: "wg.example.com", Protocol: "WireGuard", Port: "443"}
}

func openvpnProfile() Profile {
	return Profile{Name: "openvpn", Username: "OpenVPN", Server: "ovpn.example.com", Protocol: "UDP", Port: "443"}
}

func ikev2Profile() Profile {
	return Profile{Name: "ikev2", Server: "ikev2.example.com", Protocol: "IKEv2", Port: "500"}
}

func newTestProviders(store *fakeStore) (primary, legacy, fallback *Provider) {
	opts := func(k Kind, profile, marker string) Options {
		return Options{Kind: k, Profile: profile, Marker: marker, PollAttempts: 3, PollInterval: 5 * time.Millisecond}
	}
	primary = New(store, opts(KindPrimary, "wireguard", "WireGuard"))
	legacy = New(store, opts(KindLegacy, "ikev2", ""))
	fallback = New(store, opts(KindFallback, "openvpn", "OpenVPN"))
	ctx := context.Background()
	primary.Setup(ctx)
	legacy.Setup(ctx)
	fallback.Setup(ctx)
	store.ResetCalls()
	return primary, legacy, fallback
}
