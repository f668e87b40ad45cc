// Package profilestore is the secure profile store behind the tunnel
// providers. Profile documents live as YAML files in a directory, secrets
// live in the system keyring, and tunnels are brought up by per-family
// runners.
package profilestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/protocols"
	"github.com/user/vpn-orchestrator/internal/provider"
)

// Errors returned by the store.
var (
	ErrProfileNotFound = provider.ErrProfileNotFound
	ErrInvalidName     = errors.New("invalid profile name")
	ErrNoRunner        = errors.New("no runner for profile family")
	ErrDisabled        = errors.New("profile is disabled")
)

// Runner builds the tunnel for a profile. Secrets holds the profile's
// secret options.
type Runner func(p provider.Profile, secrets map[string]string) (protocols.Tunnel, error)

// Options configures a Store.
type Options struct {
	Dir            string
	KeyringService string
	// Runners maps a profile family to its tunnel runner.
	Runners map[string]Runner
}

type running struct {
	tunnel protocols.Tunnel
	cancel context.CancelFunc
}

// Store implements provider.ProfileStore.
type Store struct {
	dir     string
	secrets *secretStore
	runners map[string]Runner

	fileMu sync.Mutex

	mu        sync.Mutex
	tunnels   map[string]*running
	status    map[string]protocols.State
	listeners []func(name string, state protocols.State)
}

// New creates a store rooted at opts.Dir.
func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("profile directory is required")
	}
	if opts.KeyringService == "" {
		opts.KeyringService = "vpn-orchestrator"
	}
	if err := os.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create profile directory: %w", err)
	}
	runners := make(map[string]Runner, len(opts.Runners))
	for k, v := range opts.Runners {
		runners[k] = v
	}
	return &Store{
		dir:     opts.Dir,
		secrets: newSecretStore(opts.KeyringService, opts.Dir),
		runners: runners,
		tunnels: map[string]*running{},
		status:  map[string]protocols.State{},
	}, nil
}

// OnStateChange registers fn for tunnel state changes.
func (s *Store) OnStateChange(fn func(name string, state protocols.State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name+".yaml"), nil
}

// LoadAll returns every stored profile, sorted by name.
func (s *Store) LoadAll(ctx context.Context) ([]provider.Profile, error) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read profile directory: %w", err)
	}

	var out []provider.Profile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := readProfile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			logger.Warning("skipping profile %s: %v", e.Name(), err)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Load returns the named profile.
func (s *Store) Load(ctx context.Context, name string) (provider.Profile, error) {
	path, err := s.path(name)
	if err != nil {
		return provider.Profile{}, err
	}
	if err := ctx.Err(); err != nil {
		return provider.Profile{}, err
	}

	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	p, err := readProfile(path)
	if os.IsNotExist(err) {
		return provider.Profile{}, ErrProfileNotFound
	}
	return p, err
}

// Save writes the profile. Secret options go to the keyring and never reach
// the profile document.
func (s *Store) Save(ctx context.Context, p provider.Profile) error {
	path, err := s.path(p.Name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := p
	doc.Options = nil
	for k, v := range p.Options {
		if isSecret(k) {
			if err := s.secrets.Set(p.Name, k, v); err != nil {
				return fmt.Errorf("store %s secret: %w", k, err)
			}
			continue
		}
		if doc.Options == nil {
			doc.Options = map[string]string{}
		}
		doc.Options[k] = v
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return os.Rename(tmp, path)
}

// Delete stops the tunnel if it runs and removes the profile document.
// Secrets stay in the keyring so the profile can be installed again; Purge
// removes them too.
func (s *Store) Delete(ctx context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := s.Stop(ctx, name); err != nil {
		logger.Warning("stopping %s before delete: %v", name, err)
	}

	s.fileMu.Lock()
	err = os.Remove(path)
	s.fileMu.Unlock()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete profile: %w", err)
	}

	s.mu.Lock()
	delete(s.status, name)
	s.mu.Unlock()
	return nil
}

// Purge deletes the profile and its secrets.
func (s *Store) Purge(ctx context.Context, name string) error {
	if err := s.Delete(ctx, name); err != nil {
		return err
	}
	if err := s.secrets.Delete(name); err != nil {
		return fmt.Errorf("delete secrets: %w", err)
	}
	return nil
}

// SetSecret stores a secret option of the named profile.
func (s *Store) SetSecret(name, key, value string) error {
	if _, err := s.path(name); err != nil {
		return err
	}
	if !isSecret(key) {
		return fmt.Errorf("%q is not a secret option", key)
	}
	return s.secrets.Set(name, key, value)
}

// Start brings the named tunnel up in the background. Progress is visible
// through Status and OnStateChange.
func (s *Store) Start(ctx context.Context, name string) error {
	p, err := s.Load(ctx, name)
	if err != nil {
		return err
	}
	if !p.Enabled {
		return fmt.Errorf("%w: %s", ErrDisabled, name)
	}
	run, ok := s.runners[p.Family]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoRunner, p.Family)
	}
	secrets, err := s.secrets.All(name)
	if err != nil {
		return fmt.Errorf("load secrets: %w", err)
	}

	s.mu.Lock()
	if r, ok := s.tunnels[name]; ok {
		st := r.tunnel.State()
		if st == protocols.StateConnected || st == protocols.StateConnecting {
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()

	tunnel, err := run(p, secrets)
	if err != nil {
		return fmt.Errorf("create %s tunnel: %w", p.Family, err)
	}

	// The tunnel outlives the request that started it.
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &running{tunnel: tunnel, cancel: cancel}

	s.mu.Lock()
	old := s.tunnels[name]
	s.tunnels[name] = r
	s.mu.Unlock()
	if old != nil {
		old.cancel()
		old.tunnel.Stop()
	}

	s.setStatus(name, protocols.StateConnecting)
	changes := tunnel.StateChanges()
	logger.SafeGo("profileStateWatch", func() {
		for sc := range changes {
			if s.current(name) != r {
				return
			}
			if sc.Error != nil {
				logger.Error("%s: %s: %v", name, sc.Message, sc.Error)
			}
			s.setStatus(name, sc.State)
		}
	})
	logger.SafeGo("profileStart", func() {
		if err := tunnel.Start(tctx); err != nil {
			logger.Error("%s tunnel failed: %v", name, err)
			if s.current(name) == r {
				s.setStatus(name, protocols.StateError)
			}
		}
	})
	return nil
}

// Stop brings the named tunnel down. Stopping a tunnel that is not running
// is not an error.
func (s *Store) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	r := s.tunnels[name]
	delete(s.tunnels, name)
	s.mu.Unlock()

	if r == nil {
		s.setStatus(name, protocols.StateDisconnected)
		return nil
	}

	r.cancel()
	err := r.tunnel.Stop()
	s.setStatus(name, protocols.StateDisconnected)
	if err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	return nil
}

// Status returns the state of the named tunnel.
func (s *Store) Status(name string) protocols.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[name]; ok {
		return st
	}
	return protocols.StateDisconnected
}

// LocalIP returns the tunnel address of a running profile.
func (s *Store) LocalIP(name string) string {
	r := s.current(name)
	if r == nil {
		return ""
	}
	if ip := r.tunnel.LocalIP(); ip.IsValid() {
		return ip.String()
	}
	return ""
}

// StopAll stops every running tunnel.
func (s *Store) StopAll(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.tunnels))
	for name := range s.tunnels {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.Stop(ctx, name); err != nil {
			logger.Warning("%v", err)
		}
	}
}

func (s *Store) current(name string) *running {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tunnels[name]
}

func (s *Store) setStatus(name string, st protocols.State) {
	s.mu.Lock()
	prev, known := s.status[name]
	s.status[name] = st
	listeners := append([]func(string, protocols.State){}, s.listeners...)
	s.mu.Unlock()

	if known && prev == st {
		return
	}
	if !known && st == protocols.StateDisconnected {
		return
	}
	logger.Debug("profile %s: %s -> %s", name, prev, st)
	for _, fn := range listeners {
		fn(name, st)
	}
}

func readProfile(path string) (provider.Profile, error) {
	var p provider.Profile
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), ".yaml")
	}
	return p, nil
}
