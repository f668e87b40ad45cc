package provider

import (
	"context"
	"errors"

	"github.com/user/vpn-orchestrator/internal/protocols"
)

// ErrProfileNotFound is returned by a ProfileStore for unknown profiles.
var ErrProfileNotFound = errors.New("profile not found")

// Profile is a stored tunnel configuration.
type Profile struct {
	Name     string            `yaml:"name" json:"name"`
	Family   string            `yaml:"family" json:"family"`
	Username string            `yaml:"username,omitempty" json:"username,omitempty"`
	Server   string            `yaml:"server" json:"server"`
	Protocol string            `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	Port     string            `yaml:"port,omitempty" json:"port,omitempty"`
	OnDemand bool              `yaml:"on_demand" json:"on_demand"`
	Enabled  bool              `yaml:"enabled" json:"enabled"`
	Options  map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// ProfileStore is the secure profile store the providers drive. Every call
// may block for an unbounded time; implementations must honour ctx.
type ProfileStore interface {
	// LoadAll returns every stored profile.
	LoadAll(ctx context.Context) ([]Profile, error)

	// Load returns the named profile or ErrProfileNotFound.
	Load(ctx context.Context, name string) (Profile, error)

	// Save creates or replaces a profile.
	Save(ctx context.Context, p Profile) error

	// Delete removes a profile. Deleting a missing profile is not an error.
	Delete(ctx context.Context, name string) error

	// Start asks the platform to bring the named tunnel up.
	Start(ctx context.Context, name string) error

	// Stop asks the platform to bring the named tunnel down.
	Stop(ctx context.Context, name string) error

	// Status returns the platform status of the named tunnel.
	Status(name string) protocols.State
}
