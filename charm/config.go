// ABOUTME: Connection settings for the credential key-value medium
// ABOUTME: Selects Charm Cloud or local BadgerDB and carries sync preferences

package charm

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	// DefaultCharmHost is the self-hosted 2389 research server.
	DefaultCharmHost = "charm.2389.dev"

	// AppName names the Charm KV database and the local data directory.
	AppName = "coachcal"

	BackendLocal = "local"
	BackendCharm = "charm"

	// DefaultStaleThreshold is how old a local replica may get before a pull.
	DefaultStaleThreshold = time.Hour
)

// Config holds key-value backend settings.
type Config struct {
	// Backend is "local" (default) or "charm".
	Backend string `json:"backend,omitempty"`

	// LocalPath is the BadgerDB directory for the local backend.
	LocalPath string `json:"local_path,omitempty"`

	// Host is the charm server hostname (default: charm.2389.dev)
	Host string `json:"host,omitempty"`

	// AutoSync enables automatic sync after every write operation
	AutoSync bool `json:"auto_sync"`

	// StaleThreshold is the duration before data is considered stale and needs a sync
	StaleThreshold time.Duration `json:"stale_threshold,omitempty"`
}

// DefaultLocalPath is the BadgerDB directory under the XDG data home.
func DefaultLocalPath() string {
	return filepath.Join(xdg.DataHome, AppName, "kv")
}

// DefaultConfig returns a new config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend:        BackendLocal,
		LocalPath:      DefaultLocalPath(),
		Host:           DefaultCharmHost,
		AutoSync:       true,
		StaleThreshold: DefaultStaleThreshold,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.LocalPath == "" {
		c.LocalPath = d.LocalPath
	}
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.StaleThreshold == 0 {
		c.StaleThreshold = d.StaleThreshold
	}
}
