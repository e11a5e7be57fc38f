package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.geomini/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	Backend BackendConfig `toml:"backend"`
	Auth    AuthConfig    `toml:"auth"`
	Server  ServerConfig  `toml:"server"`
	Geo     GeoConfig     `toml:"geo"`
	Cache   CacheConfig   `toml:"cache"`
}

// BackendConfig points at the managed backend project.
type BackendConfig struct {
	URL     string `toml:"url"`
	AnonKey string `toml:"anon_key"`
}

// AuthConfig holds the sign-in credentials for the daemon's session.
type AuthConfig struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// GeoConfig configures the position lookup used to seed the map view.
type GeoConfig struct {
	LocatorURL string `toml:"locator_url"`
}

// CacheConfig bounds the in-memory entity cache.
type CacheConfig struct {
	MaxEntries int `toml:"max_entries"`
	TTLMinutes int `toml:"ttl_minutes"`
}

// Defaults applied on load when the file leaves fields unset.
const (
	DefaultListen          = "127.0.0.1:7780"
	DefaultCacheMaxEntries = 4096
	DefaultCacheTTLMinutes = 30
)

// Load reads config from the given path. Returns zero config and error if
// file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if c.Backend.AnonKey == "" {
		return fmt.Errorf("backend.anon_key is required")
	}
	if c.Auth.Email == "" || c.Auth.Password == "" {
		return fmt.Errorf("auth.email and auth.password are required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Cache.TTLMinutes == 0 {
		c.Cache.TTLMinutes = DefaultCacheTTLMinutes
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
