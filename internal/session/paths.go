// Package session resolves per-profile paths under ~/.geomini. A profile
// is one signed-in identity with its own mirror database, logs and lock.
package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.geomini.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".geomini")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the local mirror database path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "geomini.db")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "geominid.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
