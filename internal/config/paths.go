package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "cloudmon"

const (
	configFileName   = "config.toml"
	identityFileName = "identity.json"
	journalFileName  = "journal.db"
	pidFileName      = "cloudmon.pid"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/cloudmon).
// On macOS, uses ~/Library/Application Support/cloudmon.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for identity,
// journal and PID files. On Linux, respects XDG_DATA_HOME.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, filepath.Join(".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func xdgDir(env, home, fallback string) string {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, fallback, appName)
}

// DefaultCloudRoot returns the directory holding provider containers. On
// macOS this is the iCloud Drive mobile documents directory; elsewhere a
// directory under the data dir that a sync client populates.
func DefaultCloudRoot() string {
	if runtime.GOOS == platformDarwin {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}

		return filepath.Join(home, "Library", "Mobile Documents")
	}

	return joinDataDir("containers")
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultIdentityPath returns the default identity token file path.
func DefaultIdentityPath() string {
	return joinDataDir(identityFileName)
}

// DefaultJournalPath returns the default journal database path.
func DefaultJournalPath() string {
	return joinDataDir(journalFileName)
}

// DefaultPIDPath returns the PID file path of a running `watch`.
func DefaultPIDPath() string {
	return joinDataDir(pidFileName)
}

func joinDataDir(name string) string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}

// expandTilde replaces a leading "~/" with the user's home directory. The
// path is returned unchanged if the home directory is unknown; validation
// reports the non-absolute result.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
