// Package testutil provides shared environment helpers for E2E tests. It
// depends only on stdlib so that E2E tests (which cannot import internal/)
// can use it.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
)

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// isolatedVars are replaced by IsolatedEnv so the binary under test never
// sees the developer's real config, identity, journal, or PID file.
var isolatedVars = []string{
	"HOME",
	"XDG_CONFIG_HOME",
	"XDG_DATA_HOME",
	"CLOUDMON_CONFIG",
	"CLOUDMON_CONTAINER_ID",
	"CLOUDMON_CLOUD_ROOT",
}

// IsolatedEnv returns the current environment with HOME and the XDG
// directories pointed under home, and every CLOUDMON_* override removed.
func IsolatedEnv(home string) []string {
	env := make([]string, 0, len(os.Environ())+3)

	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if isIsolated(key) {
			continue
		}

		env = append(env, kv)
	}

	return append(env,
		"HOME="+home,
		"XDG_CONFIG_HOME="+filepath.Join(home, ".config"),
		"XDG_DATA_HOME="+filepath.Join(home, ".local", "share"),
	)
}

func isIsolated(key string) bool {
	for _, v := range isolatedVars {
		if key == v {
			return true
		}
	}

	return false
}
