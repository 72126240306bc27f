package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindModuleRoot(t *testing.T) {
	t.Parallel()

	root := FindModuleRoot("fallback")
	assert.FileExists(t, filepath.Join(root, "go.mod"))
}

func TestIsolatedEnv(t *testing.T) {
	t.Setenv("CLOUDMON_CONTAINER_ID", "iCloud.leak")

	home := t.TempDir()
	env := IsolatedEnv(home)

	assert.Contains(t, env, "HOME="+home)
	assert.Contains(t, env, "XDG_CONFIG_HOME="+filepath.Join(home, ".config"))
	assert.Contains(t, env, "XDG_DATA_HOME="+filepath.Join(home, ".local", "share"))

	homes := 0
	for _, kv := range env {
		assert.False(t, strings.HasPrefix(kv, "CLOUDMON_"), kv)

		if strings.HasPrefix(kv, "HOME=") {
			homes++
		}
	}

	assert.Equal(t, 1, homes)
	assert.NotEmpty(t, os.Getenv("CLOUDMON_CONTAINER_ID"))
}
