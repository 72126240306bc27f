package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/cloudmon/internal/changesource"
	"github.com/tonimelisma/cloudmon/internal/identity"
	"github.com/tonimelisma/cloudmon/internal/journal"
)

func signIn(t *testing.T, path, account string) {
	t.Helper()

	require.NoError(t, identity.Save(path, &identity.Identity{
		Account: account,
		Token:   &oauth2.Token{AccessToken: "tok", TokenType: "Bearer"},
	}))
}

func TestBuildStatus_NotSignedIn(t *testing.T) {
	t.Parallel()

	cfg := testResolved(t)
	report := buildStatus(context.Background(), cfg, filepath.Join(t.TempDir(), "none.pid"), testLogger(t))

	assert.False(t, report.CloudAvailable)
	require.NotNil(t, report.Error)
	assert.Equal(t, "cloud_not_available", report.Error.Kind)
	assert.Empty(t, report.Directory)
	assert.Equal(t, watcherNotRunning, report.Watcher)
	assert.Empty(t, report.Items)

	// Resolution is not attempted while the cloud is unavailable.
	_, err := os.Stat(filepath.Join(cfg.CloudRoot, "iCloud~app~organicmaps~debug"))
	assert.True(t, os.IsNotExist(err))
}

func TestBuildStatus_SignedInResolvesAndReadsJournal(t *testing.T) {
	t.Parallel()

	cfg := testResolved(t)
	signIn(t, cfg.IdentityPath, "me@example.com")

	ctx := context.Background()

	jr, err := journal.Open(ctx, cfg.JournalPath, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, jr.RecordSnapshot(ctx, "s1", cfg.ContainerID, []changesource.Item{
		testItem("a.kml", 5, changesource.StatusCurrent),
	}))
	require.NoError(t, jr.Close())

	pidPath := filepath.Join(t.TempDir(), "cloudmon.pid")
	cleanup, err := writePIDFile(pidPath)
	require.NoError(t, err)
	defer cleanup()

	report := buildStatus(ctx, cfg, pidPath, testLogger(t))

	assert.True(t, report.CloudAvailable)
	assert.Equal(t, "me@example.com", report.Account)
	assert.Nil(t, report.Error)
	assert.Equal(t, filepath.Join(cfg.CloudRoot, "iCloud~app~organicmaps~debug", "Documents"), report.Directory)
	assert.Equal(t, watcherRunning, report.Watcher)
	assert.Equal(t, os.Getpid(), report.WatcherPID)

	require.Len(t, report.Items, 1)
	assert.Equal(t, "a.kml", report.Items[0].Path)
	require.NotNil(t, report.LastEvent)
	assert.Equal(t, journal.KindSnapshot, report.LastEvent.Kind)
}

func TestBuildStatus_MissingCloudRoot(t *testing.T) {
	t.Parallel()

	cfg := testResolved(t)
	cfg.CloudRoot = filepath.Join(t.TempDir(), "absent")
	signIn(t, cfg.IdentityPath, "")

	report := buildStatus(context.Background(), cfg, filepath.Join(t.TempDir(), "none.pid"), testLogger(t))

	assert.True(t, report.CloudAvailable)
	require.NotNil(t, report.Error)
	assert.Equal(t, "container_not_found", report.Error.Kind)
	assert.NotEmpty(t, report.Error.Message)
}

func TestPrintStatus(t *testing.T) {
	t.Parallel()

	report := &statusReport{
		ContainerID:    testContainerID,
		FileType:       "kml",
		CloudRoot:      "/cloud",
		CloudAvailable: true,
		Directory:      "/cloud/x/Documents",
		Watcher:        watcherNotRunning,
		Items:          []changesource.Item{testItem("a.kml", 2048, changesource.StatusNotDownloaded)},
	}

	var text bytes.Buffer
	printStatusText(&text, report)

	out := text.String()
	assert.Contains(t, out, "Container:  "+testContainerID+" (kml)")
	assert.Contains(t, out, "Cloud:      available (signed in)")
	assert.Contains(t, out, "Directory:  /cloud/x/Documents")
	assert.Contains(t, out, "1 recorded item(s)")
	assert.Contains(t, out, "not downloaded")
	assert.Contains(t, out, "2.0 KB")

	var js bytes.Buffer
	require.NoError(t, printStatusJSON(&js, report))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, true, decoded["cloud_available"])
	assert.Equal(t, watcherNotRunning, decoded["watcher"])
	assert.NotContains(t, decoded, "error")
}
