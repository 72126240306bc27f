package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/cloudmon/internal/changesource"
	"github.com/tonimelisma/cloudmon/internal/config"
	"github.com/tonimelisma/cloudmon/internal/container"
	"github.com/tonimelisma/cloudmon/internal/identity"
	"github.com/tonimelisma/cloudmon/internal/journal"
	"github.com/tonimelisma/cloudmon/internal/monitor"
	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

func TestNewChangeSource(t *testing.T) {
	t.Parallel()

	cfg := testResolved(t)

	src, err := newChangeSource(cfg, testLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &changesource.LocalSource{}, src)

	cfg.Source = config.SourceWebSocket
	cfg.NotifyURL = "ws://127.0.0.1:1/notify"
	signIn(t, cfg.IdentityPath, "me")

	src, err = newChangeSource(cfg, testLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &changesource.WebSocketSource{}, src)

	cfg.Source = "carrier-pigeon"
	_, err = newChangeSource(cfg, testLogger(t))
	assert.Error(t, err)
}

// newTestWatcher wires a watcher the way runWatch does, minus signals and
// the PID file.
func newTestWatcher(t *testing.T, cfg *config.Resolved) *watcher {
	t.Helper()

	logger := testLogger(t)

	jr, err := journal.Open(context.Background(), cfg.JournalPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { jr.Close() })

	src, err := newChangeSource(cfg, logger)
	require.NoError(t, err)

	m := monitor.New(
		monitor.Config{ContainerID: cfg.ContainerID, FileType: cfg.FileType},
		identity.NewFileProbe(cfg.IdentityPath, logger),
		container.NewDirResolver(cfg.CloudRoot, logger),
		src,
		logger,
	)
	t.Cleanup(m.Stop)

	rec := jr.NewRecorder(cfg.ContainerID, m.SessionID)
	m.SetDelegate(rec)

	return &watcher{
		cc:      testCLIContext(t, cfg),
		cmd:     newRootCmd(),
		m:       m,
		rec:     rec,
		jr:      jr,
		holder:  config.NewHolder(cfg),
		pidPath: filepath.Join(t.TempDir(), "cloudmon.pid"),
	}
}

func stateHistory(t *testing.T, jr *journal.Journal) []string {
	t.Helper()

	entries, err := jr.History(context.Background(), journal.Filter{})
	require.NoError(t, err)

	var states []string
	for _, e := range entries {
		if e.Kind == journal.KindState {
			states = append(states, e.Detail)
		}
	}

	return states
}

func TestWatcher_StartWithoutIdentityFails(t *testing.T) {
	t.Parallel()

	w := newTestWatcher(t, testResolved(t))

	err := w.start(context.Background(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrCloudNotAvailable)
	assert.False(t, w.m.IsStarted())
}

func TestWatcher_RetryStopsOnCancel(t *testing.T) {
	t.Parallel()

	w := newTestWatcher(t, testResolved(t))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.NoError(t, w.start(ctx, 10*time.Millisecond))
	assert.False(t, w.m.IsStarted())
}

func TestWatcher_RetrySucceedsOnceSignedIn(t *testing.T) {
	t.Parallel()

	cfg := testResolved(t)
	w := newTestWatcher(t, cfg)

	go func() {
		time.Sleep(50 * time.Millisecond)
		assert.NoError(t, identity.Save(cfg.IdentityPath, &identity.Identity{
			Account: "late",
			Token:   &oauth2.Token{AccessToken: "tok"},
		}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, w.start(ctx, 10*time.Millisecond))
	assert.True(t, w.m.IsStarted())
}

func TestWatcher_PauseResumeRecorded(t *testing.T) {
	t.Parallel()

	cfg := testResolved(t)
	signIn(t, cfg.IdentityPath, "me")

	w := newTestWatcher(t, cfg)
	require.NoError(t, w.start(context.Background(), 0))

	w.pause()
	assert.True(t, w.m.IsPaused())

	// A second pause is ignored and not recorded.
	w.pause()

	w.resume()
	assert.False(t, w.m.IsPaused())
	assert.True(t, w.m.IsStarted())

	w.resume()

	assert.Equal(t, []string{stateResumed, statePaused, stateStarted}, stateHistory(t, w.jr))
}

func TestWatcher_Prune(t *testing.T) {
	t.Parallel()

	cfg := testResolved(t)
	w := newTestWatcher(t, cfg)
	ctx := context.Background()

	require.NoError(t, w.jr.RecordState(ctx, "s", cfg.ContainerID, "started"))

	// Retention 0 keeps everything.
	w.prune(ctx)
	assert.Len(t, stateHistory(t, w.jr), 1)

	fresh := *cfg
	fresh.JournalRetention = time.Nanosecond
	w.holder.Update(&fresh)

	time.Sleep(5 * time.Millisecond)
	w.prune(ctx)
	assert.Empty(t, stateHistory(t, w.jr))
}

func TestWatcher_ReloadAppliesLogLevel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestConfig(t, dir, "container_id = \"iCloud.a\"\nlog_level = \"debug\"\n")

	cfg := testResolved(t)
	w := newTestWatcher(t, cfg)
	w.cc.Flags = CLIFlags{ConfigPath: path}
	w.cc.Level.Set(cfg.LogLevel)

	w.reload()

	assert.Equal(t, "iCloud.a", w.holder.Config().ContainerID)
	assert.Equal(t, slog.LevelDebug, w.cc.Level.Level())
	assert.Equal(t, slog.LevelDebug, w.holder.Config().LogLevel)
}

func TestWatcher_ReloadKeepsConfigOnError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = \"loud\"\n"), 0o644))

	cfg := testResolved(t)
	w := newTestWatcher(t, cfg)
	w.cc.Flags = CLIFlags{ConfigPath: path}

	w.reload()

	assert.Same(t, cfg, w.holder.Config())
}
