package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/tonimelisma/cloudmon/internal/config"
	"github.com/tonimelisma/cloudmon/internal/container"
)

const testContainerID = "iCloud.app.organicmaps.debug"

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testResolved returns a configuration rooted in a fresh temp dir.
func testResolved(t *testing.T) *config.Resolved {
	t.Helper()

	dir := t.TempDir()
	root := filepath.Join(dir, "containers")
	require.NoError(t, os.MkdirAll(root, 0o755))

	return &config.Resolved{
		ContainerID:    testContainerID,
		FileType:       container.FileTypeKML,
		CloudRoot:      root,
		IdentityPath:   filepath.Join(dir, "identity.json"),
		Language:       language.English,
		Source:         config.SourceLocal,
		Debounce:       10 * time.Millisecond,
		RescanInterval: time.Minute,
		LogLevel:       slog.LevelInfo,
		LogFormat:      config.LogFormatJSON,
		JournalPath:    filepath.Join(dir, "state", "journal.db"),
	}
}

// testCLIContext wraps cfg the way PersistentPreRunE would, with output
// silenced.
func testCLIContext(t *testing.T, cfg *config.Resolved) *CLIContext {
	t.Helper()

	return &CLIContext{
		Flags:  CLIFlags{Quiet: true},
		Logger: testLogger(t),
		Level:  new(slog.LevelVar),
		Cfg:    cfg,
	}
}

// writeTestConfig writes a config file whose paths all live under dir.
func writeTestConfig(t *testing.T, dir string, extra string) string {
	t.Helper()

	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`cloud_root = %q
identity_token = %q
journal_path = %q
%s`,
		filepath.Join(dir, "containers"),
		filepath.Join(dir, "identity.json"),
		filepath.Join(dir, "journal.db"),
		extra,
	)

	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

// execute runs the root command with args.
func execute(t *testing.T, args ...string) error {
	t.Helper()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	return cmd.ExecuteContext(context.Background())
}

func TestFlagLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelWarn, flagLevel(CLIFlags{}, slog.LevelWarn))
	assert.Equal(t, slog.LevelDebug, flagLevel(CLIFlags{Verbose: true}, slog.LevelWarn))
	assert.Equal(t, slog.LevelError, flagLevel(CLIFlags{Quiet: true}, slog.LevelInfo))
	// --verbose wins over --quiet.
	assert.Equal(t, slog.LevelDebug, flagLevel(CLIFlags{Verbose: true, Quiet: true}, slog.LevelInfo))
}

func TestBuildLogger_AutoIsJSONWhenNotATerminal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	level := new(slog.LevelVar)
	logger := buildLogger(&buf, level, config.LogFormatAuto)
	logger.Info("hello", slog.String("k", "v"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

func TestBuildLogger_TextFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	level := new(slog.LevelVar)
	logger := buildLogger(&buf, level, config.LogFormatText)
	logger.Info("hello", slog.String("k", "v"))

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "k=v")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestBuildLogger_LevelVarAppliesLive(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := buildLogger(&buf, level, config.LogFormatJSON)

	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))

	level.Set(slog.LevelDebug)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestMustCLIContext_PanicsWhenMissing(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	for _, want := range []string{
		"watch", "status", "pause", "resume", "history",
		"explain", "signin", "signout", "whoami", "config",
	} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmd_InvalidConfigFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestConfig(t, dir, "file_typ = \"kml\"\n")

	err := execute(t, "--config", path, "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "file_type"`)
}

func TestRootCmd_ConfigSetAndShow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, execute(t, "--config", path, "config", "set", "container_id", "iCloud.test"))
	require.NoError(t, execute(t, "--config", path, "config", "set", "journal_retention_days", "7"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `container_id = "iCloud.test"`)
	assert.Contains(t, string(data), "journal_retention_days = 7")

	cfg, err := config.Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "iCloud.test", cfg.ContainerID)
	assert.Equal(t, 7, cfg.JournalRetentionDays)
}

func TestRootCmd_ConfigSetRollsBackInvalidValue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestConfig(t, dir, "")

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = execute(t, "--config", path, "config", "set", "file_type", "shp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not setting file_type")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestRootCmd_ConfigSetRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")

	err := execute(t, "--config", path, "config", "set", "container", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRootCmd_ConfigInitRefusesOverwrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, execute(t, "--config", path, "config", "init"))

	err := execute(t, "--config", path, "config", "init")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfigExists)
}

func TestRootCmd_WatchRequiresContainer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestConfig(t, dir, "")

	err := execute(t, "--config", path, "watch")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrNoContainer)
}
