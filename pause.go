package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cloudmon/internal/config"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [duration]",
		Short: "Pause delivery in the running watcher",
		Long: `Pause the running "cloudmon watch". Changes observed while paused are
held back and delivered as a single update on resume.

An optional duration argument (e.g., "2h", "30m", "1d") schedules an
automatic resume after the interval.

Examples:
  cloudmon pause
  cloudmon pause 30m`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runPause,
		Args:        cobra.MaximumNArgs(1),
	}
}

func runPause(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	pidPath := config.DefaultPIDPath()

	var until time.Time

	if len(args) > 0 {
		d, err := parseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[0], err)
		}

		until = time.Now().Add(d)
		if err := writePauseUntil(pidPath, until); err != nil {
			return err
		}
	}

	pid, err := signalWatcher(pidPath, sigPause)
	if err != nil {
		if !until.IsZero() {
			os.Remove(pauseUntilPath(pidPath))
		}

		return err
	}

	cc.Logger.Debug("sent pause signal", "pid", pid)

	if until.IsZero() {
		cc.Statusf("Watcher (PID %d) paused\n", pid)
	} else {
		cc.Statusf("Watcher (PID %d) paused until %s\n", pid, until.Format(time.RFC3339))
	}

	return nil
}

// pauseUntilPath is where `pause <duration>` leaves the automatic resume
// time for the watcher to pick up with the pause signal.
func pauseUntilPath(pidPath string) string {
	return pidPath + ".until"
}

func writePauseUntil(pidPath string, until time.Time) error {
	if err := os.WriteFile(pauseUntilPath(pidPath), []byte(until.Format(time.RFC3339)+"\n"), pidFilePermissions); err != nil {
		return fmt.Errorf("writing pause deadline: %w", err)
	}

	return nil
}

// takePauseUntil reads and removes the pause deadline. A zero time means
// "until resumed".
func takePauseUntil(pidPath string) (time.Time, error) {
	path := pauseUntilPath(pidPath)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, nil
	}

	if err != nil {
		return time.Time{}, fmt.Errorf("reading pause deadline: %w", err)
	}

	os.Remove(path)

	until, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid pause deadline in %s: %w", path, err)
	}

	return until, nil
}
