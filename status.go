package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cloudmon/internal/changesource"
	"github.com/tonimelisma/cloudmon/internal/config"
	"github.com/tonimelisma/cloudmon/internal/container"
	"github.com/tonimelisma/cloudmon/internal/identity"
	"github.com/tonimelisma/cloudmon/internal/journal"
	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

// Watcher state constants for status reporting.
const (
	watcherRunning    = "running"
	watcherNotRunning = "not running"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cloud availability, container resolution, and last known contents",
		Long: `Check whether a cloud identity is signed in, resolve the configured
container directory, and show whether a watcher is running along with the
contents it last recorded.

Exits with status 1 if the cloud is unavailable or the container cannot be
resolved.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusReport is the JSON schema for `status --json`.
type statusReport struct {
	ContainerID    string              `json:"container_id"`
	FileType       string              `json:"file_type"`
	CloudRoot      string              `json:"cloud_root"`
	CloudAvailable bool                `json:"cloud_available"`
	Account        string              `json:"account,omitempty"`
	Directory      string              `json:"directory,omitempty"`
	Error          *statusError        `json:"error,omitempty"`
	Watcher        string              `json:"watcher"`
	WatcherPID     int                 `json:"watcher_pid,omitempty"`
	LastEvent      *journal.Entry      `json:"last_event,omitempty"`
	Items          []changesource.Item `json:"items"`
}

type statusError struct {
	Kind    string `json:"kind"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	if err := cfg.RequireContainer(); err != nil {
		return err
	}

	report := buildStatus(cmd.Context(), cfg, config.DefaultPIDPath(), cc.Logger)

	if cc.Flags.JSON {
		if err := printStatusJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		printStatusText(os.Stdout, report)
	}

	if report.Error != nil {
		return errSilentExit
	}

	return nil
}

// buildStatus gathers the report. Resolution is attempted only when the
// cloud is available, mirroring the monitor's start sequence.
func buildStatus(ctx context.Context, cfg *config.Resolved, pidPath string, logger *slog.Logger) *statusReport {
	report := &statusReport{
		ContainerID: cfg.ContainerID,
		FileType:    string(cfg.FileType),
		CloudRoot:   cfg.CloudRoot,
		Watcher:     watcherNotRunning,
		Items:       []changesource.Item{},
	}

	id, err := identity.Load(cfg.IdentityPath)
	if err != nil {
		logger.Warn("reading identity failed", slog.String("error", err.Error()))
	}

	report.CloudAvailable = id != nil
	if id != nil {
		report.Account = id.Account
	}

	if !report.CloudAvailable {
		report.Error = newStatusError(syncerr.New(syncerr.KindCloudNotAvailable), cfg)
	} else {
		dir, resolveErr := container.NewDirResolver(cfg.CloudRoot, logger).Resolve(ctx, cfg.ContainerID, cfg.FileType)
		if resolveErr != nil {
			report.Error = newStatusError(syncerr.FromError(resolveErr), cfg)
		} else {
			report.Directory = container.Path(dir)
		}
	}

	if pid, alive := watcherAlive(pidPath); alive {
		report.Watcher = watcherRunning
		report.WatcherPID = pid
	}

	loadJournalStatus(ctx, cfg, report, logger)

	return report
}

func newStatusError(se *syncerr.Error, cfg *config.Resolved) *statusError {
	return &statusError{
		Kind:    se.Kind.String(),
		Code:    int(se.Code),
		Message: syncerr.Localize(se.Kind, cfg.Language),
	}
}

// watcherAlive reports whether the PID file names a live process. Unlike
// signalWatcher it never removes a stale file.
func watcherAlive(pidPath string) (int, bool) {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return 0, false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}

	return pid, true
}

func loadJournalStatus(ctx context.Context, cfg *config.Resolved, report *statusReport, logger *slog.Logger) {
	jr, err := journal.OpenExisting(ctx, cfg.JournalPath, logger)
	if errors.Is(err, journal.ErrNoJournal) {
		return
	}

	if err != nil {
		logger.Warn("opening journal failed", slog.String("error", err.Error()))
		return
	}
	defer jr.Close()

	items, err := jr.Items(ctx, cfg.ContainerID)
	if err != nil {
		logger.Warn("reading recorded items failed", slog.String("error", err.Error()))
	} else if items != nil {
		report.Items = items
	}

	last, err := jr.History(ctx, journal.Filter{ContainerID: cfg.ContainerID, Limit: 1})
	if err != nil {
		logger.Warn("reading journal history failed", slog.String("error", err.Error()))
		return
	}

	if len(last) > 0 {
		report.LastEvent = &last[0]
	}
}

func printStatusJSON(w io.Writer, report *statusReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	return nil
}

func printStatusText(w io.Writer, r *statusReport) {
	fmt.Fprintf(w, "Container:  %s (%s)\n", r.ContainerID, r.FileType)
	fmt.Fprintf(w, "Cloud root: %s\n", r.CloudRoot)

	if r.CloudAvailable {
		account := r.Account
		if account == "" {
			account = "signed in"
		}

		fmt.Fprintf(w, "Cloud:      available (%s)\n", account)
	} else {
		fmt.Fprintln(w, "Cloud:      not available")
	}

	if r.Directory != "" {
		fmt.Fprintf(w, "Directory:  %s\n", r.Directory)
	}

	if r.Error != nil {
		fmt.Fprintf(w, "Error:      %s: %s\n", r.Error.Kind, r.Error.Message)
	}

	if r.WatcherPID != 0 {
		fmt.Fprintf(w, "Watcher:    %s (PID %d)\n", r.Watcher, r.WatcherPID)
	} else {
		fmt.Fprintf(w, "Watcher:    %s\n", r.Watcher)
	}

	if r.LastEvent != nil {
		fmt.Fprintf(w, "Last event: %s at %s\n", r.LastEvent.Kind, formatTime(r.LastEvent.RecordedAt.Local()))
	}

	if len(r.Items) == 0 {
		return
	}

	fmt.Fprintf(w, "\n%d recorded item(s):\n", len(r.Items))
	printItems(w, r.Items)
}
