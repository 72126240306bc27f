package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/cloudmon/internal/changesource"
	"github.com/tonimelisma/cloudmon/internal/config"
	"github.com/tonimelisma/cloudmon/internal/container"
	"github.com/tonimelisma/cloudmon/internal/identity"
	"github.com/tonimelisma/cloudmon/internal/journal"
	"github.com/tonimelisma/cloudmon/internal/monitor"
)

// pruneInterval is how often the watcher trims journal entries older than
// journal_retention_days.
const pruneInterval = time.Hour

// Journal state markers written by the watcher.
const (
	stateStarted = "started"
	statePaused  = "paused"
	stateResumed = "resumed"
	stateStopped = "stopped"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor the container directory and report changes",
		Long: `Start a monitor on the configured container and print the initial
snapshot, every update, and every synchronization error until interrupted.
Each callback is also recorded in the journal (see "cloudmon history").

Signals:
  SIGINT/SIGTERM  stop (a second signal forces exit)
  SIGUSR1         pause (same as "cloudmon pause")
  SIGUSR2         resume (same as "cloudmon resume")
  SIGHUP          reload log level from the config file`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}

	cmd.Flags().Duration("retry", 0, "retry a failed start at this interval instead of exiting (0 disables)")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg
	logger := cc.Logger

	if err := cfg.RequireContainer(); err != nil {
		return err
	}

	retry, err := cmd.Flags().GetDuration("retry")
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), logger)

	pidPath := config.DefaultPIDPath()

	cleanup, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer cleanup()

	jr, err := journal.Open(ctx, cfg.JournalPath, logger)
	if err != nil {
		return err
	}
	defer jr.Close()

	source, err := newChangeSource(cfg, logger)
	if err != nil {
		return err
	}

	m := monitor.New(
		monitor.Config{ContainerID: cfg.ContainerID, FileType: cfg.FileType},
		identity.NewFileProbe(cfg.IdentityPath, logger),
		container.NewDirResolver(cfg.CloudRoot, logger),
		source,
		logger,
	)

	rec := jr.NewRecorder(cfg.ContainerID, m.SessionID)
	m.SetDelegate(monitor.MultiDelegate{
		rec,
		newPrinter(os.Stdout, cc.Flags.JSON, cfg.Language, cfg.ContainerID, m.SessionID, logger),
	})

	w := &watcher{
		cc:      cc,
		cmd:     cmd,
		m:       m,
		rec:     rec,
		jr:      jr,
		holder:  config.NewHolder(cfg),
		pidPath: pidPath,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.start(gctx, retry) })
	g.Go(func() error { return w.controlLoop(gctx) })
	g.Go(func() error { return w.pruneLoop(gctx) })

	err = g.Wait()

	if m.IsStarted() {
		rec.State(stateStopped)
	}

	m.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("watch stopped")

	return nil
}

// newChangeSource builds the configured change source. The websocket source
// authenticates with the signed-in identity's token.
func newChangeSource(cfg *config.Resolved, logger *slog.Logger) (changesource.Source, error) {
	switch cfg.Source {
	case config.SourceWebSocket:
		header := http.Header{}

		id, err := identity.Load(cfg.IdentityPath)
		if err != nil {
			return nil, err
		}

		if id != nil {
			header.Set("Authorization", id.Token.Type()+" "+id.Token.AccessToken)
		}

		return changesource.NewWebSocketSource(cfg.NotifyURL, header, defaultHTTPClient(), logger), nil

	case config.SourceLocal, "":
		return changesource.NewLocalSource(changesource.LocalOptions{
			Debounce:    cfg.Debounce,
			RescanEvery: cfg.RescanInterval,
		}, logger), nil

	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// watcher holds the long-running pieces of `watch`.
type watcher struct {
	cc      *CLIContext
	cmd     *cobra.Command
	m       *monitor.Monitor
	rec     *journal.Recorder
	jr      *journal.Journal
	holder  *config.Holder
	pidPath string
}

// start starts the monitor. With a positive retry interval, failed starts
// are retried until the context ends; otherwise the first failure ends the
// watch.
func (w *watcher) start(ctx context.Context, retry time.Duration) error {
	for {
		err := w.m.Start(ctx)
		if err == nil {
			w.rec.State(stateStarted)
			w.cc.Statusf("Watching %s\n", container.Path(w.m.Directory()))

			return nil
		}

		if ctx.Err() != nil || errors.Is(err, monitor.ErrStopped) {
			return nil
		}

		if retry <= 0 {
			return fmt.Errorf("starting monitor: %w", err)
		}

		w.cc.Logger.Warn("monitor start failed, retrying",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", retry),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retry):
		}
	}
}

// controlLoop applies pause, resume and reload signals until ctx ends.
func (w *watcher) controlLoop(ctx context.Context) error {
	sigCh, stop := controlSignals()
	defer stop()

	var (
		resumeTimer *time.Timer
		resumeC     <-chan time.Time
	)

	stopTimer := func() {
		if resumeTimer != nil {
			resumeTimer.Stop()
			resumeTimer, resumeC = nil, nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-resumeC:
			resumeTimer, resumeC = nil, nil
			w.resume()

		case sig := <-sigCh:
			switch sig {
			case sigPause:
				stopTimer()
				w.pause()

				until, err := takePauseUntil(w.pidPath)
				if err != nil {
					w.cc.Logger.Warn("ignoring pause deadline", slog.String("error", err.Error()))
				}

				if !until.IsZero() {
					resumeTimer = time.NewTimer(time.Until(until))
					resumeC = resumeTimer.C
				}

			case sigResume:
				stopTimer()
				w.resume()

			case sigReload:
				w.reload()
			}
		}
	}
}

func (w *watcher) pause() {
	if w.m.State() != monitor.StateRunning {
		w.cc.Logger.Info("pause ignored", slog.String("state", w.m.State().String()))
		return
	}

	w.m.Pause()
	w.rec.State(statePaused)
	w.cc.Statusf("Paused\n")
}

func (w *watcher) resume() {
	if !w.m.IsPaused() || !w.m.IsStarted() {
		w.cc.Logger.Info("resume ignored", slog.String("state", w.m.State().String()))
		return
	}

	w.m.Resume()
	w.rec.State(stateResumed)
	w.cc.Statusf("Resumed\n")
}

// reload re-reads the configuration. Only the log level and journal
// retention apply to a running watcher; the container and file type are
// fixed for the monitor's lifetime.
func (w *watcher) reload() {
	logger := w.cc.Logger

	fresh, err := config.Resolve(config.ReadEnvOverrides(logger), cliOverrides(w.cmd, w.cc.Flags), logger)
	if err != nil {
		logger.Warn("config reload failed, keeping previous config", slog.String("error", err.Error()))
		return
	}

	prev := w.holder.Config()
	w.holder.Update(fresh)
	w.cc.Level.Set(flagLevel(w.cc.Flags, fresh.LogLevel))

	if fresh.ContainerID != prev.ContainerID || fresh.FileType != prev.FileType ||
		fresh.Source != prev.Source || fresh.CloudRoot != prev.CloudRoot {
		logger.Warn("container, file type, source, and cloud root changes need a restart of watch")
	}

	logger.Info("config reloaded", slog.String("log_level", fresh.LogLevel.String()))
}

// pruneLoop trims the journal now and every pruneInterval.
func (w *watcher) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		w.prune(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *watcher) prune(ctx context.Context) {
	retention := w.holder.Config().JournalRetention
	if retention <= 0 {
		return
	}

	n, err := w.jr.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		if ctx.Err() == nil {
			w.cc.Logger.Warn("journal prune failed", slog.String("error", err.Error()))
		}

		return
	}

	if n > 0 {
		w.cc.Logger.Debug("pruned journal", slog.Int64("entries", n))
	}
}
