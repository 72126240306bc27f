package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Control signals understood by a running `watch`.
const (
	sigPause  = syscall.SIGUSR1
	sigResume = syscall.SIGUSR2
	sigReload = syscall.SIGHUP
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second, so a hung shutdown can still be escaped.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// controlSignals subscribes to the pause/resume/reload signals. The returned
// stop function unsubscribes.
func controlSignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, sigPause, sigResume, sigReload)

	return ch, func() { signal.Stop(ch) }
}
