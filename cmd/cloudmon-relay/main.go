// Command cloudmon-relay serves a local cloud container directory over the
// push notification protocol, so that `cloudmon watch` with
// source = "websocket" can monitor it from another machine.
//
// Usage: go run ./cmd/cloudmon-relay --cloud-root ~/Library/Mobile\ Documents --listen :8765
package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/cloudmon/internal/changesource"
	"github.com/tonimelisma/cloudmon/internal/config"
	"github.com/tonimelisma/cloudmon/internal/container"
)

const shutdownTimeout = 5 * time.Second

type relayFlags struct {
	listen    string
	cloudRoot string
	token     string
	debounce  time.Duration
	verbose   bool
}

func main() {
	if err := newRelayCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRelayCmd() *cobra.Command {
	var flags relayFlags

	cmd := &cobra.Command{
		Use:           "cloudmon-relay",
		Short:         "Serve a cloud container directory over websocket push notifications",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.listen, "listen", "127.0.0.1:8765", "address to listen on")
	cmd.Flags().StringVar(&flags.cloudRoot, "cloud-root", config.DefaultCloudRoot(), "directory holding provider containers")
	cmd.Flags().StringVar(&flags.token, "token", "", "require this bearer token from clients")
	cmd.Flags().DurationVar(&flags.debounce, "debounce", 0, "quiet period before an update is sent (0 = default)")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func runRelay(ctx context.Context, flags relayFlags) error {
	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := changesource.NewRelay(
		container.NewDirResolver(flags.cloudRoot, logger),
		changesource.NewLocalSource(changesource.LocalOptions{Debounce: flags.debounce}, logger),
		logger,
	)

	srv := &http.Server{
		Addr:              flags.listen,
		Handler:           requireToken(flags.token, relay),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("relay listening",
			slog.String("addr", flags.listen),
			slog.String("cloud_root", flags.cloudRoot),
		)

		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	logger.Info("relay shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutting down: %w", err)
	}

	return nil
}

// requireToken rejects requests without the expected bearer token. An empty
// token disables the check.
func requireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}

	want := []byte("Bearer " + token)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
