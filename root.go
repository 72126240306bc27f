package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/cloudmon/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that work without a resolved config.
const skipConfigAnnotation = "skip-config"

// httpClientTimeout bounds the websocket handshake.
const httpClientTimeout = 30 * time.Second

// CLIFlags holds the global persistent flags.
type CLIFlags struct {
	ConfigPath  string
	ContainerID string
	FileType    string
	CloudRoot   string
	Source      string
	JSON        bool
	Verbose     bool
	Quiet       bool
}

// CLIContext is built once in PersistentPreRunE and carried through the
// command's context.
type CLIContext struct {
	Flags  CLIFlags
	Logger *slog.Logger
	// Level backs Logger so a reload can change verbosity in place.
	Level *slog.LevelVar
	// Cfg is nil for commands annotated with skipConfigAnnotation.
	Cfg *config.Resolved
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext installed by the root command.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext missing from command context")
	}

	return cc
}

func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:   "cloudmon",
		Short: "Cloud directory monitor",
		Long: `Watch a cloud-synchronized container directory and report its contents,
changes, and synchronization errors.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, flags)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.ContainerID, "container", "", "cloud container identifier")
	pf.StringVar(&flags.FileType, "file-type", "", "monitored file kind (kml, kmz, kmb, gpx, any)")
	pf.StringVar(&flags.CloudRoot, "cloud-root", "", "directory holding provider containers")
	pf.StringVar(&flags.Source, "source", "", "change source (local, websocket)")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newExplainCmd())
	cmd.AddCommand(newSigninCmd())
	cmd.AddCommand(newSignoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves configuration (unless the command opts out) and
// builds the logger.
func newCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	cc := &CLIContext{Flags: flags, Level: new(slog.LevelVar)}

	// Bootstrap logger for config loading itself.
	cc.Level.Set(flagLevel(flags, slog.LevelWarn))
	cc.Logger = buildLogger(os.Stderr, cc.Level, config.LogFormatAuto)

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		return cc, nil
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(cc.Logger), cliOverrides(cmd, flags), cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = resolved
	cc.Level.Set(flagLevel(flags, resolved.LogLevel))
	cc.Logger = buildLogger(os.Stderr, cc.Level, resolved.LogFormat)

	return cc, nil
}

// cliOverrides passes only flags the user explicitly set.
func cliOverrides(cmd *cobra.Command, flags CLIFlags) config.CLIOverrides {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}
	changed := cmd.Flags().Changed

	if changed("container") {
		cli.ContainerID = &flags.ContainerID
	}

	if changed("file-type") {
		cli.FileType = &flags.FileType
	}

	if changed("cloud-root") {
		cli.CloudRoot = &flags.CloudRoot
	}

	if changed("source") {
		cli.Source = &flags.Source
	}

	return cli
}

// flagLevel applies --verbose and --quiet over the configured baseline.
func flagLevel(flags CLIFlags, base slog.Level) slog.Level {
	switch {
	case flags.Verbose:
		return slog.LevelDebug
	case flags.Quiet:
		return slog.LevelError
	default:
		return base
	}
}

// buildLogger picks a colored tint handler for terminals and JSON otherwise,
// unless format forces one.
func buildLogger(w io.Writer, level *slog.LevelVar, format string) *slog.Logger {
	useText := format == config.LogFormatText
	if format == config.LogFormatAuto {
		useText = isTerminal(w)
	}

	if useText {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(w),
		}))
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// errSilentExit signals a non-zero exit whose message was already printed.
var errSilentExit = errors.New("exit")

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	if !errors.Is(err, errSilentExit) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	os.Exit(1)
}
