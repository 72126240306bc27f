package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cloudmon/internal/config"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume delivery in the running watcher",
		Long: `Resume a paused "cloudmon watch". If the directory changed while paused,
one update carrying the latest contents is delivered.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runResume,
		Args:        cobra.NoArgs,
	}
}

func runResume(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	pidPath := config.DefaultPIDPath()

	// A pending deadline from `pause <duration>` is void once resumed by hand.
	os.Remove(pauseUntilPath(pidPath))

	pid, err := signalWatcher(pidPath, sigResume)
	if err != nil {
		return err
	}

	cc.Logger.Debug("sent resume signal", "pid", pid)
	cc.Statusf("Watcher (PID %d) resumed\n", pid)

	return nil
}
