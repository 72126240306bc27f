package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration to w as annotated TOML.
// This powers `config show`.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", displayPath(r.ConfigPath))

	ew.printf("# monitor\n")
	ew.printf("container_id   = %q\n", r.ContainerID)
	ew.printf("file_type      = %q\n", r.FileType)
	ew.printf("cloud_root     = %q\n", r.CloudRoot)
	ew.printf("identity_token = %q\n", r.IdentityPath)
	ew.printf("language       = %q\n\n", r.Language.String())

	ew.printf("# change source\n")
	ew.printf("source          = %q\n", r.Source)

	if r.NotifyURL != "" {
		ew.printf("notify_url      = %q\n", r.NotifyURL)
	}

	ew.printf("debounce        = %q\n", r.Debounce.String())
	ew.printf("rescan_interval = %q\n\n", r.RescanInterval.String())

	ew.printf("# logging\n")
	ew.printf("log_level  = %q\n", levelName(r))
	ew.printf("log_format = %q\n\n", r.LogFormat)

	ew.printf("# journal\n")
	ew.printf("journal_path           = %q\n", r.JournalPath)
	ew.printf("journal_retention_days = %d\n", int(r.JournalRetention.Hours()/hoursPerDay))

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Later writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func displayPath(p string) string {
	if p == "" {
		return "none"
	}

	return p
}

// levelName renders the level the way log_level spells it.
func levelName(r *Resolved) string {
	return strings.ToLower(r.LogLevel.String())
}
