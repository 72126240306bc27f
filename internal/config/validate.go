package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/tonimelisma/cloudmon/internal/container"
)

// Validation range constants.
const (
	maxDebounce       = time.Minute
	minRescanInterval = 10 * time.Second
	maxContainerIDLen = 255
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	LogFormatAuto: true, LogFormatText: true, LogFormatJSON: true,
}

// Validate checks all configuration values and returns every error found,
// joined, so users can fix them in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateMonitor(&cfg.MonitorConfig)...)
	errs = append(errs, validateSource(&cfg.SourceConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateJournal(&cfg.JournalConfig)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after all
// override layers are applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	for _, p := range []struct{ key, path string }{
		{"cloud_root", r.CloudRoot},
		{"identity_token", r.IdentityPath},
		{"journal_path", r.JournalPath},
	} {
		if p.path != "" && !filepath.IsAbs(p.path) {
			errs = append(errs, fmt.Errorf("%s: must be absolute after expansion, got %q", p.key, p.path))
		}
	}

	return errors.Join(errs...)
}

func validateMonitor(m *MonitorConfig) []error {
	var errs []error

	id := strings.TrimSpace(m.ContainerID)
	if len(id) > maxContainerIDLen {
		errs = append(errs, fmt.Errorf("container_id: longer than %d characters", maxContainerIDLen))
	}

	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		errs = append(errs, fmt.Errorf("container_id: %q is not a valid identifier", m.ContainerID))
	}

	if _, err := container.ParseFileType(m.FileType); err != nil {
		errs = append(errs, fmt.Errorf("file_type: %w", err))
	}

	if m.CloudRoot == "" {
		errs = append(errs, errors.New("cloud_root: must not be empty"))
	}

	if m.IdentityToken == "" {
		errs = append(errs, errors.New("identity_token: must not be empty"))
	}

	if _, err := language.Parse(m.Language); err != nil {
		errs = append(errs, fmt.Errorf("language: %w", err))
	}

	return errs
}

func validateSource(s *SourceConfig) []error {
	var errs []error

	switch s.Source {
	case SourceLocal:
	case SourceWebSocket:
		errs = append(errs, validateNotifyURL(s.NotifyURL)...)
	default:
		errs = append(errs, fmt.Errorf("source: must be %q or %q, got %q", SourceLocal, SourceWebSocket, s.Source))
	}

	if d, err := time.ParseDuration(s.Debounce); err != nil {
		errs = append(errs, fmt.Errorf("debounce: %w", err))
	} else if d < 0 || d > maxDebounce {
		errs = append(errs, fmt.Errorf("debounce: must be between 0 and %s, got %s", maxDebounce, s.Debounce))
	}

	if d, err := time.ParseDuration(s.RescanInterval); err != nil {
		errs = append(errs, fmt.Errorf("rescan_interval: %w", err))
	} else if d < minRescanInterval {
		errs = append(errs, fmt.Errorf("rescan_interval: must be at least %s, got %s", minRescanInterval, s.RescanInterval))
	}

	return errs
}

func validateNotifyURL(raw string) []error {
	if raw == "" {
		return []error{errors.New("notify_url: required when source is \"websocket\"")}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("notify_url: %w", err)}
	}

	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return []error{fmt.Errorf("notify_url: scheme must be ws, wss, http or https, got %q", u.Scheme)}
	}

	if u.Host == "" {
		return []error{fmt.Errorf("notify_url: missing host in %q", raw)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateJournal(j *JournalConfig) []error {
	var errs []error

	if j.JournalPath == "" {
		errs = append(errs, errors.New("journal_path: must not be empty"))
	}

	if j.JournalRetentionDays < 0 {
		errs = append(errs, fmt.Errorf("journal_retention_days: must be >= 0, got %d", j.JournalRetentionDays))
	}

	return errs
}
