package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/tonimelisma/cloudmon/internal/container"
)

// ErrNoContainer is returned by RequireContainer when no container
// identifier was configured at any layer.
var ErrNoContainer = errors.New("config: no container_id configured (set it in the config file, " +
	EnvContainerID + ", or --container)")

// hoursPerDay converts retention days to a duration.
const hoursPerDay = 24

// Resolved is the fully merged, parsed configuration.
type Resolved struct {
	ConfigPath string

	ContainerID  string
	FileType     container.FileType
	CloudRoot    string
	IdentityPath string
	Language     language.Tag

	Source         string
	NotifyURL      string
	Debounce       time.Duration
	RescanInterval time.Duration

	LogLevel  slog.Level
	LogFormat string

	JournalPath      string
	JournalRetention time.Duration // 0 keeps entries forever
}

// RequireContainer reports ErrNoContainer if ContainerID is empty.
func (r *Resolved) RequireContainer() error {
	if r.ContainerID == "" {
		return ErrNoContainer
	}

	return nil
}

// newResolved parses a validated Config.
func newResolved(cfg *Config, cfgPath string) (*Resolved, error) {
	fileType, err := container.ParseFileType(cfg.FileType)
	if err != nil {
		return nil, fmt.Errorf("file_type: %w", err)
	}

	debounce, err := time.ParseDuration(cfg.Debounce)
	if err != nil {
		return nil, fmt.Errorf("debounce: %w", err)
	}

	rescan, err := time.ParseDuration(cfg.RescanInterval)
	if err != nil {
		return nil, fmt.Errorf("rescan_interval: %w", err)
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	tag, err := language.Parse(cfg.Language)
	if err != nil {
		return nil, fmt.Errorf("language: %w", err)
	}

	return &Resolved{
		ConfigPath:       cfgPath,
		ContainerID:      strings.TrimSpace(cfg.ContainerID),
		FileType:         fileType,
		CloudRoot:        expandTilde(cfg.CloudRoot),
		IdentityPath:     expandTilde(cfg.IdentityToken),
		Language:         tag,
		Source:           cfg.Source,
		NotifyURL:        cfg.NotifyURL,
		Debounce:         debounce,
		RescanInterval:   rescan,
		LogLevel:         level,
		LogFormat:        cfg.LogFormat,
		JournalPath:      expandTilde(cfg.JournalPath),
		JournalRetention: time.Duration(cfg.JournalRetentionDays) * hoursPerDay * time.Hour,
	}, nil
}

// parseLevel maps a log_level value to a slog.Level.
func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}

	return level, nil
}
