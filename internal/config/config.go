// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for cloudmon. Values follow a four-layer
// override chain: defaults -> config file -> environment -> CLI flags.
package config

// Config is the top-level configuration parsed from a TOML file. All keys
// are flat; the embedded sections only group related fields.
type Config struct {
	MonitorConfig
	SourceConfig
	LoggingConfig
	JournalConfig
}

// MonitorConfig identifies what is monitored and where the cloud lives.
type MonitorConfig struct {
	ContainerID   string `toml:"container_id"`
	FileType      string `toml:"file_type"`
	CloudRoot     string `toml:"cloud_root"`
	IdentityToken string `toml:"identity_token"`
	Language      string `toml:"language"`
}

// SourceConfig selects and tunes the change source.
type SourceConfig struct {
	Source         string `toml:"source"`
	NotifyURL      string `toml:"notify_url"`
	Debounce       string `toml:"debounce"`
	RescanInterval string `toml:"rescan_interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// JournalConfig controls the event journal written by `watch`.
type JournalConfig struct {
	JournalPath          string `toml:"journal_path"`
	JournalRetentionDays int    `toml:"journal_retention_days"`
}

// Change source kinds.
const (
	SourceLocal     = "local"
	SourceWebSocket = "websocket"
)

// Log formats.
const (
	LogFormatAuto = "auto"
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" (nil) from "explicitly set".
type CLIOverrides struct {
	ConfigPath  string
	ContainerID *string
	FileType    *string
	CloudRoot   *string
	Source      *string
}
