package config

// Layer 0 of the override chain.
const (
	defaultFileType             = "any"
	defaultLanguage             = "en"
	defaultSource               = SourceLocal
	defaultDebounce             = "250ms"
	defaultRescanInterval       = "5m"
	defaultLogLevel             = "info"
	defaultLogFormat            = LogFormatAuto
	defaultJournalRetentionDays = 30
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset keys keep their defaults.
// Path defaults depend on the platform and are filled from paths.go.
func DefaultConfig() *Config {
	return &Config{
		MonitorConfig: MonitorConfig{
			FileType:      defaultFileType,
			CloudRoot:     DefaultCloudRoot(),
			IdentityToken: DefaultIdentityPath(),
			Language:      defaultLanguage,
		},
		SourceConfig: SourceConfig{
			Source:         defaultSource,
			Debounce:       defaultDebounce,
			RescanInterval: defaultRescanInterval,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		JournalConfig: JournalConfig{
			JournalPath:          DefaultJournalPath(),
			JournalRetentionDays: defaultJournalRetentionDays,
		},
	}
}
