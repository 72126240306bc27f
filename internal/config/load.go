package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file loaded",
		slog.String("path", path),
		slog.Int("keys", len(md.Keys())),
	)

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// the defaults.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("no config file, using defaults", slog.String("path", path))
		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// ConfigPath picks the config file path: CLI > env > default.
func ConfigPath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Resolved, error) {
	cfgPath := ConfigPath(env, cli)

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, env)
	applyCLI(cfg, cli)

	// Overrides bypass the file-level validation in Load.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	resolved, err := newResolved(cfg, cfgPath)
	if err != nil {
		return nil, err
	}

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	logger.Debug("config resolved",
		slog.String("config_path", cfgPath),
		slog.String("container_id", resolved.ContainerID),
		slog.String("source", resolved.Source),
	)

	return resolved, nil
}

func applyEnv(cfg *Config, env EnvOverrides) {
	if env.ContainerID != "" {
		cfg.ContainerID = env.ContainerID
	}

	if env.CloudRoot != "" {
		cfg.CloudRoot = env.CloudRoot
	}
}

func applyCLI(cfg *Config, cli CLIOverrides) {
	if cli.ContainerID != nil {
		cfg.ContainerID = *cli.ContainerID
	}

	if cli.FileType != nil {
		cfg.FileType = *cli.FileType
	}

	if cli.CloudRoot != nil {
		cfg.CloudRoot = *cli.CloudRoot
	}

	if cli.Source != nil {
		cfg.Source = *cli.Source
	}
}
