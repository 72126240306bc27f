package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig      = "CLOUDMON_CONFIG"
	EnvContainerID = "CLOUDMON_CONTAINER_ID"
	EnvCloudRoot   = "CLOUDMON_CLOUD_ROOT"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string // CLOUDMON_CONFIG
	ContainerID string // CLOUDMON_CONTAINER_ID
	CloudRoot   string // CLOUDMON_CLOUD_ROOT
}

// ReadEnvOverrides reads the environment. It does not modify any Config.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	o := EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		ContainerID: os.Getenv(EnvContainerID),
		CloudRoot:   os.Getenv(EnvCloudRoot),
	}

	logger.Debug("environment overrides",
		slog.String("config_path", o.ConfigPath),
		slog.String("container_id", o.ContainerID),
		slog.String("cloud_root", o.CloudRoot),
	)

	return o
}
