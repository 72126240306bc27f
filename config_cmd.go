package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cloudmon/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "init",
		Short:       "Write a commented config file template",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigInit,
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one key in the config file",
		Long: `Set one top-level key in the config file, creating the file from the
template if needed. An edit that leaves the file invalid is rolled back.

Examples:
  cloudmon config set container_id iCloud.com.example.app
  cloudmon config set file_type kml`,
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigSet,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(cc.Cfg)
	}

	return config.RenderEffective(cc.Cfg, os.Stdout)
}

// configFilePermissions matches the permissions config init writes with.
const configFilePermissions = 0o644

// configFilePath is the path config init/set operate on: --config, then
// CLOUDMON_CONFIG, then the default location.
func configFilePath(cc *CLIContext) string {
	return config.ConfigPath(config.ReadEnvOverrides(cc.Logger), config.CLIOverrides{ConfigPath: cc.Flags.ConfigPath})
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	path := configFilePath(cc)

	if err := config.WriteTemplate(path); err != nil {
		return err
	}

	cc.Statusf("Wrote %s\n", path)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	path := configFilePath(cc)

	prev, readErr := os.ReadFile(path)
	if readErr != nil && !errors.Is(readErr, fs.ErrNotExist) {
		return fmt.Errorf("reading config file: %w", readErr)
	}

	if err := config.SetKey(path, args[0], args[1]); err != nil {
		return err
	}

	if _, err := config.Load(path, cc.Logger); err != nil {
		restoreConfig(path, prev, readErr == nil, cc)

		return fmt.Errorf("not setting %s: %w", args[0], err)
	}

	cc.Statusf("Set %s in %s\n", args[0], path)

	return nil
}

// restoreConfig undoes a rejected edit.
func restoreConfig(path string, prev []byte, existed bool, cc *CLIContext) {
	var err error
	if existed {
		err = os.WriteFile(path, prev, configFilePermissions)
	} else {
		err = os.Remove(path)
	}

	if err != nil {
		cc.Logger.Warn("restoring config file failed", "path", path, "error", err)
	}
}
