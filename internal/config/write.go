package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is the permission mode for config files.
const configFilePermissions = 0o644

// configDirPermissions is the permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteTemplate when the file already exists.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate is written by `config init`. Every key is present as a
// commented-out default so users can discover options without docs.
const configTemplate = `# cloudmon configuration

# Cloud container to monitor, e.g. "iCloud.com.example.maps".
# container_id = ""

# Monitored file kind: kml, kmz, kmb, gpx, any
# file_type = "any"

# Directory holding provider containers.
# cloud_root = ""

# Identity token file written by "cloudmon signin".
# identity_token = ""

# Language for error descriptions (BCP 47).
# language = "en"

# Change source: "local" watches cloud_root, "websocket" subscribes to notify_url.
# source = "local"
# notify_url = ""

# Quiet period before a burst of file events becomes one update.
# debounce = "250ms"

# Full rescan interval for the local source.
# rescan_interval = "5m"

# Log verbosity: debug, info, warn, error
# log_level = "info"

# Log format: auto (colored on a terminal, JSON otherwise), text, json
# log_format = "auto"

# Event journal recorded by "cloudmon watch".
# journal_path = ""
# journal_retention_days = 30
`

// WriteTemplate creates a commented config file at path. It refuses to
// overwrite an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	return atomicWriteFile(path, []byte(configTemplate))
}

// SetKey sets key = value in the config file at path, creating the file from
// the template if needed. An existing line for the key (commented or not) is
// replaced in place; otherwise the line is appended. The edit is textual so
// user comments survive.
func SetKey(path, key, value string) error {
	if !knownKeys[key] {
		return unknownKeyError(key)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = []byte(configTemplate)
	} else if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	newLine := key + " = " + formatTOMLValue(value)

	var (
		lines    []string
		replaced bool
	)

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := sc.Text()

		if !replaced && lineSetsKey(line, key) {
			line = newLine
			replaced = true
		}

		lines = append(lines, line)
	}

	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if !replaced {
		lines = append(lines, newLine)
	}

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")+"\n"))
}

// lineSetsKey matches "key = ..." and "# key = ...".
func lineSetsKey(line, key string) bool {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))

	name, _, ok := strings.Cut(trimmed, "=")

	return ok && strings.TrimSpace(name) == key
}

// formatTOMLValue writes integers bare and everything else quoted.
func formatTOMLValue(value string) string {
	if value != "" && strings.Trim(value, "0123456789") == "" {
		return value
	}

	return fmt.Sprintf("%q", value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it over path. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
