// Package identity provides the cloud identity token that proves an account
// is signed in, and the availability probe the monitor consults before
// starting. The token is owned by the platform; this package only reads it,
// except for the sign-in/sign-out helpers used by the CLI.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts identity files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the identity directory.
const DirPerms = 0o700

// Identity is the on-disk form of a signed-in cloud account.
type Identity struct {
	Account string        `json:"account"`
	Token   *oauth2.Token `json:"token"`
}

// Load reads an identity file. Returns (nil, nil) if the file does not exist.
// A file without a usable token is treated as absent rather than an error,
// since a signed-out platform may leave an emptied file behind.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not signed in"
	}

	if err != nil {
		return nil, fmt.Errorf("identity: reading %s: %w", path, err)
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("identity: decoding %s: %w", path, err)
	}

	if id.Token == nil || id.Token.AccessToken == "" {
		return nil, nil //nolint:nilnil // token cleared
	}

	return &id, nil
}

// Save writes an identity file atomically (write-to-temp + rename) with 0600
// permissions. Never logs token values.
func Save(path string, id *Identity) error {
	if id == nil || id.Token == nil || id.Token.AccessToken == "" {
		return errors.New("identity: refusing to save an empty token")
	}

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("identity: creating directory %s: %w", dir, mkErr)
	}

	tmp, err := os.CreateTemp(dir, ".identity-*.tmp")
	if err != nil {
		return fmt.Errorf("identity: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("identity: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("identity: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the identity file. Removing an absent file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("identity: removing %s: %w", path, err)
	}

	return nil
}
