package changesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/cloudmon/internal/container"
)

// placeholderSuffix marks a cloud placeholder for an item that exists in the
// container but has not been downloaded: ".<name>.icloud".
const placeholderSuffix = ".icloud"

// Snapshot is the observed set keyed by item path.
type Snapshot map[string]Item

// excludedSuffixes lists temporaries written while a file is being transferred
// or edited; they are never reported.
var excludedSuffixes = []string{".partial", ".tmp", ".swp", ".crdownload", ".download"}

// logicalName maps an on-disk name to the item name it represents and its
// download status. ok is false for names that are never reported.
func logicalName(name string) (logical string, status Status, ok bool) {
	name = nfcNormalize(name)

	if strings.HasPrefix(name, ".") {
		if strings.HasSuffix(name, placeholderSuffix) && len(name) > len("."+placeholderSuffix) {
			inner := strings.TrimSuffix(strings.TrimPrefix(name, "."), placeholderSuffix)
			if inner == "" {
				return "", "", false
			}

			return inner, StatusNotDownloaded, true
		}

		return "", "", false
	}

	if strings.HasPrefix(name, "~") {
		return "", "", false
	}

	lower := strings.ToLower(name)
	for _, ext := range excludedSuffixes {
		if strings.HasSuffix(lower, ext) {
			return "", "", false
		}
	}

	return name, StatusCurrent, true
}

// scanDir walks dir and returns every item matching fileType. Entries that
// vanish mid-walk are skipped. When both a placeholder and the downloaded
// file exist for the same item, the downloaded file wins.
func scanDir(ctx context.Context, dir string, fileType container.FileType, logger *slog.Logger) (Snapshot, error) {
	snap := make(Snapshot)

	err := filepath.WalkDir(dir, func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if fsPath == dir {
				return walkErr
			}

			logger.Debug("scan: skipping unreadable entry",
				slog.String("path", fsPath), slog.String("error", walkErr.Error()))

			return skipEntry(d)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if fsPath == dir {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return skipEntry(d)
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}

			return nil
		}

		name, status, ok := logicalName(d.Name())
		if !ok || !fileType.Matches(name) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // file disappeared between readdir and stat
		}

		relDir, err := filepath.Rel(dir, filepath.Dir(fsPath))
		if err != nil {
			return fmt.Errorf("changesource: relative path for %s: %w", fsPath, err)
		}

		relPath := nfcNormalize(filepath.ToSlash(filepath.Join(relDir, name)))

		if existing, seen := snap[relPath]; seen && existing.Status == StatusCurrent {
			return nil
		}

		item := Item{
			Path:    relPath,
			Name:    name,
			Status:  status,
			ModTime: info.ModTime(),
		}

		// A placeholder's own size is its stub, not the item's.
		if status == StatusCurrent {
			item.Size = info.Size()
		}

		snap[relPath] = item

		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("changesource: scan canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("changesource: scanning %s: %w", dir, err)
	}

	return snap, nil
}

// NewSnapshot indexes items by path.
func NewSnapshot(items []Item) Snapshot {
	snap := make(Snapshot, len(items))
	for _, it := range items {
		snap[it.Path] = it
	}

	return snap
}

// Items returns the snapshot's items sorted by path.
func (s Snapshot) Items() []Item {
	items := make([]Item, 0, len(s))
	for _, it := range s {
		items = append(items, it)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Path < items[j].Path
	})

	return items
}

// Diff computes the changes from prev to s. Each slice is sorted by path.
func (s Snapshot) Diff(prev Snapshot) Delta {
	var d Delta

	for path, it := range s {
		old, ok := prev[path]

		switch {
		case !ok:
			d.Added = append(d.Added, it)
		case !sameItem(old, it):
			d.Modified = append(d.Modified, it)
		}
	}

	for path, it := range prev {
		if _, ok := s[path]; !ok {
			d.Removed = append(d.Removed, it)
		}
	}

	sortItems(d.Added)
	sortItems(d.Modified)
	sortItems(d.Removed)

	return d
}

func sameItem(a, b Item) bool {
	return a.Size == b.Size && a.Status == b.Status && a.ModTime.Equal(b.ModTime)
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Path < items[j].Path
	})
}

// snapshotOf builds a Snapshot from a list of items, dropping items that do
// not match fileType.
func snapshotOf(items []Item, fileType container.FileType) Snapshot {
	snap := make(Snapshot, len(items))

	for _, it := range items {
		it.Path = nfcNormalize(it.Path)
		it.Name = nfcNormalize(it.Name)

		if it.Name == "" {
			it.Name = filepath.Base(filepath.FromSlash(it.Path))
		}

		if it.Status == "" {
			it.Status = StatusCurrent
		}

		if !fileType.Matches(it.Name) {
			continue
		}

		snap[it.Path] = it
	}

	return snap
}

// nfcNormalize converts a string to NFC form. Providers on macOS report
// names in NFD; comparisons and output use NFC.
func nfcNormalize(s string) string {
	return norm.NFC.String(s)
}

func skipEntry(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}

	return nil
}

// errNotDirectory is returned when a subscription targets a regular file.
var errNotDirectory = errors.New("changesource: not a directory")
