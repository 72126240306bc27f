// Package journal persists what a monitor observed: one row per delivered
// notification or lifecycle transition, plus the last known item set per
// container. The CLI reads it back for `status` and `history`.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/cloudmon/internal/changesource"
	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

// Entry kinds.
const (
	KindSnapshot = "snapshot"
	KindUpdate   = "update"
	KindError    = "error"
	KindState    = "state"
)

const (
	sqlInsertEvent = `INSERT INTO events
		(session_id, container_id, kind, item_count, added, modified, removed,
		 error_kind, error_code, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlDeleteItems = `DELETE FROM items WHERE container_id = ?`

	sqlInsertItem = `INSERT INTO items (container_id, path, name, size, mtime, status)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlSelectItems = `SELECT path, name, size, mtime, status FROM items
		WHERE container_id = ? ORDER BY path`

	sqlSelectHistory = `SELECT id, session_id, container_id, kind, item_count,
		added, modified, removed, error_kind, error_code, detail, recorded_at
		FROM events
		WHERE (? = '' OR container_id = ?) AND recorded_at >= ?
		ORDER BY id DESC LIMIT ?`

	sqlPrune = `DELETE FROM events WHERE recorded_at < ?`
)

// dirPerms is used when creating the journal's parent directory.
const dirPerms = 0o700

// DefaultHistoryLimit caps History when Filter.Limit is zero.
const DefaultHistoryLimit = 50

// Entry is one journal row.
type Entry struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	ContainerID string    `json:"container_id"`
	Kind        string    `json:"kind"`
	ItemCount   int       `json:"item_count"`
	Added       int       `json:"added,omitempty"`
	Modified    int       `json:"modified,omitempty"`
	Removed     int       `json:"removed,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	ErrorCode   int       `json:"error_code,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Filter narrows History. Zero values mean no restriction.
type Filter struct {
	ContainerID string
	Since       time.Time
	Limit       int
}

// Journal is the sole writer to the journal database.
type Journal struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the journal database at path and applies
// pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return nil, fmt.Errorf("journal: creating directory for %s: %w", path, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("journal opened", slog.String("path", path))

	return &Journal{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("journal: closing database: %w", err)
	}

	return nil
}

// RecordSnapshot stores an initial snapshot and replaces the container's
// known item set.
func (j *Journal) RecordSnapshot(ctx context.Context, sessionID, containerID string, items []changesource.Item) error {
	return j.recordItems(ctx, Entry{
		SessionID:   sessionID,
		ContainerID: containerID,
		Kind:        KindSnapshot,
		ItemCount:   len(items),
	}, items)
}

// RecordUpdate stores an update and replaces the container's known item set.
func (j *Journal) RecordUpdate(
	ctx context.Context, sessionID, containerID string, items []changesource.Item, delta changesource.Delta,
) error {
	return j.recordItems(ctx, Entry{
		SessionID:   sessionID,
		ContainerID: containerID,
		Kind:        KindUpdate,
		ItemCount:   len(items),
		Added:       len(delta.Added),
		Modified:    len(delta.Modified),
		Removed:     len(delta.Removed),
	}, items)
}

// RecordError stores a delivered synchronization error.
func (j *Journal) RecordError(ctx context.Context, sessionID, containerID string, se *syncerr.Error) error {
	e := Entry{
		SessionID:   sessionID,
		ContainerID: containerID,
		Kind:        KindError,
		ErrorKind:   se.Kind.String(),
		ErrorCode:   int(se.Code),
	}

	if se.Err != nil {
		e.Detail = se.Err.Error()
	}

	return j.insert(ctx, j.db, e)
}

// RecordState stores a lifecycle transition such as "started" or "paused".
func (j *Journal) RecordState(ctx context.Context, sessionID, containerID, state string) error {
	return j.insert(ctx, j.db, Entry{
		SessionID:   sessionID,
		ContainerID: containerID,
		Kind:        KindState,
		Detail:      state,
	})
}

func (j *Journal) recordItems(ctx context.Context, e Entry, items []changesource.Item) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if err := j.insert(ctx, tx, e); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, sqlDeleteItems, e.ContainerID); err != nil {
		return fmt.Errorf("journal: clearing items for %s: %w", e.ContainerID, err)
	}

	for i := range items {
		it := &items[i]

		if _, err := tx.ExecContext(ctx, sqlInsertItem,
			e.ContainerID, it.Path, it.Name, it.Size, it.ModTime.UnixNano(), string(it.Status),
		); err != nil {
			return fmt.Errorf("journal: storing item %s: %w", it.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal: committing %s: %w", e.Kind, err)
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (j *Journal) insert(ctx context.Context, db execer, e Entry) error {
	var (
		errKind sql.NullString
		errCode sql.NullInt64
		detail  sql.NullString
	)

	if e.ErrorKind != "" {
		errKind = sql.NullString{String: e.ErrorKind, Valid: true}
		errCode = sql.NullInt64{Int64: int64(e.ErrorCode), Valid: true}
	}

	if e.Detail != "" {
		detail = sql.NullString{String: e.Detail, Valid: true}
	}

	_, err := db.ExecContext(ctx, sqlInsertEvent,
		e.SessionID, e.ContainerID, e.Kind, e.ItemCount, e.Added, e.Modified, e.Removed,
		errKind, errCode, detail, j.nowFunc().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("journal: recording %s: %w", e.Kind, err)
	}

	return nil
}

// History returns matching entries, newest first.
func (j *Journal) History(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var since int64
	if !f.Since.IsZero() {
		since = f.Since.UnixNano()
	}

	rows, err := j.db.QueryContext(ctx, sqlSelectHistory, f.ContainerID, f.ContainerID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e          Entry
			errKind    sql.NullString
			errCode    sql.NullInt64
			detail     sql.NullString
			recordedAt int64
		)

		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.ContainerID, &e.Kind, &e.ItemCount,
			&e.Added, &e.Modified, &e.Removed, &errKind, &errCode, &detail, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("journal: scanning history row: %w", err)
		}

		e.ErrorKind = errKind.String
		e.ErrorCode = int(errCode.Int64)
		e.Detail = detail.String
		e.RecordedAt = time.Unix(0, recordedAt).UTC()

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating history rows: %w", err)
	}

	return entries, nil
}

// Items returns the last known item set of a container, sorted by path.
func (j *Journal) Items(ctx context.Context, containerID string) ([]changesource.Item, error) {
	rows, err := j.db.QueryContext(ctx, sqlSelectItems, containerID)
	if err != nil {
		return nil, fmt.Errorf("journal: querying items: %w", err)
	}
	defer rows.Close()

	var items []changesource.Item

	for rows.Next() {
		var (
			it     changesource.Item
			mtime  int64
			status string
		)

		if err := rows.Scan(&it.Path, &it.Name, &it.Size, &mtime, &status); err != nil {
			return nil, fmt.Errorf("journal: scanning item row: %w", err)
		}

		it.ModTime = time.Unix(0, mtime).UTC()
		it.Status = changesource.Status(status)
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating item rows: %w", err)
	}

	return items, nil
}

// Prune deletes entries recorded before cutoff and reports how many were
// removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, sqlPrune, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("journal: pruning: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("journal: pruning: %w", err)
	}

	if n > 0 {
		j.logger.Info("pruned journal", slog.Int64("deleted", n), slog.Time("cutoff", cutoff))
	}

	return n, nil
}

// ErrNoJournal is returned by OpenExisting when no journal has been written.
var ErrNoJournal = errors.New("journal: no journal found")

// OpenExisting opens a journal only if its file already exists, for
// read-only commands that should not create one.
func OpenExisting(ctx context.Context, path string, logger *slog.Logger) (*Journal, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoJournal
		}

		return nil, fmt.Errorf("journal: checking %s: %w", path, err)
	}

	return Open(ctx, path, logger)
}
