package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/macfound/configaudit/pkg/snapshot"
	_ "modernc.org/sqlite"
)

// DB is a sqlite backed versioned snapshot store. Every persisted snapshot is kept, the
// newest row per identifier being the one the next run compares against.
type DB struct {
	sql *sql.DB
}

var _ snapshot.Store = (*DB)(nil)

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS snapshots (
  id                INTEGER PRIMARY KEY,
  repository        TEXT NOT NULL,
  folder            TEXT NOT NULL,
  file_id           TEXT NOT NULL,
  content           TEXT NOT NULL,
  updated_at        TEXT,
  updated_by_first  TEXT,
  updated_by_last   TEXT,
  updated_by_email  TEXT,
  author            TEXT NOT NULL,
  message           TEXT NOT NULL,
  committed_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_snapshots_identity ON snapshots(repository, folder, file_id, id);
CREATE TABLE IF NOT EXISTS config_changes (
  id                INTEGER PRIMARY KEY,
  snapshot_id       INTEGER NOT NULL REFERENCES snapshots(id),
  occurred_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  repository        TEXT NOT NULL,
  folder            TEXT NOT NULL,
  file_id           TEXT NOT NULL,
  record_parent     TEXT NOT NULL,
  record_key        TEXT NOT NULL,
  record_value      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_time ON config_changes(occurred_at);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// GetPrevious returns the newest snapshot stored for id, or nil if there is none.
func (d *DB) GetPrevious(ctx context.Context, id snapshot.Identifier) (*snapshot.Snapshot, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT content, updated_at, updated_by_first, updated_by_last, updated_by_email FROM snapshots WHERE repository = ? AND folder = ? AND file_id = ? ORDER BY id DESC LIMIT 1`, id.Repository, id.Folder, id.FileID)

	var (
		snap                         snapshot.Snapshot
		updatedAt, first, last, mail sql.NullString
	)
	if err := row.Scan(&snap.Raw, &updatedAt, &first, &last, &mail); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", snapshot.ErrStoreUnavailable, id, err)
	}
	snap.Metadata = snapshot.Metadata{
		UpdatedAt: updatedAt.String,
		UpdatedBy: snapshot.User{FirstName: first.String, LastName: last.String, Email: mail.String},
	}
	return &snap, nil
}

// PutCurrent stores snap and the changes that led to it in a single transaction.
func (d *DB) PutCurrent(ctx context.Context, id snapshot.Identifier, snap snapshot.Snapshot, commit snapshot.Commit) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: writing %s: %v", snapshot.ErrStoreWriteFailed, id, err)
		}
	}()

	ts := commit.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	committedAt := ts.UTC().Format(time.RFC3339)

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	u := snap.Metadata.UpdatedBy
	res, err := tx.ExecContext(ctx, `INSERT INTO snapshots(repository, folder, file_id, content, updated_at, updated_by_first, updated_by_last, updated_by_email, author, message, committed_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		id.Repository, id.Folder, id.FileID, snap.Raw, nullIfEmpty(snap.Metadata.UpdatedAt), nullIfEmpty(u.FirstName), nullIfEmpty(u.LastName), nullIfEmpty(u.Email), commit.Author.FullName(), commit.Message, committedAt)
	if err != nil {
		return err
	}
	snapshotID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, c := range commit.Changes {
		_, err = tx.ExecContext(ctx, `INSERT INTO config_changes(snapshot_id, occurred_at, repository, folder, file_id, record_parent, record_key, record_value) VALUES(?,?,?,?,?,?,?,?)`,
			snapshotID, committedAt, id.Repository, id.Folder, id.FileID, c.Parent, c.Key, c.Value)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListRecentChanges returns the most recent N changes across all identifiers.
func (d *DB) ListRecentChanges(ctx context.Context, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 50
	}
	q := "SELECT c.occurred_at, c.repository, c.folder, c.file_id, c.record_parent, c.record_key, c.record_value, s.author FROM config_changes c JOIN snapshots s ON s.id = c.snapshot_id ORDER BY c.occurred_at DESC, c.id DESC LIMIT ?"
	rows, err := d.sql.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var c Change
		var occurredAtStr string
		if err := rows.Scan(&occurredAtStr, &c.Identifier.Repository, &c.Identifier.Folder, &c.Identifier.FileID, &c.Parent, &c.Key, &c.Value, &c.Author); err != nil {
			return nil, err
		}
		c.OccurredAt = parseTimestamp(occurredAtStr)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return changes, nil
}

// ListRevisions returns up to limit stored snapshots for id, newest first.
func (d *DB) ListRevisions(ctx context.Context, id snapshot.Identifier, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx, `SELECT s.id, s.committed_at, s.author, s.message, (SELECT COUNT(*) FROM config_changes c WHERE c.snapshot_id = s.id) FROM snapshots s WHERE s.repository = ? AND s.folder = ? AND s.file_id = ? ORDER BY s.id DESC LIMIT ?`,
		id.Repository, id.Folder, id.FileID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revs []Revision
	for rows.Next() {
		var r Revision
		var committedAt string
		if err := rows.Scan(&r.ID, &committedAt, &r.Author, &r.Message, &r.ChangeCount); err != nil {
			return nil, err
		}
		r.CommittedAt = parseTimestamp(committedAt)
		revs = append(revs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return revs, nil
}

// parseTimestamp accepts sqlite's CURRENT_TIMESTAMP format and RFC3339.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
