// Package sqlite provides a SQLite-backed implementation of
// audit.Repository.
//
// WAL mode is enabled on Open so that readers never block writers:
// the orchestrator appends while the gateway's trail endpoints read.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stackvest/strategy-sagas/internal/audit"

	// Register the pure-Go SQLite driver. modernc.org/sqlite avoids CGO,
	// which keeps the Docker build on Alpine trivial.
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on startup. The table is append-only:
// each row is one immutable audit entry.
const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,

    -- Component that recorded the entry (e.g. "execution-coordinator").
    source          TEXT        NOT NULL,

    -- Closed action tag, see audit.Action.
    action          TEXT        NOT NULL,

    -- Optional business identifiers for filtered queries.
    user_id         TEXT        NOT NULL DEFAULT '',
    transaction_id  TEXT        NOT NULL DEFAULT '',

    -- Free-text details.
    details         TEXT        NOT NULL DEFAULT '',

    -- RFC3339 stored as TEXT, SQLite idiom.
    recorded_at     TEXT        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_entries(user_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_entries(action, recorded_at);
`

// Repository is the SQLite implementation of audit.Repository.
type Repository struct {
	db *sql.DB
}

var _ audit.Repository = (*Repository)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close releases the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Save inserts one audit entry. Safe to call concurrently.
func (r *Repository) Save(ctx context.Context, e audit.Entry) error {
	const q = `
		INSERT INTO audit_entries
			(source, action, user_id, transaction_id, details, recorded_at)
		VALUES
			(?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		e.Source,
		string(e.Action),
		e.UserID,
		e.TransactionID,
		e.Details,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save audit entry %q: %w", e.Action, err)
	}
	return nil
}

// Recent returns at most limit of the newest entries, oldest first.
// The table is append-only, so the AUTOINCREMENT id is the insertion
// order; the RFC3339Nano text column is not safely sortable because Go
// trims trailing fraction zeros.
func (r *Repository) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	const q = `
		SELECT source, action, user_id, transaction_id, details, recorded_at
		FROM   audit_entries
		ORDER  BY id DESC
		LIMIT  ?`
	return r.query(ctx, q, limit)
}

// RecentByUser returns at most limit of the newest entries for one
// user, oldest first.
func (r *Repository) RecentByUser(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	const q = `
		SELECT source, action, user_id, transaction_id, details, recorded_at
		FROM   audit_entries
		WHERE  user_id = ?
		ORDER  BY id DESC
		LIMIT  ?`
	return r.query(ctx, q, userID, limit)
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]audit.Entry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var recordedAt string
		if err := rows.Scan(&e.Source, &e.Action, &e.UserID, &e.TransactionID, &e.Details, &recordedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse time %q: %w", recordedAt, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate audit entries: %w", err)
	}

	// Rows arrive newest first; callers expect chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
