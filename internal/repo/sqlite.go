// Package repo persists analyst feedback and the whitelist in SQLite.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/logsentinel/sentinel/internal/models"
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS feedback (
    id               TEXT PRIMARY KEY,
    case_id          TEXT NOT NULL,
    source_id        TEXT NOT NULL DEFAULT '',
    actual_label     TEXT NOT NULL,
    predicted_label  TEXT NOT NULL,
    kind             TEXT NOT NULL,
    notes            TEXT NOT NULL DEFAULT '',
    add_to_whitelist INTEGER NOT NULL DEFAULT 0,
    submitted_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_case ON feedback(case_id);
CREATE INDEX IF NOT EXISTS idx_feedback_submitted_at ON feedback(submitted_at DESC);

CREATE TABLE IF NOT EXISTS whitelist (
    source_id TEXT PRIMARY KEY,
    reason    TEXT NOT NULL DEFAULT '',
    added_at  TEXT NOT NULL
);
`,
	},
}

// SQLiteRepo stores feedback and whitelist rows.
type SQLiteRepo struct {
	db *sql.DB
}

// NewSQLiteRepo opens (creating if needed) the database at path and applies
// pending migrations. Use ":memory:" for an ephemeral database.
func NewSQLiteRepo(path string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	r := &SQLiteRepo{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepo) migrate() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := r.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := r.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := r.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (r *SQLiteRepo) Close() error { return r.db.Close() }

// Ping checks the database is reachable.
func (r *SQLiteRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *SQLiteRepo) SaveFeedback(ctx context.Context, fb models.Feedback) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO feedback (id, case_id, source_id, actual_label, predicted_label, kind, notes, add_to_whitelist, submitted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.CaseID, fb.SourceID, string(fb.ActualLabel), string(fb.PredictedLabel),
		string(fb.Kind), fb.Notes, boolToInt(fb.AddToWhitelist), formatTime(fb.SubmittedAt))
	if err != nil {
		return fmt.Errorf("insert feedback %s: %w", fb.ID, err)
	}
	return nil
}

func (r *SQLiteRepo) ListFeedback(ctx context.Context) ([]models.Feedback, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, case_id, source_id, actual_label, predicted_label, kind, notes, add_to_whitelist, submitted_at
FROM feedback ORDER BY submitted_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []models.Feedback
	for rows.Next() {
		var (
			fb                            models.Feedback
			actual, predicted, kind, when string
			whitelist                     int
		)
		if err := rows.Scan(&fb.ID, &fb.CaseID, &fb.SourceID, &actual, &predicted, &kind, &fb.Notes, &whitelist, &when); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		fb.ActualLabel = models.Label(actual)
		fb.PredictedLabel = models.Label(predicted)
		fb.Kind = models.FeedbackKind(kind)
		fb.AddToWhitelist = whitelist != 0
		if fb.SubmittedAt, err = parseTime(when); err != nil {
			return nil, fmt.Errorf("feedback %s: %w", fb.ID, err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) UpsertWhitelist(ctx context.Context, entry models.WhitelistEntry) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO whitelist (source_id, reason, added_at) VALUES (?, ?, ?)
ON CONFLICT(source_id) DO UPDATE SET reason = excluded.reason, added_at = excluded.added_at`,
		entry.SourceID, entry.Reason, formatTime(entry.AddedAt))
	if err != nil {
		return fmt.Errorf("upsert whitelist %s: %w", entry.SourceID, err)
	}
	return nil
}

func (r *SQLiteRepo) DeleteWhitelist(ctx context.Context, sourceID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM whitelist WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete whitelist %s: %w", sourceID, err)
	}
	return nil
}

func (r *SQLiteRepo) ListWhitelist(ctx context.Context) ([]models.WhitelistEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT source_id, reason, added_at FROM whitelist ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("query whitelist: %w", err)
	}
	defer rows.Close()

	var out []models.WhitelistEntry
	for rows.Next() {
		var (
			entry models.WhitelistEntry
			when  string
		)
		if err := rows.Scan(&entry.SourceID, &entry.Reason, &when); err != nil {
			return nil, fmt.Errorf("scan whitelist: %w", err)
		}
		if entry.AddedAt, err = parseTime(when); err != nil {
			return nil, fmt.Errorf("whitelist %s: %w", entry.SourceID, err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
