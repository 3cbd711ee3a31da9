// Package usagedb is the SQLite ledger for API consumption and
// classification decisions. The JSON stores hold current state; the ledger
// holds history: how many posts this month's budget has spent, and what was
// decided about whom, when.
package usagedb

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite ledger.
type DB struct{ sql *sql.DB }

func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS api_usage (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  ts INTEGER NOT NULL,
	  endpoint TEXT NOT NULL,
	  posts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_ts ON api_usage(ts);
	CREATE TABLE IF NOT EXISTS decisions (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  ts INTEGER NOT NULL,
	  user_id TEXT NOT NULL,
	  username TEXT,
	  outcome TEXT NOT NULL,
	  stage TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts);
	CREATE TABLE IF NOT EXISTS cursors (
	  key TEXT PRIMARY KEY,
	  value TEXT NOT NULL
	);
	`)
	return err
}

// RecordUsage logs posts consumed by one API call.
func (d *DB) RecordUsage(ctx context.Context, ts time.Time, endpoint string, posts int) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO api_usage(ts, endpoint, posts) VALUES(?,?,?)`,
		ts.Unix(), endpoint, posts)
	return err
}

// PostsUsedWithin sums posts consumed in [start, end).
func (d *DB) PostsUsedWithin(ctx context.Context, start, end time.Time) (int, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(posts), 0) FROM api_usage WHERE ts>=? AND ts<?`,
		start.Unix(), end.Unix())
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// RecordDecision logs a classification decision for an account.
func (d *DB) RecordDecision(ctx context.Context, ts time.Time, userID, username, outcome, stage string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO decisions(ts, user_id, username, outcome, stage) VALUES(?,?,?,?,?)`,
		ts.Unix(), userID, username, outcome, stage)
	return err
}

// Decision is one stored classification decision.
type Decision struct {
	TS       time.Time
	UserID   string
	Username string
	Outcome  string
	Stage    string
}

// DecisionsRange returns decisions in [start, end), oldest first.
func (d *DB) DecisionsRange(ctx context.Context, start, end time.Time) ([]Decision, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT ts, user_id, COALESCE(username, ''), outcome, stage FROM decisions WHERE ts>=? AND ts<? ORDER BY ts`,
		start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Decision
	for rows.Next() {
		var ts int64
		var dec Decision
		if err := rows.Scan(&ts, &dec.UserID, &dec.Username, &dec.Outcome, &dec.Stage); err != nil {
			return nil, err
		}
		dec.TS = time.Unix(ts, 0).UTC()
		out = append(out, dec)
	}
	return out, rows.Err()
}

// SaveCursor stores an opaque cursor value under key.
func (d *DB) SaveCursor(ctx context.Context, key, value string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO cursors(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}

// LoadCursor returns the stored cursor value, or "" when absent.
func (d *DB) LoadCursor(ctx context.Context, key string) (string, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT value FROM cursors WHERE key=?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return v, nil
}
