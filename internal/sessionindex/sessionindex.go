// Package sessionindex persists a local SQLite table of session
// metadata (id, name, device, started/ended timestamps, log file path)
// so a daemon restart can still answer "what sessions has this host
// run" without replaying every append-only JSONL log. It is a queryable
// index, never the source of truth — the session's own bounded log and
// its on-disk JSONL file remain authoritative for action history.
package sessionindex

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record is one row of the session index.
type Record struct {
	SessionID string
	Name      string
	DeviceID  *string
	StartedAt time.Time
	EndedAt   *time.Time
	LogPath   string
}

// Index wraps a SQLite-backed store of session records.
type Index struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the sessions table exists.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sessionindex: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionindex: set journal mode: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

func createSchema(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			device_id  TEXT,
			started_at DATETIME NOT NULL,
			ended_at   DATETIME,
			log_path   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sessionindex: create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	if idx == nil || idx.db == nil {
		return nil
	}
	return idx.db.Close()
}

// Create inserts a new row for a session that just started.
func (idx *Index) Create(sessionID, name string, deviceID *string, startedAt time.Time, logPath string) error {
	_, err := idx.db.Exec(
		`INSERT INTO sessions (session_id, name, device_id, started_at, log_path) VALUES (?, ?, ?, ?, ?)`,
		sessionID, name, deviceID, startedAt, logPath,
	)
	if err != nil {
		return fmt.Errorf("sessionindex: create %s: %w", sessionID, err)
	}
	return nil
}

// End sets ended_at for sessionID to endedAt.
func (idx *Index) End(sessionID string, endedAt time.Time) error {
	_, err := idx.db.Exec(`UPDATE sessions SET ended_at = ? WHERE session_id = ?`, endedAt, sessionID)
	if err != nil {
		return fmt.Errorf("sessionindex: end %s: %w", sessionID, err)
	}
	return nil
}

// Get returns the record for sessionID, or nil if no such row exists.
func (idx *Index) Get(sessionID string) (*Record, error) {
	row := idx.db.QueryRow(
		`SELECT session_id, name, device_id, started_at, ended_at, log_path FROM sessions WHERE session_id = ?`,
		sessionID,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessionindex: get %s: %w", sessionID, err)
	}
	return rec, nil
}

// List returns every session row, most recently started first.
func (idx *Index) List() ([]Record, error) {
	rows, err := idx.db.Query(
		`SELECT session_id, name, device_id, started_at, ended_at, log_path FROM sessions ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionindex: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, fmt.Errorf("sessionindex: scan row: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	return scanInto(s)
}

func scanRecordRows(s scanner) (*Record, error) {
	return scanInto(s)
}

func scanInto(s scanner) (*Record, error) {
	var rec Record
	var deviceID sql.NullString
	var endedAt sql.NullTime
	if err := s.Scan(&rec.SessionID, &rec.Name, &deviceID, &rec.StartedAt, &endedAt, &rec.LogPath); err != nil {
		return nil, err
	}
	if deviceID.Valid {
		v := deviceID.String
		rec.DeviceID = &v
	}
	if endedAt.Valid {
		v := endedAt.Time
		rec.EndedAt = &v
	}
	return &rec, nil
}
