package registry

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite so session and chunk metadata
// survive process restarts.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite-backed session store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS chunks (
		session_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		storage_key TEXT NOT NULL,
		size INTEGER NOT NULL,
		uploaded_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`

	_, err := s.db.Exec(query)
	return err
}

// GetSession implements Store.GetSession.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*CaptureSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, status, started_at, ended_at FROM sessions WHERE session_id = ?`,
		sessionID)

	var session CaptureSession
	var status string
	var endedAt sql.NullTime
	if err := row.Scan(&session.SessionID, &status, &session.StartedAt, &endedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	session.Status = CaptureStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		session.EndedAt = &t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, storage_key, size, uploaded_at FROM chunks WHERE session_id = ? ORDER BY idx ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec ChunkRecord
		if err := rows.Scan(&rec.Index, &rec.StorageKey, &rec.Size, &rec.UploadedAt); err != nil {
			return nil, err
		}
		session.Chunks = append(session.Chunks, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &session, nil
}

// SaveSession implements Store.SaveSession.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *CaptureSession) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var endedAt interface{}
	if session.EndedAt != nil {
		endedAt = *session.EndedAt
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO sessions (session_id, status, started_at, ended_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		status = excluded.status,
		started_at = excluded.started_at,
		ended_at = excluded.ended_at
	`, session.SessionID, string(session.Status), session.StartedAt, endedAt)
	return err
}

// UpsertChunk implements Store.UpsertChunk.
func (s *SQLiteStore) UpsertChunk(ctx context.Context, sessionID string, rec ChunkRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrSessionNotFound
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO chunks (session_id, idx, storage_key, size, uploaded_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_id, idx) DO UPDATE SET
		storage_key = excluded.storage_key,
		size = excluded.size,
		uploaded_at = excluded.uploaded_at
	`, sessionID, rec.Index, rec.StorageKey, rec.Size, rec.UploadedAt)
	return err
}

// RecordingCount implements Store.RecordingCount.
func (s *SQLiteStore) RecordingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE status = ?`, string(StatusRecording)).Scan(&n)
	return n, err
}

// Close implements Store.Close.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
