package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/scam-honeypot/internal/domain"
	"github.com/ashureev/scam-honeypot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes session writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		scam_detected INTEGER NOT NULL DEFAULT 0,
		scam_type TEXT,
		total_messages INTEGER NOT NULL DEFAULT 0,
		history_json TEXT NOT NULL,
		intelligence_json TEXT NOT NULL,
		agent_notes TEXT NOT NULL DEFAULT '',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		intelligence_revision INTEGER NOT NULL DEFAULT 0,
		notes_revision INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		finalized_at INTEGER,
		version INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return s.addColumnIfMissing("sessions", "version", "INTEGER NOT NULL DEFAULT 0")
}

// addColumnIfMissing upgrades databases created before column existed.
func (s *SQLiteStore) addColumnIfMissing(table, column, decl string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan %s column: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s columns: %w", table, err)
	}
	if _, err := s.db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` ` + decl); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const sessionColumns = `session_id, status, scam_detected, scam_type, total_messages,
	history_json, intelligence_json, agent_notes, metadata_json,
	intelligence_revision, notes_revision, created_at, updated_at, finalized_at, version`

const insertSession = `INSERT INTO sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	args, err := sessionArgs(session, 1)
	if err != nil {
		return err
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	err = shared.RetryOnConflict(ctx, "create session", shared.DefaultRetryPolicy, func() error {
		if _, err := s.db.ExecContext(ctx, insertSession, args...); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	session.Version = 1
	return nil
}

// UpsertSession writes session when its version matches the stored record.
// The version check lives in the statement itself so writers in other
// processes sharing the database file are fenced too.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.Session) error {
	next := session.Version + 1
	args, err := sessionArgs(session, next)
	if err != nil {
		return err
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	var query string
	if session.Version == 0 {
		query = insertSession + ` ON CONFLICT(session_id) DO NOTHING`
	} else {
		// Columns after session_id in insert order, then the id and the
		// expected version.
		query = `
		UPDATE sessions SET
			status = ?, scam_detected = ?, scam_type = ?, total_messages = ?,
			history_json = ?, intelligence_json = ?, agent_notes = ?, metadata_json = ?,
			intelligence_revision = ?, notes_revision = ?, created_at = ?, updated_at = ?,
			finalized_at = ?, version = ?
		WHERE session_id = ? AND version = ?`
		args = append(args[1:], session.SessionID, session.Version)
	}

	var rows int64
	err = shared.RetryOnConflict(ctx, "upsert session", shared.DefaultRetryPolicy, func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		rows, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("upsert session %s: %w", session.SessionID, domain.ErrVersionConflict)
	}
	session.Version = next
	return nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = ?`
	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSession removes a session record.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	var rows int64
	err := shared.RetryOnConflict(ctx, "delete session", shared.DefaultRetryPolicy, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		rows, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ListSessions returns sessions ordered by most recent update.
func (s *SQLiteStore) ListSessions(ctx context.Context, opts ListOptions) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []interface{}
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY updated_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// GetIdleSessions returns ids of sessions not updated within ttl.
func (s *SQLiteStore) GetIdleSessions(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close idle session rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan idle session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idle sessions: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		session                          domain.Session
		status                           string
		scamType                         sql.NullString
		historyJSON, intelJSON, metaJSON string
		createdAt, updatedAt             int64
		finalizedAt                      sql.NullInt64
	)

	err := row.Scan(
		&session.SessionID, &status, &session.ScamDetected, &scamType, &session.TotalMessagesExchanged,
		&historyJSON, &intelJSON, &session.AgentNotes, &metaJSON,
		&session.IntelligenceRevision, &session.NotesRevision, &createdAt, &updatedAt, &finalizedAt,
		&session.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.Status = domain.Status(status)
	if scamType.Valid {
		t := scamType.String
		session.ScamType = &t
	}
	if err := json.Unmarshal([]byte(historyJSON), &session.ConversationHistory); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if session.ConversationHistory == nil {
		session.ConversationHistory = []domain.Message{}
	}
	if err := json.Unmarshal([]byte(intelJSON), &session.ExtractedIntelligence); err != nil {
		return nil, fmt.Errorf("decode intelligence: %w", err)
	}
	session.ExtractedIntelligence = session.ExtractedIntelligence.Normalize()
	if err := json.Unmarshal([]byte(metaJSON), &session.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	session.CreatedAt = time.UnixMilli(createdAt)
	session.UpdatedAt = time.UnixMilli(updatedAt)
	if finalizedAt.Valid {
		ts := time.UnixMilli(finalizedAt.Int64)
		session.FinalizedAt = &ts
	}
	return &session, nil
}

// sessionArgs returns column values in sessionColumns order, storing version
// as the record's version.
func sessionArgs(session *domain.Session, version int64) ([]interface{}, error) {
	history := session.ConversationHistory
	if history == nil {
		history = []domain.Message{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	intelJSON, err := json.Marshal(session.ExtractedIntelligence.Normalize())
	if err != nil {
		return nil, fmt.Errorf("encode intelligence: %w", err)
	}
	metaJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	var scamType interface{}
	if session.ScamType != nil {
		scamType = *session.ScamType
	}
	var finalizedAt interface{}
	if session.FinalizedAt != nil {
		finalizedAt = session.FinalizedAt.UnixMilli()
	}
	updatedAt := session.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}

	return []interface{}{
		session.SessionID, string(session.Status), session.ScamDetected, scamType, session.TotalMessagesExchanged,
		string(historyJSON), string(intelJSON), session.AgentNotes, string(metaJSON),
		session.IntelligenceRevision, session.NotesRevision, createdAt.UnixMilli(), updatedAt.UnixMilli(), finalizedAt,
		version,
	}, nil
}
