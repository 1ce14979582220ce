package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pvlabs/pivi-assist/internal/domain"
	"github.com/pvlabs/pivi-assist/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS assist_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		room_name TEXT NOT NULL,
		participant_name TEXT NOT NULL,
		connected_at INTEGER NOT NULL,
		disconnected_at INTEGER,
		last_seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON assist_sessions(last_seen_at) WHERE disconnected_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON assist_sessions(user_id);

	CREATE TABLE IF NOT EXISTS transactions (
		transaction_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		receiver TEXT NOT NULL,
		amount INTEGER NOT NULL,
		description TEXT,
		account_number TEXT,
		bank_name TEXT,
		sender_account_number TEXT,
		sender_name TEXT,
		source_account_type TEXT,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_session ON transactions(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSession retrieves a session by its ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.AssistSession, error) {
	query := `
		SELECT session_id, user_id, room_name, participant_name,
		       connected_at, disconnected_at, last_seen_at
		FROM assist_sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	session, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// UpsertSession creates or updates a session record.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.AssistSession) error {
	query := `
	INSERT INTO assist_sessions (session_id, user_id, room_name, participant_name, connected_at, disconnected_at, last_seen_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		room_name = excluded.room_name,
		participant_name = excluded.participant_name,
		disconnected_at = excluded.disconnected_at,
		last_seen_at = excluded.last_seen_at`

	var disconnectedAt interface{}
	if session.DisconnectedAt != nil {
		disconnectedAt = session.DisconnectedAt.Unix()
	}

	err := s.execWithRetry(ctx, query,
		session.SessionID, session.UserID, session.RoomName, session.ParticipantName,
		session.ConnectedAt.Unix(), disconnectedAt, session.LastSeenAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// TouchSession updates the last_seen_at timestamp for a session.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, lastSeen time.Time) error {
	query := `UPDATE assist_sessions SET last_seen_at = ? WHERE session_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchSession affected 0 rows", "session_id", sessionID)
	}
	return nil
}

// CloseSession marks a session as disconnected.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE assist_sessions SET disconnected_at = ?, last_seen_at = ? WHERE session_id = ? AND disconnected_at IS NULL`
	if err := s.execWithRetry(ctx, query, at.Unix(), at.Unix(), sessionID); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// GetIdleSessions retrieves active sessions idle longer than ttl.
func (s *SQLiteStore) GetIdleSessions(ctx context.Context, ttl time.Duration) ([]*domain.AssistSession, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT session_id, user_id, room_name, participant_name,
		       connected_at, disconnected_at, last_seen_at
		FROM assist_sessions WHERE disconnected_at IS NULL AND last_seen_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close idle sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.AssistSession
	for rows.Next() {
		session, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan idle session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idle sessions: %w", err)
	}

	return sessions, nil
}

// SaveTransaction writes the current state of a transaction.
func (s *SQLiteStore) SaveTransaction(ctx context.Context, sessionID string, rec *domain.TransactionRecord) error {
	query := `
	INSERT INTO transactions (
		transaction_id, session_id, receiver, amount, description,
		account_number, bank_name, sender_account_number, sender_name,
		source_account_type, status, created_at, completed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(transaction_id) DO UPDATE SET
		receiver = excluded.receiver,
		amount = excluded.amount,
		description = excluded.description,
		account_number = excluded.account_number,
		bank_name = excluded.bank_name,
		sender_account_number = excluded.sender_account_number,
		sender_name = excluded.sender_name,
		source_account_type = excluded.source_account_type,
		status = excluded.status,
		completed_at = excluded.completed_at`

	var completedAt interface{}
	if rec.CompletedAt != nil {
		completedAt = rec.CompletedAt.Unix()
	}

	err := s.execWithRetry(ctx, query,
		rec.TransactionID, sessionID, rec.Receiver, rec.Amount, rec.Description,
		rec.AccountNumber, rec.BankName, rec.SenderAccountNumber, rec.SenderName,
		rec.SourceAccountType, string(rec.Status), rec.CreatedAt.Unix(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

// ListTransactions retrieves all transactions recorded for a session.
func (s *SQLiteStore) ListTransactions(ctx context.Context, sessionID string) ([]*domain.TransactionRecord, error) {
	query := `
		SELECT transaction_id, receiver, amount, description,
		       account_number, bank_name, sender_account_number, sender_name,
		       source_account_type, status, created_at, completed_at
		FROM transactions WHERE session_id = ? ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transaction rows", "error", closeErr)
		}
	}()

	var records []*domain.TransactionRecord
	for rows.Next() {
		var rec domain.TransactionRecord
		var status string
		var createdAt int64
		var completedAt sql.NullInt64

		if err := rows.Scan(
			&rec.TransactionID, &rec.Receiver, &rec.Amount, &rec.Description,
			&rec.AccountNumber, &rec.BankName, &rec.SenderAccountNumber, &rec.SenderName,
			&rec.SourceAccountType, &status, &createdAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}

		rec.Status = domain.TransactionStatus(status)
		rec.CreatedAt = time.Unix(createdAt, 0)
		if completedAt.Valid {
			ts := time.Unix(completedAt.Int64, 0)
			rec.CompletedAt = &ts
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// execWithRetry runs a write with exponential backoff on SQLite
// concurrency errors.
func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...interface{}) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		_, err = s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			return err
		}
		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("sqlite write conflict, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func scanSession(scan func(dest ...any) error) (*domain.AssistSession, error) {
	var session domain.AssistSession
	var connectedAt, lastSeenAt int64
	var disconnectedAt sql.NullInt64

	err := scan(
		&session.SessionID, &session.UserID, &session.RoomName, &session.ParticipantName,
		&connectedAt, &disconnectedAt, &lastSeenAt,
	)
	if err != nil {
		return nil, err
	}

	session.ConnectedAt = time.Unix(connectedAt, 0)
	session.LastSeenAt = time.Unix(lastSeenAt, 0)
	if disconnectedAt.Valid {
		ts := time.Unix(disconnectedAt.Int64, 0)
		session.DisconnectedAt = &ts
	}
	return &session, nil
}
