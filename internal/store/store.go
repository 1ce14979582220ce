// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/pvlabs/pivi-assist/internal/domain"
)

// Repository defines the interface for persisting session and
// transaction audit data.
type Repository interface {
	// GetSession retrieves a session by its ID. Returns nil when the
	// session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.AssistSession, error)

	// UpsertSession creates or updates a session record.
	UpsertSession(ctx context.Context, session *domain.AssistSession) error

	// TouchSession updates the last_seen_at timestamp for a session.
	TouchSession(ctx context.Context, sessionID string, lastSeen time.Time) error

	// CloseSession marks a session as disconnected.
	CloseSession(ctx context.Context, sessionID string, at time.Time) error

	// GetIdleSessions retrieves active sessions idle longer than ttl.
	GetIdleSessions(ctx context.Context, ttl time.Duration) ([]*domain.AssistSession, error)

	// SaveTransaction writes the current state of a transaction. Called
	// on every lifecycle change; the row is keyed by transaction id.
	SaveTransaction(ctx context.Context, sessionID string, rec *domain.TransactionRecord) error

	// ListTransactions retrieves all transactions recorded for a session,
	// newest first.
	ListTransactions(ctx context.Context, sessionID string) ([]*domain.TransactionRecord, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
