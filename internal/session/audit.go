package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/pvlabs/pivi-assist/internal/domain"
	"github.com/pvlabs/pivi-assist/internal/events"
	"github.com/pvlabs/pivi-assist/internal/store"
)

// txAudit persists transaction lifecycle changes and forwards them to
// the event notifier. Writes happen off the engine goroutine.
type txAudit struct {
	repo       store.Repository
	sessionKey string
	notifier   *events.Notifier
	logger     *slog.Logger
}

func newTxAudit(repo store.Repository, sessionKey string, notifier *events.Notifier, logger *slog.Logger) *txAudit {
	return &txAudit{
		repo:       repo,
		sessionKey: sessionKey,
		notifier:   notifier,
		logger:     logger,
	}
}

func (a *txAudit) Initiated(rec *domain.TransactionRecord) {
	a.save(rec)
	if a.notifier != nil {
		a.notifier.Initiated(rec)
	}
}

func (a *txAudit) Completed(rec *domain.TransactionRecord) {
	a.save(rec)
	if a.notifier != nil {
		a.notifier.Completed(rec)
	}
}

func (a *txAudit) save(rec *domain.TransactionRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.repo.SaveTransaction(ctx, a.sessionKey, rec); err != nil {
			a.logger.Warn("failed to persist transaction",
				"transaction_id", rec.TransactionID, "error", err)
		}
	}()
}
