package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pvlabs/pivi-assist/internal/domain"
)

// publishTimeout bounds each broker round trip.
const publishTimeout = 5 * time.Second

// Notifier translates transaction lifecycle notifications into
// published envelopes. Publishing happens off the caller's goroutine so
// the reconciliation loop is never blocked on the broker.
type Notifier struct {
	publisher Publisher
	sessionID string
	logger    *slog.Logger
}

// NewNotifier creates a notifier that correlates events by session id.
func NewNotifier(publisher Publisher, sessionID string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		publisher: publisher,
		sessionID: sessionID,
		logger:    logger,
	}
}

// Initiated publishes a transactions.initiated.v1 event.
func (n *Notifier) Initiated(rec *domain.TransactionRecord) {
	n.publish(TypeTransactionInitiated, rec)
}

// Completed publishes a transactions.completed.v1 event.
func (n *Notifier) Completed(rec *domain.TransactionRecord) {
	n.publish(TypeTransactionCompleted, rec)
}

func (n *Notifier) publish(eventType string, rec *domain.TransactionRecord) {
	producer := producerName
	correlation := n.sessionID
	env := Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			Type:          eventType,
			Time:          time.Now(),
			Producer:      &producer,
			CorrelationID: &correlation,
		},
		Data: rec,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := n.publisher.Publish(ctx, eventType, env); err != nil {
			n.logger.Error("failed to publish transaction event",
				"type", eventType, "transaction_id", rec.TransactionID, "error", err)
		}
	}()
}
