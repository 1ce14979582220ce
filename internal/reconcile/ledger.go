package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pvlabs/pivi-assist/internal/domain"
)

var (
	// ErrMissingTransactionID is returned when an init or done event
	// omits the required correlation id. No record is created or
	// mutated in that case.
	ErrMissingTransactionID = errors.New("transaction_id is required")
	// ErrUnknownTransaction is returned for operations on an id with no
	// record. For done events this is benign (ordering race or
	// duplicate delivery).
	ErrUnknownTransaction = errors.New("unknown transaction")
	// ErrInvalidTransition is returned when a confirm hits a record
	// that is not pending.
	ErrInvalidTransition = errors.New("invalid transaction state transition")
)

// Ledger is the authoritative state machine per transaction id.
// Transitions are linear (pending -> processing -> completed); there is
// no back-transition or cancellation. The ledger exclusively owns the
// id-to-record mapping; callers only ever see clones.
type Ledger struct {
	defaultBank string
	logger      *slog.Logger
	now         func() time.Time

	records map[string]*domain.TransactionRecord
}

// NewLedger creates an empty transaction ledger.
func NewLedger(defaultBank string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		defaultBank: defaultBank,
		logger:      logger,
		now:         time.Now,
		records:     make(map[string]*domain.TransactionRecord),
	}
}

// Init creates a pending record from an init event. Missing fields get
// fallback defaults. A second init with the same id overwrites the
// prior pending record (last writer wins).
func (l *Ledger) Init(data domain.InitTransactionData) (*domain.TransactionRecord, error) {
	if data.TransactionID == "" {
		return nil, ErrMissingTransactionID
	}

	receiver := data.Receiver
	if receiver == "" {
		receiver = domain.FallbackReceiver
	}
	bank := data.BankName
	if bank == "" {
		bank = l.defaultBank
	}

	rec := &domain.TransactionRecord{
		TransactionID:       data.TransactionID,
		Receiver:            receiver,
		Amount:              data.Amount,
		Description:         data.Description,
		AccountNumber:       data.ReceiverAccountNumber,
		BankName:            bank,
		SenderAccountNumber: data.SenderAccountNumber,
		SenderName:          data.SenderName,
		SourceAccountType:   data.SourceAccountType,
		Status:              domain.StatusPending,
		CreatedAt:           l.now(),
	}

	if prev, ok := l.records[data.TransactionID]; ok {
		l.logger.Warn("overwriting existing transaction record",
			"transaction_id", data.TransactionID, "prev_status", prev.Status)
	}
	l.records[data.TransactionID] = rec

	l.logger.Info("transaction initiated",
		"transaction_id", rec.TransactionID, "receiver", rec.Receiver, "amount", rec.Amount)

	return rec.Clone(), nil
}

// Confirm transitions a pending record to processing. Triggered by the
// explicit local confirmation action, never by a remote event.
func (l *Ledger) Confirm(transactionID string) (*domain.TransactionRecord, error) {
	if transactionID == "" {
		return nil, ErrMissingTransactionID
	}
	rec, ok := l.records[transactionID]
	if !ok {
		return nil, fmt.Errorf("confirm %q: %w", transactionID, ErrUnknownTransaction)
	}
	if rec.Status != domain.StatusPending {
		return nil, fmt.Errorf("confirm %q in state %s: %w", transactionID, rec.Status, ErrInvalidTransition)
	}
	rec.Status = domain.StatusProcessing
	l.logger.Info("transaction confirmed", "transaction_id", transactionID)
	return rec.Clone(), nil
}

// Done transitions the matching record to completed and stamps the
// completion time. An unknown id returns ErrUnknownTransaction, which
// callers treat as a benign drop. A redelivered done for an already
// completed record is the same benign miss: the first completion wins
// and its timestamp is never restamped.
func (l *Ledger) Done(data domain.DoneTransactionData) (*domain.TransactionRecord, error) {
	if data.TransactionID == "" {
		return nil, ErrMissingTransactionID
	}
	rec, ok := l.records[data.TransactionID]
	if !ok {
		return nil, fmt.Errorf("done %q: %w", data.TransactionID, ErrUnknownTransaction)
	}
	if rec.Status == domain.StatusCompleted {
		return nil, fmt.Errorf("done %q already completed: %w", data.TransactionID, ErrUnknownTransaction)
	}
	now := l.now()
	rec.Status = domain.StatusCompleted
	rec.CompletedAt = &now

	l.logger.Info("transaction completed", "transaction_id", data.TransactionID)
	return rec.Clone(), nil
}

// Get returns a clone of the record for an id, or nil.
func (l *Ledger) Get(transactionID string) *domain.TransactionRecord {
	if rec, ok := l.records[transactionID]; ok {
		return rec.Clone()
	}
	return nil
}

// Snapshot returns clones of all records.
func (l *Ledger) Snapshot() []*domain.TransactionRecord {
	out := make([]*domain.TransactionRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec.Clone())
	}
	return out
}

// ExpireStale removes pending/processing records older than ttl and
// returns their ids. Completed records are never expired here. A zero
// ttl disables expiry.
func (l *Ledger) ExpireStale(ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}
	cutoff := l.now().Add(-ttl)
	var expired []string
	for id, rec := range l.records {
		if rec.Status == domain.StatusCompleted {
			continue
		}
		if rec.CreatedAt.Before(cutoff) {
			delete(l.records, id)
			expired = append(expired, id)
			l.logger.Warn("expired stale transaction", "transaction_id", id, "status", rec.Status)
		}
	}
	return expired
}

// Reset drops all records. Used when a reconnect is configured to start
// fresh rather than resume.
func (l *Ledger) Reset() {
	l.records = make(map[string]*domain.TransactionRecord)
}
