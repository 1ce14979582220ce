package domain

import (
	"time"
)

// TransactionStatus is the lifecycle state of a pending transfer.
// Transitions are linear: pending -> processing -> completed.
type TransactionStatus string

const (
	// StatusPending means the transaction was announced by the backend
	// and is waiting for local confirmation.
	StatusPending TransactionStatus = "pending"
	// StatusProcessing means the local user confirmed and the backend
	// is executing the transfer.
	StatusProcessing TransactionStatus = "processing"
	// StatusCompleted means the matching done event arrived.
	StatusCompleted TransactionStatus = "completed"
)

// FallbackReceiver is used when an init event omits the receiver name.
const FallbackReceiver = "unknown recipient"

// TransactionRecord is the authoritative view of one transfer keyed by
// its backend-issued transaction ID. Exactly one record exists per ID.
type TransactionRecord struct {
	TransactionID       string            `json:"transaction_id"`
	Receiver            string            `json:"receiver"`
	Amount              int64             `json:"amount"`
	Description         string            `json:"description"`
	AccountNumber       string            `json:"account_number"`
	BankName            string            `json:"bank_name"`
	SenderAccountNumber string            `json:"sender_account_number"`
	SenderName          string            `json:"sender_name"`
	SourceAccountType   string            `json:"source_account_type"`
	Status              TransactionStatus `json:"status"`
	CreatedAt           time.Time         `json:"created_at"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
}

// Clone returns a copy safe to share outside the ledger.
func (r *TransactionRecord) Clone() *TransactionRecord {
	cp := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// InitTransactionData is the wire payload of an initTransaction
// metadata event.
type InitTransactionData struct {
	TransactionID         string `json:"transaction_id"`
	Receiver              string `json:"receiver"`
	Amount                int64  `json:"amount"`
	Description           string `json:"description"`
	ReceiverAccountNumber string `json:"receiver_account_number"`
	BankName              string `json:"bank_name"`
	SourceAccountType     string `json:"source_account_type"`
	SenderAccountNumber   string `json:"sender_account_number"`
	SenderName            string `json:"sender_name"`
}

// DoneTransactionData is the wire payload of a doneTransaction
// metadata event.
type DoneTransactionData struct {
	TransactionID string `json:"transaction_id"`
}
