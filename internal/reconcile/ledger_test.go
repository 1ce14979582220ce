package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/pvlabs/pivi-assist/internal/domain"
)

func newTestLedger() *Ledger {
	return NewLedger("PVcomBank", nil)
}

func TestLedger_InitCreatesPendingRecord(t *testing.T) {
	l := newTestLedger()

	rec, err := l.Init(domain.InitTransactionData{
		TransactionID:         "tx-1",
		Receiver:              "Nguyen Van A",
		Amount:                1_500_000,
		Description:           "rent",
		ReceiverAccountNumber: "0123456789",
		BankName:              "VCB",
	})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if rec.Status != domain.StatusPending {
		t.Errorf("Expected pending status, got %q", rec.Status)
	}
	if rec.Receiver != "Nguyen Van A" {
		t.Errorf("Expected receiver kept, got %q", rec.Receiver)
	}
	if rec.BankName != "VCB" {
		t.Errorf("Expected provided bank kept, got %q", rec.BankName)
	}
}

func TestLedger_InitAppliesFallbackDefaults(t *testing.T) {
	l := newTestLedger()

	rec, err := l.Init(domain.InitTransactionData{TransactionID: "tx-1"})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if rec.Receiver != domain.FallbackReceiver {
		t.Errorf("Expected fallback receiver, got %q", rec.Receiver)
	}
	if rec.BankName != "PVcomBank" {
		t.Errorf("Expected default bank, got %q", rec.BankName)
	}
	if rec.Amount != 0 {
		t.Errorf("Expected zero amount, got %d", rec.Amount)
	}
}

func TestLedger_InitRequiresTransactionID(t *testing.T) {
	l := newTestLedger()

	if _, err := l.Init(domain.InitTransactionData{Receiver: "someone"}); !errors.Is(err, ErrMissingTransactionID) {
		t.Errorf("Expected ErrMissingTransactionID, got %v", err)
	}
	if len(l.Snapshot()) != 0 {
		t.Error("Expected no record created for rejected init")
	}
}

func TestLedger_InitOverwritesExistingRecord(t *testing.T) {
	l := newTestLedger()

	l.Init(domain.InitTransactionData{TransactionID: "tx-1", Amount: 100})
	rec, err := l.Init(domain.InitTransactionData{TransactionID: "tx-1", Amount: 200})
	if err != nil {
		t.Fatalf("Second init failed: %v", err)
	}
	if rec.Amount != 200 {
		t.Errorf("Expected last writer wins, got amount %d", rec.Amount)
	}
	if len(l.Snapshot()) != 1 {
		t.Errorf("Expected single record, got %d", len(l.Snapshot()))
	}
}

func TestLedger_ConfirmTransitionsPendingOnly(t *testing.T) {
	l := newTestLedger()
	l.Init(domain.InitTransactionData{TransactionID: "tx-1"})

	rec, err := l.Confirm("tx-1")
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if rec.Status != domain.StatusProcessing {
		t.Errorf("Expected processing status, got %q", rec.Status)
	}

	if _, err := l.Confirm("tx-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on double confirm, got %v", err)
	}
	if _, err := l.Confirm("tx-missing"); !errors.Is(err, ErrUnknownTransaction) {
		t.Errorf("Expected ErrUnknownTransaction, got %v", err)
	}
}

func TestLedger_DoneCompletesAndStampsTime(t *testing.T) {
	l := newTestLedger()
	l.Init(domain.InitTransactionData{TransactionID: "tx-1"})
	l.Confirm("tx-1")

	rec, err := l.Done(domain.DoneTransactionData{TransactionID: "tx-1"})
	if err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	if rec.Status != domain.StatusCompleted {
		t.Errorf("Expected completed status, got %q", rec.Status)
	}
	if rec.CompletedAt == nil {
		t.Error("Expected completion timestamp set")
	}
}

func TestLedger_DoneUnknownIDIsBenign(t *testing.T) {
	l := newTestLedger()

	_, err := l.Done(domain.DoneTransactionData{TransactionID: "tx-ghost"})
	if !errors.Is(err, ErrUnknownTransaction) {
		t.Errorf("Expected ErrUnknownTransaction, got %v", err)
	}
	if len(l.Snapshot()) != 0 {
		t.Error("Expected no record created by stray done")
	}
}

func TestLedger_DoneRedeliveryIsBenign(t *testing.T) {
	l := newTestLedger()
	base := time.Now()
	l.now = func() time.Time { return base }

	l.Init(domain.InitTransactionData{TransactionID: "tx-1"})
	first, err := l.Done(domain.DoneTransactionData{TransactionID: "tx-1"})
	if err != nil {
		t.Fatalf("Done failed: %v", err)
	}

	l.now = func() time.Time { return base.Add(3 * time.Second) }
	if _, err := l.Done(domain.DoneTransactionData{TransactionID: "tx-1"}); !errors.Is(err, ErrUnknownTransaction) {
		t.Errorf("Expected redelivered done treated as unknown, got %v", err)
	}

	rec := l.Get("tx-1")
	if rec == nil || rec.CompletedAt == nil {
		t.Fatal("Expected completed record retained")
	}
	if !rec.CompletedAt.Equal(*first.CompletedAt) {
		t.Errorf("Expected completion time %v kept, got %v", first.CompletedAt, rec.CompletedAt)
	}
}

func TestLedger_GetReturnsClone(t *testing.T) {
	l := newTestLedger()
	l.Init(domain.InitTransactionData{TransactionID: "tx-1", Receiver: "A"})

	got := l.Get("tx-1")
	got.Receiver = "mutated"

	if l.Get("tx-1").Receiver == "mutated" {
		t.Error("Expected Get to return a clone, ledger state was mutated")
	}
	if l.Get("tx-missing") != nil {
		t.Error("Expected nil for unknown id")
	}
}

func TestLedger_ExpireStale(t *testing.T) {
	l := newTestLedger()
	base := time.Now()
	l.now = func() time.Time { return base }

	l.Init(domain.InitTransactionData{TransactionID: "tx-old"})
	l.Init(domain.InitTransactionData{TransactionID: "tx-done"})
	l.Done(domain.DoneTransactionData{TransactionID: "tx-done"})

	l.now = func() time.Time { return base.Add(10 * time.Minute) }
	l.Init(domain.InitTransactionData{TransactionID: "tx-new"})

	expired := l.ExpireStale(5 * time.Minute)
	if len(expired) != 1 || expired[0] != "tx-old" {
		t.Errorf("Expected only tx-old expired, got %v", expired)
	}
	if l.Get("tx-done") == nil {
		t.Error("Expected completed record never expired")
	}
	if l.Get("tx-new") == nil {
		t.Error("Expected fresh record retained")
	}

	if got := l.ExpireStale(0); got != nil {
		t.Errorf("Expected zero TTL to disable expiry, got %v", got)
	}
}
