package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pvlabs/pivi-assist/internal/config"
	"github.com/pvlabs/pivi-assist/internal/domain"
	"github.com/pvlabs/pivi-assist/internal/events"
)

type fakeRepo struct {
	mu           sync.Mutex
	sessions     map[string]*domain.AssistSession
	transactions map[string]*domain.TransactionRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions:     make(map[string]*domain.AssistSession),
		transactions: make(map[string]*domain.TransactionRecord),
	}
}

func (f *fakeRepo) GetSession(ctx context.Context, sessionID string) (*domain.AssistSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[sessionID], nil
}

func (f *fakeRepo) UpsertSession(ctx context.Context, s *domain.AssistSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.SessionID] = &cp
	return nil
}

func (f *fakeRepo) TouchSession(ctx context.Context, sessionID string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.LastSeenAt = lastSeen
	}
	return nil
}

func (f *fakeRepo) CloseSession(ctx context.Context, sessionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok && s.DisconnectedAt == nil {
		s.DisconnectedAt = &at
	}
	return nil
}

func (f *fakeRepo) GetIdleSessions(ctx context.Context, ttl time.Duration) ([]*domain.AssistSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var idle []*domain.AssistSession
	for _, s := range f.sessions {
		if s.DisconnectedAt == nil && s.IdleFor(time.Now()) > ttl {
			cp := *s
			idle = append(idle, &cp)
		}
	}
	return idle, nil
}

func (f *fakeRepo) SaveTransaction(ctx context.Context, sessionID string, rec *domain.TransactionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions[rec.TransactionID] = rec.Clone()
	return nil
}

func (f *fakeRepo) ListTransactions(ctx context.Context, sessionID string) ([]*domain.TransactionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.TransactionRecord
	for _, rec := range f.transactions {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (f *fakeRepo) Ping(ctx context.Context) error { return nil }
func (f *fakeRepo) Close() error                   { return nil }

func testHubConfig() *config.Config {
	return &config.Config{
		SessionTTL: time.Hour,
		Reconcile: config.ReconcileConfig{
			DebounceInterval:    50 * time.Millisecond,
			CrossChannelWindow:  500 * time.Millisecond,
			RedeliveryWindow:    2000 * time.Millisecond,
			DefaultBankName:     "PVcomBank",
			SubscriberQueueSize: 16,
		},
	}
}

func newTestHub(repo *fakeRepo) *Hub {
	return NewHub(testHubConfig(), repo, events.NewFallback(nil), nil)
}

func TestHub_GetOrCreateIsIdempotent(t *testing.T) {
	hub := newTestHub(newFakeRepo())
	defer hub.CloseAll()

	s1 := hub.GetOrCreate("user-1", "tab-1")
	s2 := hub.GetOrCreate("user-1", "tab-1")
	if s1 != s2 {
		t.Error("Expected same session for same user/session pair")
	}

	other := hub.GetOrCreate("user-1", "tab-2")
	if other == s1 {
		t.Error("Expected distinct session per session id")
	}
}

func TestHub_SessionEngineIsLive(t *testing.T) {
	hub := newTestHub(newFakeRepo())
	defer hub.CloseAll()

	s := hub.GetOrCreate("user-1", "tab-1")
	s.Engine.HandleTranscript(domain.TranscriptEvent{
		ParticipantIdentity: "user_1",
		Text:                "hello",
		IsFinal:             true,
	})

	snap := s.Engine.Snapshot(context.Background())
	if len(snap) != 1 || snap[0].Text != "hello" {
		t.Errorf("Expected live engine to commit transcript, got %+v", snap)
	}
}

func TestHub_ClosePersistsDisconnect(t *testing.T) {
	repo := newFakeRepo()
	hub := newTestHub(repo)

	hub.GetOrCreate("user-1", "tab-1")
	hub.Close("user-1", "tab-1")

	if hub.Get("user-1", "tab-1") != nil {
		t.Error("Expected session removed from hub")
	}

	rec, _ := repo.GetSession(context.Background(), "user-1:tab-1")
	if rec == nil || rec.DisconnectedAt == nil {
		t.Errorf("Expected session row marked disconnected, got %+v", rec)
	}
}

func TestHub_TransactionAuditPersisted(t *testing.T) {
	repo := newFakeRepo()
	hub := newTestHub(repo)
	defer hub.CloseAll()

	s := hub.GetOrCreate("user-1", "tab-1")
	s.Engine.HandleMetadata([]byte(`{"method_name":"initTransaction","data":{"transaction_id":"tx-1","amount":100}}`))

	// Confirm the engine processed the event, then wait for the async write.
	if got := len(s.Engine.Transactions(context.Background())); got != 1 {
		t.Fatalf("Expected one ledger record, got %d", got)
	}

	deadline := time.Now().Add(time.Second)
	for {
		repo.mu.Lock()
		_, ok := repo.transactions["tx-1"]
		repo.mu.Unlock()
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected transaction persisted to repository")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
