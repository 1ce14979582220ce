package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pvlabs/pivi-assist/internal/domain"
)

type capturingPublisher struct {
	mu        sync.Mutex
	published []Envelope
	keys      []string
}

func (p *capturingPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	p.keys = append(p.keys, key)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func (p *capturingPublisher) wait(t *testing.T, n int) []Envelope {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		p.mu.Lock()
		if len(p.published) >= n {
			out := append([]Envelope(nil), p.published...)
			p.mu.Unlock()
			return out
		}
		p.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d published events", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifier_PublishesLifecycleEnvelopes(t *testing.T) {
	pub := &capturingPublisher{}
	n := NewNotifier(pub, "session-1", nil)

	rec := &domain.TransactionRecord{TransactionID: "tx-1", Status: domain.StatusPending}
	n.Initiated(rec)
	n.Completed(rec)

	envs := pub.wait(t, 2)

	types := map[string]bool{}
	for _, env := range envs {
		types[env.Meta.Type] = true
		if env.Meta.ID == "" {
			t.Error("Expected event id set")
		}
		if env.Meta.CorrelationID == nil || *env.Meta.CorrelationID != "session-1" {
			t.Error("Expected session id as correlation id")
		}
		if env.Meta.Producer == nil || *env.Meta.Producer != producerName {
			t.Error("Expected producer name set")
		}
	}
	if !types[TypeTransactionInitiated] || !types[TypeTransactionCompleted] {
		t.Errorf("Expected both lifecycle event types, got %v", types)
	}
}
