package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/pvlabs/pivi-assist/internal/domain"
)

func TestDebouncer_FinalCommitsImmediately(t *testing.T) {
	d := NewDebouncer(time.Hour, domain.SourceSpeechTranscript, nil, nil)

	u := d.Observe(domain.SpeakerUser, "transfer one million", true)
	if u == nil {
		t.Fatal("Expected immediate utterance for final chunk")
	}
	if u.Text != "transfer one million" {
		t.Errorf("Expected committed text, got %q", u.Text)
	}
	if u.Speaker != domain.SpeakerUser {
		t.Errorf("Expected user speaker, got %q", u.Speaker)
	}
	if !u.IsFinal {
		t.Error("Expected committed utterance to be final")
	}
}

func TestDebouncer_InterimDoesNotCommit(t *testing.T) {
	d := NewDebouncer(time.Hour, domain.SourceSpeechTranscript, nil, nil)

	if u := d.Observe(domain.SpeakerAgent, "trans", false); u != nil {
		t.Errorf("Expected nil for interim chunk, got %+v", u)
	}
	if got := d.Pending(domain.SpeakerAgent); got != "trans" {
		t.Errorf("Expected pending buffer %q, got %q", "trans", got)
	}
}

func TestDebouncer_InterimReplacedByNewerChunk(t *testing.T) {
	d := NewDebouncer(time.Hour, domain.SourceSpeechTranscript, nil, nil)

	d.Observe(domain.SpeakerUser, "trans", false)
	d.Observe(domain.SpeakerUser, "transfer to mom", false)

	if got := d.Pending(domain.SpeakerUser); got != "transfer to mom" {
		t.Errorf("Expected buffer replaced with cumulative text, got %q", got)
	}
}

func TestDebouncer_FinalClearsBufferAndTimer(t *testing.T) {
	var mu sync.Mutex
	var flushed []domain.Utterance
	d := NewDebouncer(30*time.Millisecond, domain.SourceSpeechTranscript, func(u domain.Utterance) {
		mu.Lock()
		flushed = append(flushed, u)
		mu.Unlock()
	}, nil)

	d.Observe(domain.SpeakerUser, "trans", false)
	u := d.Observe(domain.SpeakerUser, "transfer", true)
	if u == nil {
		t.Fatal("Expected final commit")
	}

	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 0 {
		t.Errorf("Expected no timeout flush after final, got %d", len(flushed))
	}
	if d.Pending(domain.SpeakerUser) != "" {
		t.Error("Expected buffer cleared after final")
	}
}

func TestDebouncer_TimeoutFallbackCommitsInterim(t *testing.T) {
	flushed := make(chan domain.Utterance, 1)
	d := NewDebouncer(25*time.Millisecond, domain.SourceSpeechTranscript, func(u domain.Utterance) {
		flushed <- u
	}, nil)

	d.Observe(domain.SpeakerAgent, "please confirm the tr", false)

	select {
	case u := <-flushed:
		if u.Text != "please confirm the tr" {
			t.Errorf("Expected last interim text, got %q", u.Text)
		}
		if u.Speaker != domain.SpeakerAgent {
			t.Errorf("Expected agent speaker, got %q", u.Speaker)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected inactivity flush, got none")
	}

	if d.Pending(domain.SpeakerAgent) != "" {
		t.Error("Expected buffer cleared after flush")
	}
}

func TestDebouncer_TimerRestartsOnEachInterim(t *testing.T) {
	flushed := make(chan domain.Utterance, 2)
	d := NewDebouncer(60*time.Millisecond, domain.SourceSpeechTranscript, func(u domain.Utterance) {
		flushed <- u
	}, nil)

	d.Observe(domain.SpeakerUser, "a", false)
	time.Sleep(30 * time.Millisecond)
	d.Observe(domain.SpeakerUser, "ab", false)
	time.Sleep(30 * time.Millisecond)

	select {
	case u := <-flushed:
		t.Fatalf("Expected no flush while chunks keep arriving, got %q", u.Text)
	default:
	}

	select {
	case u := <-flushed:
		if u.Text != "ab" {
			t.Errorf("Expected latest interim flushed, got %q", u.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected flush after inactivity")
	}
}

func TestDebouncer_SpeakersAreIndependent(t *testing.T) {
	d := NewDebouncer(time.Hour, domain.SourceSpeechTranscript, nil, nil)

	d.Observe(domain.SpeakerUser, "user text", false)
	d.Observe(domain.SpeakerAgent, "agent text", false)

	if u := d.Observe(domain.SpeakerUser, "user final", true); u == nil {
		t.Fatal("Expected user final commit")
	}
	if got := d.Pending(domain.SpeakerAgent); got != "agent text" {
		t.Errorf("Expected agent buffer untouched, got %q", got)
	}
}

func TestDebouncer_WhitespaceIgnored(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, domain.SourceSpeechTranscript, func(u domain.Utterance) {
		t.Errorf("Unexpected flush of %q", u.Text)
	}, nil)

	if u := d.Observe(domain.SpeakerUser, "   ", true); u != nil {
		t.Errorf("Expected whitespace final ignored, got %+v", u)
	}
	if u := d.Observe(domain.SpeakerUser, "", false); u != nil {
		t.Errorf("Expected empty interim ignored, got %+v", u)
	}

	time.Sleep(60 * time.Millisecond)
}

func TestDebouncer_ResetCancelsPendingFlush(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, domain.SourceSpeechTranscript, func(u domain.Utterance) {
		t.Errorf("Unexpected flush after reset: %q", u.Text)
	}, nil)

	d.Observe(domain.SpeakerUser, "half a sentence", false)
	d.Reset()

	time.Sleep(80 * time.Millisecond)

	if d.Pending(domain.SpeakerUser) != "" {
		t.Error("Expected buffer cleared by reset")
	}
}
