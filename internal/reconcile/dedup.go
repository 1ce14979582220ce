package reconcile

import (
	"log/slog"
	"time"

	"github.com/pvlabs/pivi-assist/internal/domain"
)

const (
	fingerprintMaxAge = 10 * time.Second
	maxSeenIDs        = 100
	keepSeenIDs       = 50
)

// Suppressor rejects re-delivered utterances. It is a pure filter: it
// never mutates the timeline, only answers accept/reject. It is owned
// by the engine loop and is not safe for concurrent use.
type Suppressor struct {
	crossWindow      time.Duration
	redeliveryWindow time.Duration
	logger           *slog.Logger
	now              func() time.Time

	fingerprints map[string]fingerprintEntry
	seenIDs      map[string]struct{}
	seenOrder    []string
}

type fingerprintEntry struct {
	at      time.Time
	channel domain.SourceChannel
}

// NewSuppressor creates a duplicate suppressor. crossWindow guards the
// cross-channel race; redeliveryWindow guards same-channel redelivery.
func NewSuppressor(crossWindow, redeliveryWindow time.Duration, logger *slog.Logger) *Suppressor {
	if logger == nil {
		logger = slog.Default()
	}
	if crossWindow <= 0 {
		crossWindow = 500 * time.Millisecond
	}
	if redeliveryWindow < crossWindow {
		redeliveryWindow = 2000 * time.Millisecond
	}
	return &Suppressor{
		crossWindow:      crossWindow,
		redeliveryWindow: redeliveryWindow,
		logger:           logger,
		now:              time.Now,
		fingerprints:     make(map[string]fingerprintEntry),
		seenIDs:          make(map[string]struct{}),
	}
}

// Accept reports whether the utterance is new. A rejected utterance was
// already committed through this or another channel.
func (s *Suppressor) Accept(u domain.Utterance) bool {
	now := s.now()
	s.prune(now)

	if _, seen := s.seenIDs[u.ID]; seen {
		s.logger.Debug("suppressing redelivered message id", "id", u.ID)
		return false
	}

	key := u.Fingerprint()
	if entry, ok := s.fingerprints[key]; ok {
		age := now.Sub(entry.at)
		window := s.crossWindow
		if entry.channel == u.SourceChannel {
			window = s.redeliveryWindow
		}
		if age < window {
			s.logger.Debug("suppressing duplicate content",
				"speaker", u.Speaker, "age_ms", age.Milliseconds(), "same_channel", entry.channel == u.SourceChannel)
			return false
		}
	}

	s.fingerprints[key] = fingerprintEntry{at: now, channel: u.SourceChannel}
	s.recordID(u.ID)
	return true
}

// Reset forgets all fingerprints and seen ids.
func (s *Suppressor) Reset() {
	s.fingerprints = make(map[string]fingerprintEntry)
	s.seenIDs = make(map[string]struct{})
	s.seenOrder = s.seenOrder[:0]
}

func (s *Suppressor) recordID(id string) {
	s.seenIDs[id] = struct{}{}
	s.seenOrder = append(s.seenOrder, id)

	if len(s.seenOrder) <= maxSeenIDs {
		return
	}
	// Over capacity: retain only the most recent half.
	keep := s.seenOrder[len(s.seenOrder)-keepSeenIDs:]
	s.seenIDs = make(map[string]struct{}, keepSeenIDs)
	for _, k := range keep {
		s.seenIDs[k] = struct{}{}
	}
	s.seenOrder = append(s.seenOrder[:0], keep...)
}

func (s *Suppressor) prune(now time.Time) {
	for key, entry := range s.fingerprints {
		if now.Sub(entry.at) > fingerprintMaxAge {
			delete(s.fingerprints, key)
		}
	}
}
