// Package reconcile merges concurrent transcript and transaction event
// streams into one ordered chat timeline and one authoritative
// transaction state per transaction id.
package reconcile

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pvlabs/pivi-assist/internal/domain"
)

// Debouncer turns a stream of interim/final transcript chunks into
// discrete finalized utterances. Interim chunks carry the full
// cumulative text, so each one replaces the previous buffer for that
// speaker. A speaker with only interim chunks is flushed after the
// inactivity interval.
type Debouncer struct {
	interval time.Duration
	channel  domain.SourceChannel
	onExpire func(domain.Utterance)
	logger   *slog.Logger

	mu      sync.Mutex
	buffers map[domain.Speaker]*speakerBuffer
}

type speakerBuffer struct {
	text  string
	timer *time.Timer
	// gen invalidates timers that fire after the buffer was replaced
	// or cleared.
	gen uint64
}

// NewDebouncer creates a debouncer for one source channel. onExpire is
// called from the timer goroutine when an interim buffer is flushed;
// callers that need serialization must enqueue from the callback.
func NewDebouncer(interval time.Duration, channel domain.SourceChannel, onExpire func(domain.Utterance), logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 1200 * time.Millisecond
	}
	return &Debouncer{
		interval: interval,
		channel:  channel,
		onExpire: onExpire,
		logger:   logger,
		buffers:  make(map[domain.Speaker]*speakerBuffer),
	}
}

// Observe processes one transcript chunk. A final chunk with non-empty
// text returns the committed utterance immediately. Interim chunks
// return nil and (re)arm the speaker's inactivity timer. Empty or
// whitespace-only text is ignored entirely.
func (d *Debouncer) Observe(speaker domain.Speaker, text string, isFinal bool) *domain.Utterance {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	buf := d.buffers[speaker]
	if buf == nil {
		buf = &speakerBuffer{}
		d.buffers[speaker] = buf
	}

	if isFinal {
		d.clearLocked(buf)
		u := newUtterance(speaker, text, d.channel)
		return &u
	}

	buf.text = text
	buf.gen++
	gen := buf.gen
	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.timer = time.AfterFunc(d.interval, func() {
		d.expire(speaker, gen)
	})
	return nil
}

// expire commits the buffered interim text when no terminal event
// arrived within the inactivity window.
func (d *Debouncer) expire(speaker domain.Speaker, gen uint64) {
	d.mu.Lock()
	buf := d.buffers[speaker]
	if buf == nil || buf.gen != gen || buf.text == "" {
		d.mu.Unlock()
		return
	}
	text := buf.text
	d.clearLocked(buf)
	d.mu.Unlock()

	d.logger.Debug("committing interim transcript after inactivity",
		"speaker", speaker, "text_len", len(text))

	if d.onExpire != nil {
		d.onExpire(newUtterance(speaker, text, d.channel))
	}
}

// Pending returns the in-flight interim text for a speaker.
func (d *Debouncer) Pending(speaker domain.Speaker) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf := d.buffers[speaker]; buf != nil {
		return buf.text
	}
	return ""
}

// Reset clears all buffers and cancels all timers. No expirations fire
// after Reset returns; used on transport teardown.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, buf := range d.buffers {
		d.clearLocked(buf)
	}
}

func (d *Debouncer) clearLocked(buf *speakerBuffer) {
	buf.text = ""
	buf.gen++
	if buf.timer != nil {
		buf.timer.Stop()
		buf.timer = nil
	}
}

func newUtterance(speaker domain.Speaker, text string, channel domain.SourceChannel) domain.Utterance {
	return domain.Utterance{
		ID:            fmt.Sprintf("transcript-%s-%s", speaker, uuid.NewString()),
		Speaker:       speaker,
		Text:          text,
		IsFinal:       true,
		SourceChannel: channel,
		CreatedAt:     time.Now(),
	}
}
