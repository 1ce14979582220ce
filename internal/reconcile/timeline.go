package reconcile

import (
	"log/slog"
	"time"

	"github.com/pvlabs/pivi-assist/internal/domain"
)

// Timeline is the single render-ready ordered sequence of chat entries.
// Sort order is pure append order; entries are never reordered after
// insertion. The only in-place mutation is widget state for
// transaction-lifecycle and flow-confirmation updates.
type Timeline struct {
	logger *slog.Logger

	entries       []*domain.TimelineEntry
	byID          map[string]int
	byTransaction map[string]int
	byFlow        map[string]int
}

// NewTimeline creates an empty timeline.
func NewTimeline(logger *slog.Logger) *Timeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timeline{
		logger:        logger,
		byID:          make(map[string]int),
		byTransaction: make(map[string]int),
		byFlow:        make(map[string]int),
	}
}

// AppendText appends a text entry for a finalized utterance. An entry
// id that already exists is dropped (exact redelivery).
func (t *Timeline) AppendText(u domain.Utterance) *domain.TimelineEntry {
	if _, exists := t.byID[u.ID]; exists {
		t.logger.Debug("timeline entry id already exists", "id", u.ID)
		return nil
	}
	entry := &domain.TimelineEntry{
		ID:        u.ID,
		Kind:      domain.EntryText,
		Speaker:   u.Speaker,
		Text:      u.Text,
		CreatedAt: u.CreatedAt,
	}
	t.append(entry)
	return entry.Clone()
}

// AppendWidget appends a widget entry. A lifecycle widget whose
// transaction id already has an entry mutates that entry in place
// instead of appending; a transaction id never has two entries.
func (t *Timeline) AppendWidget(entry *domain.TimelineEntry) *domain.TimelineEntry {
	txID := ""
	if entry.State != nil {
		txID = entry.State.TransactionID
	}
	if txID != "" {
		if idx, ok := t.byTransaction[txID]; ok {
			existing := t.entries[idx]
			existing.State = entry.State
			t.logger.Debug("replacing widget state in place", "transaction_id", txID, "id", existing.ID)
			return existing.Clone()
		}
	}
	if _, exists := t.byID[entry.ID]; exists {
		t.logger.Debug("timeline entry id already exists", "id", entry.ID)
		return nil
	}
	t.append(entry)
	return entry.Clone()
}

// ConfirmFlow moves the widget matched by flow id to the processing
// step. Confirmation matches by flow id, not transaction id: the flow
// id is the caller-supplied correlation token for one widget instance.
func (t *Timeline) ConfirmFlow(flowID string) *domain.TimelineEntry {
	idx, ok := t.byFlow[flowID]
	if !ok {
		t.logger.Warn("no widget found for flow", "flow_id", flowID)
		return nil
	}
	entry := t.entries[idx]
	if entry.State == nil {
		entry.State = &domain.WidgetState{}
	}
	entry.State.Step = domain.StepProcessing
	return entry.Clone()
}

// CompleteTransaction mutates the widget entry matched by transaction
// id to the completed step. Returns nil when no entry matches (the
// completion is then dropped as benign).
func (t *Timeline) CompleteTransaction(transactionID string, completedAt time.Time) *domain.TimelineEntry {
	idx, ok := t.byTransaction[transactionID]
	if !ok {
		return nil
	}
	entry := t.entries[idx]
	if entry.State == nil {
		entry.State = &domain.WidgetState{TransactionID: transactionID}
	}
	entry.State.Step = domain.StepCompleted
	entry.State.CompletedAt = &completedAt
	return entry.Clone()
}

// EntryByFlow returns a clone of the widget entry for a flow id.
func (t *Timeline) EntryByFlow(flowID string) *domain.TimelineEntry {
	if idx, ok := t.byFlow[flowID]; ok {
		return t.entries[idx].Clone()
	}
	return nil
}

// Snapshot returns clones of all entries in append order.
func (t *Timeline) Snapshot() []*domain.TimelineEntry {
	out := make([]*domain.TimelineEntry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Clone()
	}
	return out
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	return len(t.entries)
}

func (t *Timeline) append(entry *domain.TimelineEntry) {
	idx := len(t.entries)
	t.entries = append(t.entries, entry)
	t.byID[entry.ID] = idx
	if entry.FlowID != "" {
		t.byFlow[entry.FlowID] = idx
	}
	if entry.State != nil && entry.State.TransactionID != "" {
		t.byTransaction[entry.State.TransactionID] = idx
	}
}
