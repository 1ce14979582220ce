package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pvlabs/pivi-assist/internal/config"
	"github.com/pvlabs/pivi-assist/internal/domain"
)

// Sender pushes instructions back to the assistant transport. The
// session layer implements it on top of the mobile-client WebSocket.
type Sender interface {
	SendChat(ctx context.Context, text string) error
	SendMetadata(ctx context.Context, payload []byte) error
}

// TxEvents receives transaction lifecycle notifications for downstream
// publication. Implementations must not block for long; they are called
// from the engine loop.
type TxEvents interface {
	Initiated(rec *domain.TransactionRecord)
	Completed(rec *domain.TransactionRecord)
}

// Update is one timeline change delivered to subscribers. Entry is
// always a clone owned by the receiver.
type Update struct {
	Entry *domain.TimelineEntry `json:"entry"`
}

// metadataEnvelope is the wire shape of agent metadata events.
type metadataEnvelope struct {
	MethodName string          `json:"method_name"`
	Data       json.RawMessage `json:"data"`
}

// Recognized metadata methods.
const (
	methodInitTransaction = "initTransaction"
	methodDoneTransaction = "doneTransaction"
	methodShowInvoiceList = "showInvoiceList"
	methodShowAllAccount  = "showAllAccount"
)

// Outbound metadata methods sent back to the agent.
const (
	methodConfirmTransaction = "confirmTransaction"
	methodSelectAccount      = "selectAccount"
)

type eventKind int

const (
	evTranscript eventKind = iota
	evMetadata
	evCommitted
	evUserMessage
	evConfirm
	evSelectAccount
	evVerification
	evConnection
	evSnapshot
	evTransactions
	evSubscribe
	evUnsubscribe
	evExpireTick
)

type engineEvent struct {
	kind eventKind

	transcript domain.TranscriptEvent
	payload    []byte
	utterance  domain.Utterance
	text       string
	flowID     string
	account    string
	widget     domain.WidgetType
	requestID  string
	mode       string
	connected  bool

	entriesReply chan []*domain.TimelineEntry
	recordsReply chan []*domain.TransactionRecord
	sub          *subscriber
}

type subscriber struct {
	ch chan Update
}

// Engine merges transcript and metadata streams from the voice-agent
// transport into one chat timeline plus an authoritative transaction
// ledger. All state is owned by the Run loop; exported methods only
// enqueue events or wait on reply channels, so they are safe to call
// from any goroutine.
type Engine struct {
	cfg    config.ReconcileConfig
	logger *slog.Logger

	sender   Sender
	txEvents TxEvents

	speechDebouncer *Debouncer
	suppressor      *Suppressor
	ledger          *Ledger
	timeline        *Timeline

	events chan engineEvent
	done   chan struct{}

	subscribers map[*subscriber]struct{}
}

// NewEngine creates an engine for one assistant session. sender may be
// nil for read-only replay; txEvents may be nil when event publication
// is disabled.
func NewEngine(cfg config.ReconcileConfig, sender Sender, txEvents TxEvents, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		sender:      sender,
		txEvents:    txEvents,
		suppressor:  NewSuppressor(cfg.CrossChannelWindow, cfg.RedeliveryWindow, logger),
		ledger:      NewLedger(cfg.DefaultBankName, logger),
		timeline:    NewTimeline(logger),
		events:      make(chan engineEvent, 256),
		done:        make(chan struct{}),
		subscribers: make(map[*subscriber]struct{}),
	}
	// Timer flushes re-enter the loop as ordinary events so that the
	// loop stays the only writer of engine state.
	e.speechDebouncer = NewDebouncer(cfg.DebounceInterval, domain.SourceSpeechTranscript, func(u domain.Utterance) {
		e.enqueue(engineEvent{kind: evCommitted, utterance: u})
	}, logger)
	return e
}

// Run drives the event loop until ctx is cancelled. It must be called
// exactly once.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	defer e.speechDebouncer.Reset()

	var expireC <-chan time.Time
	if e.cfg.TransactionTTL > 0 {
		ticker := time.NewTicker(e.cfg.TransactionTTL / 2)
		defer ticker.Stop()
		expireC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.closeSubscribers()
			return
		case <-expireC:
			e.handle(ctx, engineEvent{kind: evExpireTick})
		case ev := <-e.events:
			e.handle(ctx, ev)
		}
	}
}

func (e *Engine) enqueue(ev engineEvent) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// HandleTranscript ingests one raw transcription chunk from the
// transport.
func (e *Engine) HandleTranscript(ev domain.TranscriptEvent) {
	e.enqueue(engineEvent{kind: evTranscript, transcript: ev})
}

// HandleMetadata ingests one metadata payload from the transport.
func (e *Engine) HandleMetadata(payload []byte) {
	e.enqueue(engineEvent{kind: evMetadata, payload: payload})
}

// HandleConnectionChange records transport connect/disconnect.
func (e *Engine) HandleConnectionChange(connected bool) {
	e.enqueue(engineEvent{kind: evConnection, connected: connected})
}

// SendUserMessage commits a user-typed chat message to the timeline and
// forwards it to the agent over the chat channel.
func (e *Engine) SendUserMessage(text string) {
	e.enqueue(engineEvent{kind: evUserMessage, text: text})
}

// ConfirmTransfer applies the local confirmation for the transfer
// widget identified by flow id.
func (e *Engine) ConfirmTransfer(flowID string) {
	e.enqueue(engineEvent{kind: evConfirm, flowID: flowID})
}

// SelectAccount forwards an account selection made on an accountList
// widget.
func (e *Engine) SelectAccount(flowID, accountNumber string) {
	e.enqueue(engineEvent{kind: evSelectAccount, flowID: flowID, account: accountNumber})
}

// AppendVerification appends an OTP or eKYC widget tied to a pending
// verification request.
func (e *Engine) AppendVerification(widget domain.WidgetType, requestID, mode string) {
	e.enqueue(engineEvent{kind: evVerification, widget: widget, requestID: requestID, mode: mode})
}

// Snapshot returns the full timeline in append order.
func (e *Engine) Snapshot(ctx context.Context) []*domain.TimelineEntry {
	reply := make(chan []*domain.TimelineEntry, 1)
	select {
	case e.events <- engineEvent{kind: evSnapshot, entriesReply: reply}:
	case <-ctx.Done():
		return nil
	case <-e.done:
		return nil
	}
	select {
	case entries := <-reply:
		return entries
	case <-ctx.Done():
		return nil
	case <-e.done:
		return nil
	}
}

// Transactions returns clones of all ledger records.
func (e *Engine) Transactions(ctx context.Context) []*domain.TransactionRecord {
	reply := make(chan []*domain.TransactionRecord, 1)
	select {
	case e.events <- engineEvent{kind: evTransactions, recordsReply: reply}:
	case <-ctx.Done():
		return nil
	case <-e.done:
		return nil
	}
	select {
	case records := <-reply:
		return records
	case <-ctx.Done():
		return nil
	case <-e.done:
		return nil
	}
}

// Subscribe registers a timeline update listener. The returned channel
// is closed by Unsubscribe or when the engine stops. Slow consumers
// lose oldest updates first rather than stalling the loop.
func (e *Engine) Subscribe() (<-chan Update, func()) {
	sub := &subscriber{ch: make(chan Update, e.queueSize())}
	e.enqueue(engineEvent{kind: evSubscribe, sub: sub})
	cancel := func() {
		e.enqueue(engineEvent{kind: evUnsubscribe, sub: sub})
	}
	return sub.ch, cancel
}

func (e *Engine) queueSize() int {
	if e.cfg.SubscriberQueueSize > 0 {
		return e.cfg.SubscriberQueueSize
	}
	return 64
}

func (e *Engine) handle(ctx context.Context, ev engineEvent) {
	switch ev.kind {
	case evTranscript:
		e.onTranscript(ev.transcript)
	case evMetadata:
		e.onMetadata(ev.payload)
	case evCommitted:
		e.commitUtterance(ev.utterance)
	case evUserMessage:
		e.onUserMessage(ctx, ev.text)
	case evConfirm:
		e.onConfirm(ctx, ev.flowID)
	case evSelectAccount:
		e.onSelectAccount(ctx, ev.flowID, ev.account)
	case evVerification:
		e.onVerification(ev.widget, ev.requestID, ev.mode)
	case evConnection:
		e.onConnectionChange(ev.connected)
	case evSnapshot:
		ev.entriesReply <- e.timeline.Snapshot()
	case evTransactions:
		ev.recordsReply <- e.ledger.Snapshot()
	case evSubscribe:
		e.subscribers[ev.sub] = struct{}{}
	case evUnsubscribe:
		if _, ok := e.subscribers[ev.sub]; ok {
			delete(e.subscribers, ev.sub)
			close(ev.sub.ch)
		}
	case evExpireTick:
		for _, id := range e.ledger.ExpireStale(e.cfg.TransactionTTL) {
			e.logger.Info("dropped expired transaction", "transaction_id", id)
		}
	}
}

func (e *Engine) onTranscript(ev domain.TranscriptEvent) {
	speaker := domain.SpeakerFromIdentity(ev.ParticipantIdentity)
	if u := e.speechDebouncer.Observe(speaker, ev.Text, ev.IsFinal); u != nil {
		e.commitUtterance(*u)
	}
}

func (e *Engine) commitUtterance(u domain.Utterance) {
	if !e.suppressor.Accept(u) {
		return
	}
	if entry := e.timeline.AppendText(u); entry != nil {
		e.broadcast(entry)
	}
}

func (e *Engine) onUserMessage(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	u := newUtterance(domain.SpeakerUser, text, domain.SourceChatAPI)
	e.commitUtterance(u)
	if e.sender != nil {
		if err := e.sender.SendChat(ctx, text); err != nil {
			e.logger.Error("failed to forward chat message", "error", err)
		}
	}
}

func (e *Engine) onMetadata(payload []byte) {
	var env metadataEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		e.logger.Warn("dropping malformed metadata payload", "error", err)
		return
	}

	switch env.MethodName {
	case methodInitTransaction:
		e.onInitTransaction(env.Data)
	case methodDoneTransaction:
		e.onDoneTransaction(env.Data)
	case methodShowInvoiceList:
		e.onShowInvoiceList(env.Data)
	case methodShowAllAccount:
		e.onShowAllAccount(env.Data)
	case "":
		e.logger.Warn("dropping metadata without method_name")
	default:
		e.logger.Info("ignoring unknown metadata method", "method_name", env.MethodName)
	}
}

func (e *Engine) onInitTransaction(data json.RawMessage) {
	var init domain.InitTransactionData
	if err := json.Unmarshal(data, &init); err != nil {
		e.logger.Warn("dropping malformed initTransaction data", "error", err)
		return
	}
	rec, err := e.ledger.Init(init)
	if err != nil {
		e.logger.Warn("rejected initTransaction", "error", err)
		return
	}

	entry := &domain.TimelineEntry{
		ID:         "widget-" + uuid.NewString(),
		Kind:       domain.EntryWidget,
		Speaker:    domain.SpeakerAgent,
		WidgetType: domain.WidgetTransfer,
		FlowID:     uuid.NewString(),
		CreatedAt:  time.Now(),
		State: &domain.WidgetState{
			Step:                domain.StepConfirm,
			TransactionID:       rec.TransactionID,
			Receiver:            rec.Receiver,
			AccountNumber:       rec.AccountNumber,
			BankName:            rec.BankName,
			Amount:              rec.Amount,
			Description:         rec.Description,
			SenderAccountNumber: rec.SenderAccountNumber,
			SenderName:          rec.SenderName,
			SourceAccountType:   rec.SourceAccountType,
		},
	}
	if updated := e.timeline.AppendWidget(entry); updated != nil {
		e.broadcast(updated)
	}
	if e.txEvents != nil {
		e.txEvents.Initiated(rec)
	}
}

func (e *Engine) onDoneTransaction(data json.RawMessage) {
	var done domain.DoneTransactionData
	if err := json.Unmarshal(data, &done); err != nil {
		e.logger.Warn("dropping malformed doneTransaction data", "error", err)
		return
	}
	rec, err := e.ledger.Done(done)
	if err != nil {
		if errors.Is(err, ErrUnknownTransaction) {
			e.logger.Debug("doneTransaction for unknown id, dropping", "transaction_id", done.TransactionID)
		} else {
			e.logger.Warn("rejected doneTransaction", "error", err)
		}
		return
	}
	if entry := e.timeline.CompleteTransaction(rec.TransactionID, *rec.CompletedAt); entry != nil {
		e.broadcast(entry)
	}
	if e.txEvents != nil {
		e.txEvents.Completed(rec)
	}
}

func (e *Engine) onShowInvoiceList(data json.RawMessage) {
	var body struct {
		Invoices []domain.Invoice `json:"invoices"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			e.logger.Warn("dropping malformed showInvoiceList data", "error", err)
			return
		}
	}
	entry := &domain.TimelineEntry{
		ID:         "widget-" + uuid.NewString(),
		Kind:       domain.EntryWidget,
		Speaker:    domain.SpeakerAgent,
		WidgetType: domain.WidgetInvoiceList,
		FlowID:     uuid.NewString(),
		CreatedAt:  time.Now(),
		State:      &domain.WidgetState{Invoices: body.Invoices},
	}
	if updated := e.timeline.AppendWidget(entry); updated != nil {
		e.broadcast(updated)
	}
}

func (e *Engine) onShowAllAccount(data json.RawMessage) {
	var body struct {
		Accounts []domain.Account `json:"accounts"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			e.logger.Warn("dropping malformed showAllAccount data", "error", err)
			return
		}
	}
	entry := &domain.TimelineEntry{
		ID:         "widget-" + uuid.NewString(),
		Kind:       domain.EntryWidget,
		Speaker:    domain.SpeakerAgent,
		WidgetType: domain.WidgetAccountList,
		FlowID:     uuid.NewString(),
		CreatedAt:  time.Now(),
		State:      &domain.WidgetState{Accounts: body.Accounts},
	}
	if updated := e.timeline.AppendWidget(entry); updated != nil {
		e.broadcast(updated)
	}
}

func (e *Engine) onConfirm(ctx context.Context, flowID string) {
	entry := e.timeline.EntryByFlow(flowID)
	if entry == nil || entry.State == nil || entry.State.TransactionID == "" {
		e.logger.Warn("confirm for unknown flow", "flow_id", flowID)
		return
	}
	if _, err := e.ledger.Confirm(entry.State.TransactionID); err != nil {
		e.logger.Warn("confirm rejected", "flow_id", flowID, "error", err)
		return
	}
	if updated := e.timeline.ConfirmFlow(flowID); updated != nil {
		e.broadcast(updated)
	}
	e.sendMetadata(ctx, methodConfirmTransaction, map[string]string{
		"transaction_id": entry.State.TransactionID,
	})
	if e.sender != nil {
		if err := e.sender.SendChat(ctx, "confirm transfer"); err != nil {
			e.logger.Error("failed to send confirmation chat", "error", err)
		}
	}
}

func (e *Engine) onSelectAccount(ctx context.Context, flowID, accountNumber string) {
	if e.timeline.EntryByFlow(flowID) == nil {
		e.logger.Warn("account selection for unknown flow", "flow_id", flowID)
		return
	}
	e.sendMetadata(ctx, methodSelectAccount, map[string]string{
		"account_number": accountNumber,
	})
	if e.sender != nil {
		if err := e.sender.SendChat(ctx, "account selected: "+accountNumber); err != nil {
			e.logger.Error("failed to send selection chat", "error", err)
		}
	}
}

func (e *Engine) onVerification(widget domain.WidgetType, requestID, mode string) {
	entry := &domain.TimelineEntry{
		ID:         "widget-" + uuid.NewString(),
		Kind:       domain.EntryWidget,
		Speaker:    domain.SpeakerAgent,
		WidgetType: widget,
		FlowID:     uuid.NewString(),
		CreatedAt:  time.Now(),
		State:      &domain.WidgetState{RequestID: requestID, Mode: mode},
	}
	if updated := e.timeline.AppendWidget(entry); updated != nil {
		e.broadcast(updated)
	}
}

func (e *Engine) onConnectionChange(connected bool) {
	if connected {
		e.logger.Info("transport connected")
		return
	}
	e.logger.Info("transport disconnected")
	e.speechDebouncer.Reset()
	if !e.cfg.ResumeOnReconnect {
		e.suppressor.Reset()
		e.ledger.Reset()
	}
}

func (e *Engine) sendMetadata(ctx context.Context, method string, data any) {
	if e.sender == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"method_name": method,
		"data":        data,
	})
	if err != nil {
		e.logger.Error("failed to encode metadata", "method_name", method, "error", err)
		return
	}
	if err := e.sender.SendMetadata(ctx, payload); err != nil {
		e.logger.Error("failed to send metadata", "method_name", method, "error", err)
	}
}

// broadcast fans one update out to every subscriber. Full queues drop
// their oldest update so the loop never blocks on a slow consumer.
func (e *Engine) broadcast(entry *domain.TimelineEntry) {
	for sub := range e.subscribers {
		upd := Update{Entry: entry.Clone()}
		select {
		case sub.ch <- upd:
			continue
		default:
		}
		select {
		case <-sub.ch:
			e.logger.Warn("subscriber queue full, dropping oldest update")
		default:
		}
		select {
		case sub.ch <- upd:
		default:
		}
	}
}

func (e *Engine) closeSubscribers() {
	for sub := range e.subscribers {
		close(sub.ch)
		delete(e.subscribers, sub)
	}
}
