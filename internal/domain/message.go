// Package domain contains core domain types for the pivi-assist gateway.
package domain

import (
	"strings"
	"time"
)

// Speaker identifies who produced an utterance.
type Speaker string

const (
	// SpeakerUser is the local banking customer.
	SpeakerUser Speaker = "user"
	// SpeakerAgent is the remote voice assistant.
	SpeakerAgent Speaker = "agent"
)

// SpeakerFromIdentity maps a transport participant identity to a speaker.
// LiveKit-style rooms name the customer "user_xxx" and the assistant
// "agent"/"bot_ai"/"assistant_*".
func SpeakerFromIdentity(identity string) Speaker {
	if strings.HasPrefix(identity, "user") {
		return SpeakerUser
	}
	return SpeakerAgent
}

// SourceChannel identifies the delivery channel of an utterance.
type SourceChannel string

const (
	// SourceSpeechTranscript marks utterances produced by speech-to-text.
	SourceSpeechTranscript SourceChannel = "speechTranscript"
	// SourceChatAPI marks utterances delivered through the chat message API.
	SourceChatAPI SourceChannel = "chatApi"
)

// TranscriptEvent is a raw transcription chunk from the session transport.
// Interim events carry the full cumulative text so far, not a delta.
type TranscriptEvent struct {
	ParticipantIdentity string `json:"participant_identity"`
	Text                string `json:"text"`
	IsFinal             bool   `json:"is_final"`
}

// Utterance is one finalized unit of transcribed or typed text.
// Identity is the ID; content equality is (Speaker, Text).
type Utterance struct {
	ID            string        `json:"id"`
	Speaker       Speaker       `json:"speaker"`
	Text          string        `json:"text"`
	IsFinal       bool          `json:"is_final"`
	SourceChannel SourceChannel `json:"source_channel"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Fingerprint returns the content identity key used for duplicate
// suppression across delivery channels.
func (u Utterance) Fingerprint() string {
	return string(u.Speaker) + "-" + u.Text
}

// EntryKind discriminates timeline entry variants.
type EntryKind string

const (
	// EntryText is a plain chat bubble.
	EntryText EntryKind = "text"
	// EntryWidget is an interactive banking widget.
	EntryWidget EntryKind = "widget"
)

// WidgetType names the interactive widget rendered for a widget entry.
type WidgetType string

const (
	WidgetTransfer    WidgetType = "transfer"
	WidgetAccountList WidgetType = "accountList"
	WidgetInvoiceList WidgetType = "invoiceList"
	WidgetOtpInput    WidgetType = "otpInput"
	WidgetEkycCamera  WidgetType = "ekycCamera"
)

// Widget flow steps. A transfer widget starts at confirm, moves to
// processing on local confirmation and to completed when the matching
// done event arrives.
const (
	StepConfirm    = "confirm"
	StepProcessing = "processing"
	StepCompleted  = "completed"
)

// Account is an account row shown by the accountList widget.
type Account struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	Balance       int64  `json:"balance"`
	Status        string `json:"status,omitempty"`
}

// Invoice is an invoice row shown by the invoiceList widget.
type Invoice struct {
	ID            string `json:"id"`
	SupplierName  string `json:"supplier_name"`
	Amount        int64  `json:"amount"`
	DueDate       string `json:"due_date"`
	InvoiceType   string `json:"invoice_type"`
	PaymentStatus string `json:"payment_status"`
	BillingMonth  string `json:"billing_month"`
}

// WidgetState is the mutable render state of a widget entry. Lifecycle
// widgets are updated in place; the entry ID never changes.
type WidgetState struct {
	Step                string     `json:"step,omitempty"`
	TransactionID       string     `json:"transaction_id,omitempty"`
	Receiver            string     `json:"receiver,omitempty"`
	AccountNumber       string     `json:"account_number,omitempty"`
	BankName            string     `json:"bank_name,omitempty"`
	Amount              int64      `json:"amount"`
	Description         string     `json:"description,omitempty"`
	SenderAccountNumber string     `json:"sender_account_number,omitempty"`
	SenderName          string     `json:"sender_name,omitempty"`
	SourceAccountType   string     `json:"source_account_type,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	Accounts            []Account  `json:"accounts,omitempty"`
	Invoices            []Invoice  `json:"invoices,omitempty"`
	RequestID           string     `json:"request_id,omitempty"`
	Mode                string     `json:"mode,omitempty"`
}

// TimelineEntry is one element of the render-ready chat sequence: either
// a text utterance or a widget. IDs are unique and stable for the
// lifetime of the entry.
type TimelineEntry struct {
	ID         string       `json:"id"`
	Kind       EntryKind    `json:"kind"`
	Speaker    Speaker      `json:"speaker"`
	Text       string       `json:"text,omitempty"`
	WidgetType WidgetType   `json:"widget_type,omitempty"`
	FlowID     string       `json:"flow_id,omitempty"`
	State      *WidgetState `json:"state,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Clone returns a deep copy safe to hand to readers outside the engine
// loop.
func (e *TimelineEntry) Clone() *TimelineEntry {
	cp := *e
	if e.State != nil {
		st := *e.State
		if e.State.CompletedAt != nil {
			t := *e.State.CompletedAt
			st.CompletedAt = &t
		}
		st.Accounts = append([]Account(nil), e.State.Accounts...)
		st.Invoices = append([]Invoice(nil), e.State.Invoices...)
		cp.State = &st
	}
	return &cp
}
