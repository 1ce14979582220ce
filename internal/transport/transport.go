// Package transport defines the contract between the gateway and the
// voice-agent session transport. The real-time media transport itself
// lives on the mobile device; the gateway sees only its event relay.
package transport

import (
	"context"

	"github.com/pvlabs/pivi-assist/internal/domain"
)

// Topics used by the agent data channel.
const (
	TopicTranscription = "lk.transcription"
	TopicMetadata      = "metadata-topic"
	TopicChat          = "lk.chat"
)

// RPC method names the agent may invoke against the client.
const (
	RPCGetEkycCode = "getEkycCode"
)

// Handlers receives inbound transport events. All callbacks must be
// safe to call from transport goroutines; implementations enqueue into
// their own loops.
type Handlers struct {
	OnTranscript       func(ev domain.TranscriptEvent)
	OnMetadata         func(payload []byte)
	OnConnectionChange func(connected bool)
	OnRPC              func(ctx context.Context, method string, payload []byte) []byte
}

// Sender pushes outbound messages to the agent over the transport.
type Sender interface {
	// SendChat delivers a user chat message on the chat topic.
	SendChat(ctx context.Context, text string) error
	// SendMetadata delivers a structured payload on the metadata topic.
	SendMetadata(ctx context.Context, payload []byte) error
}
