package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Outbound frame types sent to the mobile client.
const (
	frameTimeline     = "timeline"
	frameSendChat     = "send_chat"
	frameSendMetadata = "send_metadata"
	framePong         = "pong"
	frameRPCResult    = "rpc_result"
	frameError        = "error"
)

type outboundFrame struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Entry   any             `json:"entry,omitempty"`
	RPCID   string          `json:"rpc_id,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// relaySender forwards agent-bound instructions down the client
// WebSocket; the mobile client relays them onto the room transport.
// Exactly one connection is attached at a time.
type relaySender struct {
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func newRelaySender(logger *slog.Logger) *relaySender {
	return &relaySender{logger: logger}
}

// attach makes conn the active relay target, replacing any previous one.
func (s *relaySender) attach(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.conn != conn {
		_ = s.conn.Close(websocket.StatusNormalClosure, "session replaced")
	}
	s.conn = conn
}

// detach clears conn if it is still the active target.
func (s *relaySender) detach(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
	}
}

// SendChat relays a user chat message to the agent.
func (s *relaySender) SendChat(ctx context.Context, text string) error {
	return s.write(ctx, outboundFrame{Type: frameSendChat, Text: text})
}

// SendMetadata relays a structured payload on the metadata topic.
func (s *relaySender) SendMetadata(ctx context.Context, payload []byte) error {
	return s.write(ctx, outboundFrame{Type: frameSendMetadata, Payload: payload})
}

func (s *relaySender) write(ctx context.Context, frame outboundFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("no client attached")
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
