package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/pvlabs/pivi-assist/internal/domain"
	"github.com/pvlabs/pivi-assist/internal/identity"
	"github.com/pvlabs/pivi-assist/internal/reconcile"
	"github.com/pvlabs/pivi-assist/internal/transport"
)

// Inbound frame types from the mobile client. The client relays room
// transport events upward and forwards local user actions.
const (
	frameTranscript      = "transcript"
	frameMetadata        = "metadata"
	frameConnection      = "connection"
	frameChat            = "chat"
	frameConfirmTransfer = "confirm_transfer"
	frameSelectAccount   = "select_account"
	frameRPC             = "rpc"
	frameOtpSubmit       = "otp_submit"
	frameEkycSubmit      = "ekyc_submit"
	frameVerifyCancel    = "verify_cancel"
	framePing            = "ping"
)

// rpcTimeout bounds how long an agent RPC may stay suspended waiting
// for user input.
const rpcTimeout = 2 * time.Minute

type inboundFrame struct {
	Type string `json:"type"`

	ParticipantIdentity string `json:"participant_identity,omitempty"`
	Text                string `json:"text,omitempty"`
	IsFinal             bool   `json:"is_final,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`
	RPCID   string          `json:"rpc_id,omitempty"`
	Method  string          `json:"method,omitempty"`

	Connected bool `json:"connected,omitempty"`

	FlowID        string `json:"flow_id,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code,omitempty"`
}

// WebSocketHandler bridges one mobile client to its assistant session.
type WebSocketHandler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates the session bridge handler.
func NewWebSocketHandler(hub *Hub, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	s := h.hub.GetOrCreate(userID, sessionID)
	s.sender.attach(ws)
	defer s.sender.detach(ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before replaying so nothing committed in between is
	// lost. An update that duplicates a replayed entry is harmless:
	// clients upsert timeline frames by entry id.
	updates, unsubscribe := s.Engine.Subscribe()
	defer unsubscribe()

	// Replay the timeline so a reconnecting client renders current state.
	for _, entry := range s.Engine.Snapshot(ctx) {
		if err := s.sender.write(ctx, outboundFrame{Type: frameTimeline, Entry: entry}); err != nil {
			slog.Debug("Failed to replay timeline entry", "error", err, "user_id", userID)
			return
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: client frames -> engine.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, s)
	}()

	// Output loop: engine updates -> client.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, s, updates)
	}()

	wg.Wait()
	slog.Info("Assistant bridge closed", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, s *Session) {
	lastTouch := time.Now()

	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", s.UserID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", s.UserID)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			slog.Warn("Dropping malformed client frame", "error", err, "user_id", s.UserID)
			continue
		}

		h.dispatch(ctx, s, frame)

		if time.Since(lastTouch) > 30*time.Second {
			lastTouch = time.Now()
			go h.hub.Touch(s)
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, s *Session, frame inboundFrame) {
	switch frame.Type {
	case frameTranscript:
		s.Engine.HandleTranscript(domain.TranscriptEvent{
			ParticipantIdentity: frame.ParticipantIdentity,
			Text:                frame.Text,
			IsFinal:             frame.IsFinal,
		})
	case frameMetadata:
		s.Engine.HandleMetadata(frame.Payload)
	case frameConnection:
		s.Engine.HandleConnectionChange(frame.Connected)
	case frameChat:
		s.Engine.SendUserMessage(frame.Text)
	case frameConfirmTransfer:
		s.Engine.ConfirmTransfer(frame.FlowID)
	case frameSelectAccount:
		s.Engine.SelectAccount(frame.FlowID, frame.AccountNumber)
	case frameRPC:
		h.handleRPC(ctx, s, frame)
	case frameOtpSubmit, frameEkycSubmit:
		if !s.Verify.Resolve(frame.RequestID, frame.Code) {
			slog.Debug("Verification submit for settled request", "request_id", frame.RequestID)
		}
	case frameVerifyCancel:
		s.Verify.Cancel(frame.RequestID)
	case framePing:
		if err := s.sender.write(ctx, outboundFrame{Type: framePong}); err != nil {
			slog.Debug("Failed to send pong", "error", err)
		}
	default:
		slog.Info("Ignoring unknown client frame", "type", frame.Type, "user_id", s.UserID)
	}
}

// handleRPC answers an agent RPC relayed by the client. The response
// frame carries the rpc id so the client can route it back.
func (h *WebSocketHandler) handleRPC(ctx context.Context, s *Session, frame inboundFrame) {
	if frame.Method != transport.RPCGetEkycCode {
		slog.Info("Ignoring unknown RPC method", "method", frame.Method, "user_id", s.UserID)
		if err := s.sender.write(ctx, outboundFrame{
			Type:  frameRPCResult,
			RPCID: frame.RPCID,
			Error: "unknown method",
		}); err != nil {
			slog.Debug("Failed to send RPC error", "error", err)
		}
		return
	}

	// GetEkycCode may suspend on user input; answer off the read loop.
	go func() {
		rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		defer cancel()

		result := s.Verify.GetEkycCode(rpcCtx, frame.Payload)
		if err := s.sender.write(ctx, outboundFrame{
			Type:    frameRPCResult,
			RPCID:   frame.RPCID,
			Payload: result,
		}); err != nil {
			slog.Debug("Failed to send RPC result", "error", err, "user_id", s.UserID)
		}
	}()
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, s *Session, updates <-chan reconcile.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			if err := s.sender.write(ctx, outboundFrame{Type: frameTimeline, Entry: upd.Entry}); err != nil {
				slog.Debug("Failed to push timeline update", "error", err, "user_id", s.UserID)
				return
			}
		}
	}
}
