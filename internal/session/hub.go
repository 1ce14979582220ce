// Package session owns live assistant sessions: one reconciliation
// engine per connected device, the WebSocket bridge to the mobile
// client, and the idle-session sweeper.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pvlabs/pivi-assist/internal/config"
	"github.com/pvlabs/pivi-assist/internal/domain"
	"github.com/pvlabs/pivi-assist/internal/events"
	"github.com/pvlabs/pivi-assist/internal/reconcile"
	"github.com/pvlabs/pivi-assist/internal/store"
	"github.com/pvlabs/pivi-assist/internal/verify"
)

// Session is one live assistant session: the engine loop, the
// verification bridge, and the relay back to the mobile client.
type Session struct {
	Key    string
	ID     string
	UserID string

	Engine *reconcile.Engine
	Verify *verify.Service

	sender   *relaySender
	requests *verify.Requests
	cancel   context.CancelFunc
}

// Hub is the registry of live sessions keyed by user and session id.
type Hub struct {
	cfg       *config.Config
	repo      store.Repository
	publisher events.Publisher
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub creates an empty session hub.
func NewHub(cfg *config.Config, repo store.Repository, publisher events.Publisher, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:       cfg,
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Key builds the hub registry key for a user/session pair.
func Key(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// GetOrCreate returns the live session for a user/session pair,
// starting a fresh engine when none exists.
func (h *Hub) GetOrCreate(userID, sessionID string) *Session {
	key := Key(userID, sessionID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.sessions[key]; ok {
		return s
	}

	logger := h.logger.With("user_id", userID, "session_id", sessionID)
	sender := newRelaySender(logger)
	audit := newTxAudit(h.repo, key, events.NewNotifier(h.publisher, key, logger), logger)
	engine := reconcile.NewEngine(h.cfg.Reconcile, sender, audit, logger)
	requests := verify.NewRequests(logger)

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)

	s := &Session{
		Key:      key,
		ID:       sessionID,
		UserID:   userID,
		Engine:   engine,
		Verify:   verify.NewService(requests, engine, logger),
		sender:   sender,
		requests: requests,
		cancel:   cancel,
	}
	h.sessions[key] = s

	h.persistSession(s)
	logger.Info("assistant session started")
	return s
}

// Get returns the live session for a user/session pair, or nil.
func (h *Hub) Get(userID, sessionID string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[Key(userID, sessionID)]
}

// Close stops a session's engine and cancels its pending verifications.
func (h *Hub) Close(userID, sessionID string) {
	key := Key(userID, sessionID)

	h.mu.Lock()
	s, ok := h.sessions[key]
	if ok {
		delete(h.sessions, key)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	h.stopSession(s)
}

// CloseAll stops every live session. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		h.stopSession(s)
	}
}

func (h *Hub) stopSession(s *Session) {
	s.requests.CancelAll()
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.repo.CloseSession(ctx, s.Key, time.Now()); err != nil {
		h.logger.Warn("failed to mark session closed", "session_key", s.Key, "error", err)
	}
	h.logger.Info("assistant session stopped", "session_key", s.Key)
}

func (h *Hub) persistSession(s *Session) {
	now := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.repo.UpsertSession(ctx, &domain.AssistSession{
		SessionID:       s.Key,
		UserID:          s.UserID,
		RoomName:        "",
		ParticipantName: "",
		ConnectedAt:     now,
		LastSeenAt:      now,
	})
	if err != nil {
		h.logger.Warn("failed to persist session", "session_key", s.Key, "error", err)
	}
}

// Touch records session activity for the idle sweeper.
func (h *Hub) Touch(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.repo.TouchSession(ctx, s.Key, time.Now()); err != nil {
		h.logger.Warn("failed to touch session", "session_key", s.Key, "error", err)
	}
}

const sweeperInterval = 5 * time.Minute

// StartSweeper runs a background goroutine that periodically stops
// sessions idle longer than the configured TTL.
func (h *Hub) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweeperInterval)
	go func() {
		defer ticker.Stop()
		h.logger.Info("session sweeper started", "interval", sweeperInterval, "ttl", h.cfg.SessionTTL)

		for {
			select {
			case <-ticker.C:
				h.sweep(ctx)
			case <-ctx.Done():
				h.logger.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (h *Hub) sweep(ctx context.Context) {
	idle, err := h.repo.GetIdleSessions(ctx, h.cfg.SessionTTL)
	if err != nil {
		h.logger.Error("sweeper failed to get idle sessions", "error", err)
		return
	}
	if len(idle) == 0 {
		return
	}

	h.logger.Info("sweeper found idle sessions", "count", len(idle))

	for _, rec := range idle {
		h.mu.Lock()
		s, ok := h.sessions[rec.SessionID]
		if ok {
			delete(h.sessions, rec.SessionID)
		}
		h.mu.Unlock()

		if ok {
			h.stopSession(s)
			continue
		}
		// Row without a live engine (e.g. after a restart): just close it.
		if err := h.repo.CloseSession(ctx, rec.SessionID, time.Now()); err != nil {
			h.logger.Warn("sweeper failed to close session row", "session_key", rec.SessionID, "error", err)
		}
	}
}
