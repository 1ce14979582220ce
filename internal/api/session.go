package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pvlabs/pivi-assist/internal/domain"
	"github.com/pvlabs/pivi-assist/internal/identity"
	"github.com/pvlabs/pivi-assist/internal/session"
)

// SessionHandler handles assistant session endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/session/token", h.IssueToken)
		r.Get("/session/timeline", h.GetTimeline)
		r.Get("/transactions", h.ListTransactions)
	})
}

// IssueToken requests room credentials from the upstream token endpoint
// and binds the room to the caller's session.
func (h *SessionHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := identity.SessionIDFromContext(r.Context())
	participant := identity.ParticipantFromContext(r.Context())

	creds, err := h.tokens.Issue(r.Context(), userID, participant)
	if err != nil {
		slog.Error("Failed to issue room token", "error", err, "user_id", userID)
		Error(w, http.StatusBadGateway, "failed to issue token")
		return
	}

	// Start the engine up front so relayed events have a home.
	s := h.hub.GetOrCreate(userID, sessionID)

	now := time.Now()
	if err := h.repo.UpsertSession(r.Context(), &domain.AssistSession{
		SessionID:       s.Key,
		UserID:          userID,
		RoomName:        creds.RoomName,
		ParticipantName: participant,
		ConnectedAt:     now,
		LastSeenAt:      now,
	}); err != nil {
		slog.Warn("Failed to record session room", "error", err, "user_id", userID)
	}

	JSON(w, http.StatusOK, creds)
}

// GetTimeline returns the caller's full timeline in append order.
func (h *SessionHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := identity.SessionIDFromContext(r.Context())

	s := h.hub.Get(userID, sessionID)
	if s == nil {
		JSON(w, http.StatusOK, map[string]interface{}{"entries": []interface{}{}})
		return
	}

	entries := s.Engine.Snapshot(r.Context())
	if entries == nil {
		entries = []*domain.TimelineEntry{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ListTransactions returns the audited transactions for the caller's
// session, newest first.
func (h *SessionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := identity.SessionIDFromContext(r.Context())

	records, err := h.repo.ListTransactions(r.Context(), session.Key(userID, sessionID))
	if err != nil {
		slog.Error("Failed to list transactions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if records == nil {
		records = []*domain.TransactionRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"transactions": records})
}
