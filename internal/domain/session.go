package domain

import (
	"time"
)

// AssistSession records one voice-assistant session for a user.
type AssistSession struct {
	SessionID       string     `json:"session_id"`
	UserID          string     `json:"user_id"`
	RoomName        string     `json:"room_name"`
	ParticipantName string     `json:"participant_name"`
	ConnectedAt     time.Time  `json:"connected_at"`
	DisconnectedAt  *time.Time `json:"disconnected_at,omitempty"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
}

// Active reports whether the session has not been closed yet.
func (s *AssistSession) Active() bool {
	return s.DisconnectedAt == nil
}

// IdleFor returns how long the session has been without activity.
func (s *AssistSession) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastSeenAt)
}
