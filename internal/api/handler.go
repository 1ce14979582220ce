// Package api provides HTTP handlers for the pivi-assist API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/pvlabs/pivi-assist/internal/session"
	"github.com/pvlabs/pivi-assist/internal/store"
	"github.com/pvlabs/pivi-assist/internal/transport"
)

// Handler provides common handler utilities.
type Handler struct {
	repo   store.Repository
	hub    *session.Hub
	tokens *transport.TokenClient
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, hub *session.Hub, tokens *transport.TokenClient) *Handler {
	return &Handler{
		repo:   repo,
		hub:    hub,
		tokens: tokens,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
