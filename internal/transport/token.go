package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Credentials is what the mobile client needs to join the agent room.
type Credentials struct {
	Token    string `json:"token"`
	WsURL    string `json:"wsUrl"`
	RoomName string `json:"roomName"`
}

// TokenClient issues room access tokens from the backend token
// endpoint. Token minting stays upstream; the gateway never holds
// signing keys.
type TokenClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewTokenClient creates a token client for the configured endpoint.
func NewTokenClient(endpoint, apiKey string) *TokenClient {
	return &TokenClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type tokenRequest struct {
	RoomName        string `json:"roomName"`
	ParticipantName string `json:"participantName"`
	Metadata        string `json:"metadata,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
	WsURL string `json:"wsUrl"`
}

// Issue requests a token for a fresh room joined as participantName.
func (c *TokenClient) Issue(ctx context.Context, userID, participantName string) (*Credentials, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("token endpoint not configured")
	}

	roomName := RoomName(userID)
	body, err := json.Marshal(tokenRequest{
		RoomName:        roomName,
		ParticipantName: participantName,
		Metadata:        userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, data)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.Token == "" || tr.WsURL == "" {
		return nil, fmt.Errorf("token endpoint returned incomplete credentials")
	}

	return &Credentials{Token: tr.Token, WsURL: tr.WsURL, RoomName: roomName}, nil
}

// RoomName builds a unique room name from a user id prefix, a
// timestamp, and a random suffix.
func RoomName(userID string) string {
	prefix := userID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("ai-assistant-room-%s-%d-%s", prefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}
