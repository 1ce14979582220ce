package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pvlabs/pivi-assist/internal/config"
	"github.com/pvlabs/pivi-assist/internal/events"
	"github.com/pvlabs/pivi-assist/internal/identity"
	"github.com/pvlabs/pivi-assist/internal/session"
	"github.com/pvlabs/pivi-assist/internal/store"
	"github.com/pvlabs/pivi-assist/internal/transport"
)

func testAPIConfig() *config.Config {
	return &config.Config{
		Port:       "8080",
		DBPath:     "unused",
		SessionTTL: time.Hour,
		Reconcile: config.ReconcileConfig{
			DebounceInterval:    50 * time.Millisecond,
			CrossChannelWindow:  500 * time.Millisecond,
			RedeliveryWindow:    2000 * time.Millisecond,
			DefaultBankName:     "PVcomBank",
			SubscriberQueueSize: 16,
		},
	}
}

func newTestRouter(t *testing.T, tokenEndpoint string) (chi.Router, *session.Hub, store.Repository) {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "assist.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	hub := session.NewHub(testAPIConfig(), repo, events.NewFallback(nil), nil)
	t.Cleanup(hub.CloseAll)

	base := NewHandler(repo, hub, transport.NewTokenClient(tokenEndpoint, ""))

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewSessionHandler(base).RegisterRoutes(r)
	NewHealthHandler(repo).RegisterHealth(r)
	return r, hub, repo
}

func TestHealthEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestIssueToken(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"token": "jwt-abc",
			"wsUrl": "wss://agent.example.com",
		})
	}))
	defer upstream.Close()

	r, hub, _ := newTestRouter(t, upstream.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/session/token", nil)
	req.Header.Set(identity.SessionHeaderName, "tab-1")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var creds transport.Credentials
	if err := json.Unmarshal(rec.Body.Bytes(), &creds); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if creds.Token != "jwt-abc" || creds.WsURL == "" || creds.RoomName == "" {
		t.Errorf("Expected full credentials, got %+v", creds)
	}

	// The engine must already be live for this session.
	cookie := rec.Result().Cookies()
	var userID string
	for _, c := range cookie {
		if c.Name == identity.AnonCookieName {
			userID = c.Value
		}
	}
	if userID == "" {
		t.Fatal("Expected anonymous identity cookie")
	}
	if hub.Get(userID, "tab-1") == nil {
		t.Error("Expected session created in hub")
	}
}

func TestIssueTokenUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer upstream.Close()

	r, _, _ := newTestRouter(t, upstream.URL)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/token", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}
}

func TestGetTimelineWithoutSession(t *testing.T) {
	r, _, _ := newTestRouter(t, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session/timeline", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body struct {
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Entries) != 0 {
		t.Errorf("Expected empty timeline, got %d entries", len(body.Entries))
	}
}

func TestListTransactionsEmpty(t *testing.T) {
	r, _, _ := newTestRouter(t, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/transactions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Transactions) != 0 {
		t.Errorf("Expected no transactions, got %d", len(body.Transactions))
	}
}
