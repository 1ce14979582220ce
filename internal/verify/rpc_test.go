package verify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pvlabs/pivi-assist/internal/domain"
)

type recordingPrompter struct {
	mu      sync.Mutex
	widgets []domain.WidgetType
	ids     []string
}

func (p *recordingPrompter) AppendVerification(widget domain.WidgetType, requestID, mode string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.widgets = append(p.widgets, widget)
	p.ids = append(p.ids, requestID)
}

func (p *recordingPrompter) lastID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return ""
	}
	return p.ids[len(p.ids)-1]
}

func decodeResponse(t *testing.T, payload []byte) getEkycCodeResponse {
	t.Helper()
	var resp getEkycCodeResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	return resp
}

func TestService_NonInteractiveModeAnsweredImmediately(t *testing.T) {
	s := NewService(NewRequests(nil), nil, nil)

	resp := decodeResponse(t, s.GetEkycCode(context.Background(), []byte(`{"mode":"face"}`)))
	if resp.EkycCode != cannedEkycCode {
		t.Errorf("Expected canned code, got %q", resp.EkycCode)
	}
	if resp.Mode != "face" {
		t.Errorf("Expected mode echoed, got %q", resp.Mode)
	}
}

func TestService_OtpModeSuspendsUntilResolved(t *testing.T) {
	prompter := &recordingPrompter{}
	s := NewService(NewRequests(nil), prompter, nil)

	done := make(chan getEkycCodeResponse, 1)
	go func() {
		done <- decodeResponse(t, s.GetEkycCode(context.Background(), []byte(`{"mode":"otp"}`)))
	}()

	// Wait for the prompt, then submit as the user would.
	var id string
	deadline := time.Now().Add(time.Second)
	for id == "" {
		if time.Now().After(deadline) {
			t.Fatal("Expected verification prompt, got none")
		}
		id = prompter.lastID()
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-done:
		t.Fatal("Expected RPC to stay suspended until resolution")
	default:
	}

	if !s.Resolve(id, "987654") {
		t.Fatal("Expected resolve to succeed")
	}

	select {
	case resp := <-done:
		if resp.EkycCode != "987654" || resp.Mode != "otp" {
			t.Errorf("Expected submitted code returned, got %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected RPC to return after resolution")
	}

	prompter.mu.Lock()
	defer prompter.mu.Unlock()
	if len(prompter.widgets) != 1 || prompter.widgets[0] != domain.WidgetOtpInput {
		t.Errorf("Expected otpInput widget prompted, got %v", prompter.widgets)
	}
}

func TestService_EkycModePromptsCameraWidget(t *testing.T) {
	prompter := &recordingPrompter{}
	s := NewService(NewRequests(nil), prompter, nil)

	done := make(chan getEkycCodeResponse, 1)
	go func() {
		done <- decodeResponse(t, s.GetEkycCode(context.Background(), []byte(`{"mode":"ekyc"}`)))
	}()

	deadline := time.Now().Add(time.Second)
	for prompter.lastID() == "" {
		if time.Now().After(deadline) {
			t.Fatal("Expected verification prompt, got none")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Cancel(prompter.lastID())

	select {
	case resp := <-done:
		if resp.Error == "" {
			t.Errorf("Expected error payload for cancelled verification, got %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected RPC to return after cancellation")
	}

	prompter.mu.Lock()
	defer prompter.mu.Unlock()
	if prompter.widgets[0] != domain.WidgetEkycCamera {
		t.Errorf("Expected ekycCamera widget prompted, got %v", prompter.widgets)
	}
}

func TestService_ContextCancelSettlesRequest(t *testing.T) {
	requests := NewRequests(nil)
	prompter := &recordingPrompter{}
	s := NewService(requests, prompter, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan getEkycCodeResponse, 1)
	go func() {
		done <- decodeResponse(t, s.GetEkycCode(ctx, []byte(`{"mode":"otp"}`)))
	}()

	deadline := time.Now().Add(time.Second)
	for prompter.lastID() == "" {
		if time.Now().After(deadline) {
			t.Fatal("Expected verification prompt, got none")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()

	select {
	case resp := <-done:
		if resp.Error == "" {
			t.Errorf("Expected timeout error payload, got %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected RPC to return after context cancel")
	}

	// A late user submission must be a no-op.
	if s.Resolve(prompter.lastID(), "111111") {
		t.Error("Expected late resolve to fail after context cancel")
	}
}

func TestService_MalformedPayloadReturnsErrorJSON(t *testing.T) {
	s := NewService(NewRequests(nil), nil, nil)

	resp := decodeResponse(t, s.GetEkycCode(context.Background(), []byte("{broken")))
	if resp.Error == "" {
		t.Errorf("Expected error payload, got %+v", resp)
	}
}
