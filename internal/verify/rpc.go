package verify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pvlabs/pivi-assist/internal/domain"
)

// Verification modes that require user interaction. Any other mode is
// answered immediately with a canned code.
const (
	ModeOTP  = "otp"
	ModeEkyc = "ekyc"
)

// cannedEkycCode answers non-interactive verification modes.
const cannedEkycCode = "EKYC-123456"

// Prompter surfaces a verification widget to the user. The engine
// implements it by appending an otpInput or ekycCamera timeline entry.
type Prompter interface {
	AppendVerification(widget domain.WidgetType, requestID, mode string)
}

type getEkycCodeRequest struct {
	Mode string `json:"mode"`
}

type getEkycCodeResponse struct {
	EkycCode string `json:"ekycCode,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Service answers getEkycCode RPCs from the voice agent. Interactive
// modes suspend the RPC until the user submits or the request is
// cancelled; the agent always receives a JSON payload, never an error.
type Service struct {
	requests *Requests
	prompter Prompter
	logger   *slog.Logger
}

// NewService creates the verification RPC service.
func NewService(requests *Requests, prompter Prompter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		requests: requests,
		prompter: prompter,
		logger:   logger,
	}
}

// GetEkycCode handles one getEkycCode invocation. The returned bytes
// are always a valid JSON payload for the agent.
func (s *Service) GetEkycCode(ctx context.Context, payload []byte) []byte {
	var req getEkycCodeRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			s.logger.Warn("malformed getEkycCode payload", "error", err)
			return encodeResponse(getEkycCodeResponse{Error: "invalid payload"})
		}
	}

	switch req.Mode {
	case ModeOTP:
		return s.await(ctx, domain.WidgetOtpInput, req.Mode)
	case ModeEkyc:
		return s.await(ctx, domain.WidgetEkycCamera, req.Mode)
	default:
		s.logger.Info("answering verification with canned code", "mode", req.Mode)
		return encodeResponse(getEkycCodeResponse{EkycCode: cannedEkycCode, Mode: req.Mode})
	}
}

// await registers a pending request, prompts the user, and blocks until
// the request settles or ctx is cancelled.
func (s *Service) await(ctx context.Context, widget domain.WidgetType, mode string) []byte {
	id, resultC := s.requests.Create()
	s.logger.Info("verification requested", "request_id", id, "mode", mode)

	if s.prompter != nil {
		s.prompter.AppendVerification(widget, id, mode)
	}

	select {
	case res := <-resultC:
		if !res.Ok {
			s.logger.Info("verification cancelled", "request_id", id)
			return encodeResponse(getEkycCodeResponse{Error: "verification cancelled", Mode: mode})
		}
		s.logger.Info("verification resolved", "request_id", id)
		return encodeResponse(getEkycCodeResponse{EkycCode: res.Code, Mode: mode})
	case <-ctx.Done():
		// Settle the table entry so a late user submission is a no-op.
		s.requests.Cancel(id)
		s.logger.Warn("verification abandoned by caller", "request_id", id, "error", ctx.Err())
		return encodeResponse(getEkycCodeResponse{Error: "verification timed out", Mode: mode})
	}
}

// Resolve completes a pending request with the user-submitted code.
func (s *Service) Resolve(requestID, code string) bool {
	return s.requests.Resolve(requestID, code)
}

// Cancel settles a pending request without a code.
func (s *Service) Cancel(requestID string) bool {
	return s.requests.Cancel(requestID)
}

func encodeResponse(resp getEkycCodeResponse) []byte {
	payload, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"error":"internal error"}`)
	}
	return payload
}
