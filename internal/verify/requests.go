// Package verify bridges agent-initiated verification RPCs (OTP codes,
// eKYC captures) to local user input through a pending-request table.
package verify

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Result is the outcome of one verification request. Ok is false when
// the request was cancelled before the user responded.
type Result struct {
	Code string
	Ok   bool
}

type pendingRequest struct {
	ch chan Result
}

// Requests tracks in-flight verification requests keyed by request id.
// Each request resolves at most once: whichever of Resolve or Cancel
// runs first wins, the other becomes a no-op.
type Requests struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewRequests creates an empty pending-request table.
func NewRequests(logger *slog.Logger) *Requests {
	if logger == nil {
		logger = slog.Default()
	}
	return &Requests{
		logger:  logger,
		pending: make(map[string]*pendingRequest),
	}
}

// Create registers a new pending request and returns its id plus the
// channel that will carry the single result.
func (r *Requests) Create() (string, <-chan Result) {
	id := uuid.NewString()
	req := &pendingRequest{ch: make(chan Result, 1)}

	r.mu.Lock()
	r.pending[id] = req
	r.mu.Unlock()

	return id, req.ch
}

// Resolve delivers the user-provided code to the waiting request.
// Returns false when the id is unknown or already settled.
func (r *Requests) Resolve(id, code string) bool {
	req := r.take(id)
	if req == nil {
		r.logger.Debug("resolve for unknown or settled request", "request_id", id)
		return false
	}
	req.ch <- Result{Code: code, Ok: true}
	return true
}

// Cancel settles the request without a code. Returns false when the id
// is unknown or already settled.
func (r *Requests) Cancel(id string) bool {
	req := r.take(id)
	if req == nil {
		return false
	}
	req.ch <- Result{Ok: false}
	return true
}

// CancelAll cancels every in-flight request. Used on session teardown.
func (r *Requests) CancelAll() {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]*pendingRequest)
	r.mu.Unlock()

	for id, req := range pending {
		req.ch <- Result{Ok: false}
		r.logger.Debug("cancelled pending verification request", "request_id", id)
	}
}

// Len returns the number of in-flight requests.
func (r *Requests) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// take removes and returns the request, making settlement exclusive.
func (r *Requests) take(id string) *pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return req
}
