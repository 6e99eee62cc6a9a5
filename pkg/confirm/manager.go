package confirm

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrRequestNotFound = errors.New("confirmation request not found")
	ErrTimeout         = errors.New("confirmation request timed out")
	ErrAlreadyAnswered = errors.New("confirmation already answered")
)

// Response is the operator's decision on one confirmation request.
type Response struct {
	Approved bool `json:"approved"`
	Always   bool `json:"always"`
}

// PendingRequest describes a confirmation waiting for an operator
// decision.
type PendingRequest struct {
	ID        string    `json:"id"`
	Tool      string    `json:"tool"`
	Path      string    `json:"path,omitempty"`
	Command   string    `json:"command,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager tracks in-flight confirmation requests and routes operator
// decisions back to the callers waiting on them.
type Manager struct {
	pending sync.Map // map[string]*pendingEntry
	log     *slog.Logger
}

type pendingEntry struct {
	req PendingRequest
	ch  chan Response
}

func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log}
}

// Request registers req and returns a channel its decision arrives on.
// The caller MUST follow up with WaitForResponse, which removes the
// registration again.
func (m *Manager) Request(req PendingRequest) <-chan Response {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	// Buffered so Respond never blocks on a slow waiter.
	entry := &pendingEntry{req: req, ch: make(chan Response, 1)}
	m.pending.Store(req.ID, entry)
	m.log.Debug("confirmation requested", "id", req.ID, "tool", req.Tool)
	return entry.ch
}

// Respond delivers the operator's decision for a pending request.
func (m *Manager) Respond(id string, approved, always bool) error {
	val, ok := m.pending.Load(id)
	if !ok {
		return ErrRequestNotFound
	}

	entry := val.(*pendingEntry)
	select {
	case entry.ch <- Response{Approved: approved, Always: always}:
		return nil
	default:
		return ErrAlreadyAnswered
	}
}

// WaitForResponse blocks until the request is answered, the timeout
// elapses or ctx is done. The registration is removed on return.
func (m *Manager) WaitForResponse(ctx context.Context, id string, timeout time.Duration) (Response, error) {
	val, ok := m.pending.Load(id)
	if !ok {
		return Response{}, ErrRequestNotFound
	}
	entry := val.(*pendingEntry)

	defer m.pending.Delete(id)

	select {
	case resp := <-entry.ch:
		return resp, nil
	case <-time.After(timeout):
		return Response{}, ErrTimeout
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Pending snapshots the requests still waiting for a decision, oldest
// first.
func (m *Manager) Pending() []PendingRequest {
	var reqs []PendingRequest
	m.pending.Range(func(_, val any) bool {
		reqs = append(reqs, val.(*pendingEntry).req)
		return true
	})
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
	return reqs
}
