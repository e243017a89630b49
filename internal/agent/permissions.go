package agent

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	acp "github.com/coder/acp-go-sdk"
)

// PendingPermission is one outstanding permission request awaiting a client
// decision.
type PendingPermission struct {
	AgentName string
	SessionID acp.SessionId

	responder chan<- acp.RequestPermissionOutcome
	done      <-chan struct{}
}

// PermissionStore tracks pending permission requests by ID so that responses
// arriving over the API can be routed back to the blocked agent RPC.
type PermissionStore struct {
	mu      sync.RWMutex
	pending map[string]PendingPermission
	nextID  atomic.Uint64
}

// NewPermissionStore creates an empty permission store.
func NewPermissionStore() *PermissionStore {
	return &PermissionStore{
		pending: make(map[string]PendingPermission),
	}
}

// Add registers a pending request and returns its ID. The responder channel
// must be buffered; done signals that the requester stopped waiting.
func (s *PermissionStore) Add(agentName string, sessionID acp.SessionId, responder chan<- acp.RequestPermissionOutcome, done <-chan struct{}) string {
	id := strconv.FormatUint(s.nextID.Add(1), 10)

	s.mu.Lock()
	s.pending[id] = PendingPermission{
		AgentName: agentName,
		SessionID: sessionID,
		responder: responder,
		done:      done,
	}
	s.mu.Unlock()

	return id
}

// Respond resolves a pending request with the given outcome. The entry is
// removed whether or not delivery succeeds: a decision is consumed exactly
// once.
func (s *PermissionStore) Respond(id string, outcome acp.RequestPermissionOutcome) error {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrPermissionNotFound, id)
	}

	select {
	case p.responder <- outcome:
		return nil
	case <-p.done:
		return fmt.Errorf("%w: %s", ErrPermissionReceiverDropped, id)
	}
}

// Remove drops a pending request without resolving it. Used when the
// requester gives up (e.g. the prompt was cancelled).
func (s *PermissionStore) Remove(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Pending returns the number of outstanding requests.
func (s *PermissionStore) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// List returns the outstanding requests keyed by ID.
func (s *PermissionStore) List() map[string]PendingPermission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]PendingPermission, len(s.pending))
	for id, p := range s.pending {
		out[id] = p
	}
	return out
}
