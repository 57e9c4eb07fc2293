package registry

import (
	"sync"

	"github.com/spaceshq/spaces-server/internal/domain"
)

// Registry is the live mapping from connection ID to session state. It is
// the single source of truth for who is connected and where they are.
// Implementations must support snapshot iteration so presence projections
// never observe a mid-mutation view.
type Registry interface {
	Upsert(session domain.Session)
	Get(connectionID string) (domain.Session, bool)
	Remove(connectionID string)
	Snapshot() []domain.Session
	Len() int
}

type memoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	order    []string // connection IDs in insertion order
}

// NewMemory creates an in-memory session registry. Sessions are stored by
// value; Get returns a copy, so a handler holding a session across a
// suspension point must re-fetch before trusting it.
func NewMemory() Registry {
	return &memoryRegistry{
		sessions: make(map[string]domain.Session),
	}
}

func (r *memoryRegistry) Upsert(session domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ConnectionID]; !ok {
		r.order = append(r.order, session.ConnectionID)
	}
	r.sessions[session.ConnectionID] = session
}

func (r *memoryRegistry) Get(connectionID string) (domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connectionID]
	return s, ok
}

func (r *memoryRegistry) Remove(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[connectionID]; !ok {
		return
	}
	delete(r.sessions, connectionID)
	for i, id := range r.order {
		if id == connectionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns all sessions in insertion order. The returned slice is
// owned by the caller and safe to iterate while the registry mutates.
func (r *memoryRegistry) Snapshot() []domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

func (r *memoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
