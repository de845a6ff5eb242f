package session

import "sync"

// Registry is the in-process map from tenant to live session. It enforces
// at most one non-discarded handle per tenant; the caller is responsible for
// closing an old handle before replacing it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Get(tenantID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[tenantID]
}

func (r *Registry) Put(tenantID string, s *Session) {
	r.mu.Lock()
	r.sessions[tenantID] = s
	r.mu.Unlock()
}

func (r *Registry) Remove(tenantID string) {
	r.mu.Lock()
	delete(r.sessions, tenantID)
	r.mu.Unlock()
}

func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenants := make([]string, 0, len(r.sessions))
	for t := range r.sessions {
		tenants = append(tenants, t)
	}
	return tenants
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
