package mcp

import "sync"

// SessionRegistry maps execution IDs to the MCP sessions that started them.
// Populated by workflow.start when the call arrives on a session.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]struct{} // executionID → sessionIDs
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]map[string]struct{})}
}

// Watch subscribes a session to an execution's events.
func (r *SessionRegistry) Watch(executionID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sessions[executionID]
	if !ok {
		set = make(map[string]struct{})
		r.sessions[executionID] = set
	}
	set[sessionID] = struct{}{}
}

// SessionsFor returns the sessions watching an execution.
func (r *SessionRegistry) SessionsFor(executionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.sessions[executionID]
	out := make([]string, 0, len(set))
	for sid := range set {
		out = append(out, sid)
	}
	return out
}

// Forget drops every watcher of an execution.
func (r *SessionRegistry) Forget(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, executionID)
}

// RemoveSession drops a disconnected session from every execution.
func (r *SessionRegistry) RemoveSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for eid, set := range r.sessions {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.sessions, eid)
		}
	}
}
