package mcp

import (
	"slices"
	"sync"
)

// SessionRegistry maps diagram lineages to the MCP sessions watching them.
// A session starts watching when it archives or revises a diagram.
type SessionRegistry struct {
	mu       sync.RWMutex
	watchers map[string][]string // rootID → sessionIDs
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{watchers: make(map[string][]string)}
}

// Register adds a session to the watchers of a lineage. Registering twice
// is a no-op.
func (r *SessionRegistry) Register(rootID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.watchers[rootID], sessionID) {
		return
	}
	r.watchers[rootID] = append(r.watchers[rootID], sessionID)
}

// SessionsFor returns the sessions watching a lineage.
func (r *SessionRegistry) SessionsFor(rootID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.watchers[rootID])
}

// Remove drops a session from every lineage.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for root, sids := range r.watchers {
		sids = slices.DeleteFunc(sids, func(s string) bool { return s == sessionID })
		if len(sids) == 0 {
			delete(r.watchers, root)
			continue
		}
		r.watchers[root] = sids
	}
}
