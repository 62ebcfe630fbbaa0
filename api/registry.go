package api

import (
	"sync"
	"time"

	"seeker/session"
)

// SessionFactory builds the live session for a stored chat session
type SessionFactory func(sessionID string) *session.Session

// registryEntry is a live session plus its last use
type registryEntry struct {
	Session      *session.Session
	LastAccessed time.Time
}

// Registry keeps one live Session per chat session so that the busy flag
// holds across requests
type Registry struct {
	mutex   sync.RWMutex
	entries map[string]*registryEntry
	factory SessionFactory
	now     func() time.Time
}

func NewRegistry(factory SessionFactory) *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		factory: factory,
		now:     time.Now,
	}
}

// Get returns the live session, creating it on first use
func (r *Registry) Get(sessionID string) *session.Session {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entry, ok := r.entries[sessionID]
	if !ok {
		entry = &registryEntry{Session: r.factory(sessionID)}
		r.entries[sessionID] = entry
	}
	entry.LastAccessed = r.now()
	return entry.Session
}

// Lookup returns the live session without creating one
func (r *Registry) Lookup(sessionID string) (*session.Session, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entry, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	return entry.Session, true
}

// Remove closes and forgets a live session
func (r *Registry) Remove(sessionID string) {
	r.mutex.Lock()
	entry, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mutex.Unlock()

	if ok {
		entry.Session.Close()
	}
}

// CleanupExpiredSessions closes idle sessions not used within maxAge and
// returns how many were released. Busy sessions are kept.
func (r *Registry) CleanupExpiredSessions(maxAge time.Duration) int {
	r.mutex.Lock()
	cutoff := r.now().Add(-maxAge)
	var expired []*session.Session
	for id, entry := range r.entries {
		if entry.LastAccessed.Before(cutoff) && !entry.Session.Busy() {
			expired = append(expired, entry.Session)
			delete(r.entries, id)
		}
	}
	r.mutex.Unlock()

	for _, s := range expired {
		s.Close()
	}
	return len(expired)
}

// Len is the number of live sessions
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.entries)
}

// Close releases every live session
func (r *Registry) Close() {
	r.mutex.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mutex.Unlock()

	for _, entry := range entries {
		entry.Session.Close()
	}
}
