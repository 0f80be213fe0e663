// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Struct Definition
// =============================================================================

// Store is an in-memory registry of live sessions keyed by id.
//
// Sessions are ephemeral: they exist only while the process runs and are
// pruned once idle past the configured TTL.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// =============================================================================
// Methods
// =============================================================================

// GetOrCreate returns the session with the given id, creating it when the id
// is empty or unknown. The second return value reports whether a new session
// was created.
func (st *Store) GetOrCreate(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if id != "" {
		if s, ok := st.sessions[id]; ok {
			return s, false
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	s := NewSession(id)
	st.sessions[id] = s
	slog.Info("Created session", "session_id", id)
	return s, true
}

// Get returns the session with the given id, or nil.
func (st *Store) Get(id string) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[id]
}

// Delete invalidates and removes a session. Returns false if the id was
// unknown.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	if ok {
		// Invalidate outside the store lock; it takes the session mutex.
		s.Invalidate()
		slog.Info("Deleted session", "session_id", id)
	}
	return ok
}

// List returns the ids of all live sessions.
func (st *Store) List() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// PruneIdle removes sessions idle longer than ttl. Sessions holding the turn
// lock are skipped even when stale. Returns the number pruned.
func (st *Store) PruneIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	st.mu.Lock()
	var victims []*Session
	for id, s := range st.sessions {
		if s.LastActiveAt().Before(cutoff) && s.CurrentTurnID() == "" {
			delete(st.sessions, id)
			victims = append(victims, s)
		}
	}
	st.mu.Unlock()

	for _, s := range victims {
		s.Invalidate()
	}
	if len(victims) > 0 {
		slog.Info("Pruned idle sessions", "count", len(victims), "ttl", ttl)
	}
	return len(victims)
}
