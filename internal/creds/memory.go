// ABOUTME: In-memory credential store for tests
// ABOUTME: Mirrors RedisStore semantics without a running Redis

package creds

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrUpsertFailed is returned by MemoryStore when FailUpserts is set.
var ErrUpsertFailed = errors.New("credential upsert failed")

// MemoryStore is an in-memory Store implementation for testing.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]byte // sessionID → "category/key" → blob

	// FailUpserts makes Upsert return ErrUpsertFailed, for
	// persistence-failure tests.
	FailUpserts bool
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string][]byte)}
}

// Load returns the record for a session.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record := NewRecord(sessionID)
	for field, blob := range m.sessions[sessionID] {
		category, key, ok := strings.Cut(field, "/")
		if !ok {
			continue
		}
		cp := make([]byte, len(blob))
		copy(cp, blob)
		record.Set(category, key, cp)
	}
	record.Exists = record.Root() != nil
	return record, nil
}

// Upsert writes one blob.
func (m *MemoryStore) Upsert(_ context.Context, sessionID, category, key string, blob []byte) error {
	if m.FailUpserts {
		return ErrUpsertFailed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[sessionID] == nil {
		m.sessions[sessionID] = make(map[string][]byte)
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	m.sessions[sessionID][fieldName(category, key)] = cp
	return nil
}

// Delete removes one blob.
func (m *MemoryStore) Delete(_ context.Context, sessionID, category, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions[sessionID], fieldName(category, key))
	return nil
}

// Clear removes all persisted state for a session.
func (m *MemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}
