// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	agents map[string]*Agent      // keyed by agent ID
	blocks map[string]*BlockEntry // keyed by "agentID|counterparty"
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents: make(map[string]*Agent),
		blocks: make(map[string]*BlockEntry),
	}
}

func blockKey(agentID, counterparty string) string {
	return agentID + "|" + counterparty
}

// UpsertAgent inserts or updates an agent record.
func (m *MockStore) UpsertAgent(_ context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *agent
	m.agents[agent.ID] = &cp
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// GetOwnerPhone returns the configured owner phone for an agent.
func (m *MockStore) GetOwnerPhone(_ context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return "", ErrNotFound
	}
	return a.OwnerPhone, nil
}

// ListActiveAgents returns agents marked active, ordered by creation time.
func (m *MockStore) ListActiveAgents(_ context.Context) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var agents []*Agent
	for _, a := range m.agents {
		if a.Active {
			cp := *a
			agents = append(agents, &cp)
		}
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
	return agents, nil
}

// ReplaceBlock replaces any existing entry for the pair.
func (m *MockStore) ReplaceBlock(_ context.Context, entry *BlockEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.blocks[blockKey(entry.AgentID, entry.Counterparty)] = &cp
	return nil
}

// DeleteBlock removes the entry for the pair.
func (m *MockStore) DeleteBlock(_ context.Context, agentID, counterparty string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := blockKey(agentID, counterparty)
	_, existed := m.blocks[key]
	delete(m.blocks, key)
	return existed, nil
}

// GetBlock returns the live entry for the pair, or ErrNotFound.
func (m *MockStore) GetBlock(_ context.Context, agentID, counterparty string, now time.Time) (*BlockEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.blocks[blockKey(agentID, counterparty)]
	if !ok || e.Expired(now) {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// ListBlocks returns live entries for an agent, newest first.
func (m *MockStore) ListBlocks(_ context.Context, agentID string, now time.Time) ([]*BlockEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []*BlockEntry
	for _, e := range m.blocks {
		if e.AgentID == agentID && !e.Expired(now) {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// PurgeExpiredBlocks deletes every expired entry across all agents.
func (m *MockStore) PurgeExpiredBlocks(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.blocks {
		if e.Expired(now) {
			delete(m.blocks, key)
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
