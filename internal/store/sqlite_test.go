// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers agent directory CRUD and block ledger replace/expiry/purge semantics

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist in nested directory")
}

func TestUpsertAndGetAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &Agent{
		ID:         "agent-001",
		Name:       "Loja Centro",
		OwnerPhone: "+55 11 91234-5678",
		Active:     true,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.UpsertAgent(ctx, agent))

	got, err := s.GetAgent(ctx, "agent-001")
	require.NoError(t, err)
	assert.Equal(t, agent.Name, got.Name)
	assert.Equal(t, agent.OwnerPhone, got.OwnerPhone)
	assert.True(t, got.Active)

	// Upsert updates in place
	agent.OwnerPhone = "+55 11 99999-0000"
	agent.Active = false
	require.NoError(t, s.UpsertAgent(ctx, agent))

	got, err = s.GetAgent(ctx, "agent-001")
	require.NoError(t, err)
	assert.Equal(t, "+55 11 99999-0000", got.OwnerPhone)
	assert.False(t, got.Active)
}

func TestGetAgent_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAgent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOwnerPhone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAgent(ctx, &Agent{
		ID:         "agent-001",
		OwnerPhone: "5511912345678",
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}))

	phone, err := s.GetOwnerPhone(ctx, "agent-001")
	require.NoError(t, err)
	assert.Equal(t, "5511912345678", phone)

	_, err = s.GetOwnerPhone(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListActiveAgents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpsertAgent(ctx, &Agent{ID: "b", Active: true, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.UpsertAgent(ctx, &Agent{ID: "a", Active: true, CreatedAt: base}))
	require.NoError(t, s.UpsertAgent(ctx, &Agent{ID: "c", Active: false, CreatedAt: base.Add(2 * time.Minute)}))

	agents, err := s.ListActiveAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "a", agents[0].ID)
	assert.Equal(t, "b", agents[1].ID)
}

func TestReplaceBlock_LastWriterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := &BlockEntry{
		AgentID:      "agent-001",
		Counterparty: "5511988887777",
		BlockedUntil: now.Add(time.Hour),
		BlockedBy:    BlockedBySystem,
		CreatedAt:    now,
	}
	require.NoError(t, s.ReplaceBlock(ctx, first))

	second := &BlockEntry{
		AgentID:      "agent-001",
		Counterparty: "5511988887777",
		BlockedUntil: now.Add(24 * time.Hour),
		BlockedBy:    BlockedByOwnerTakeover,
		CreatedAt:    now.Add(time.Second),
	}
	require.NoError(t, s.ReplaceBlock(ctx, second))

	got, err := s.GetBlock(ctx, "agent-001", "5511988887777", now)
	require.NoError(t, err)
	assert.Equal(t, BlockedByOwnerTakeover, got.BlockedBy)
	assert.WithinDuration(t, second.BlockedUntil, got.BlockedUntil, time.Second)
}

func TestGetBlock_TimeFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.ReplaceBlock(ctx, &BlockEntry{
		AgentID:      "agent-001",
		Counterparty: "5511988887777",
		BlockedUntil: now.Add(2 * time.Hour),
		BlockedBy:    BlockedByManual,
		CreatedAt:    now,
	}))

	_, err := s.GetBlock(ctx, "agent-001", "5511988887777", now)
	assert.NoError(t, err)

	// Reading past expiry behaves as if the row were gone
	_, err = s.GetBlock(ctx, "agent-001", "5511988887777", now.Add(2*time.Hour+time.Second))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	existed, err := s.DeleteBlock(ctx, "agent-001", "5511988887777")
	require.NoError(t, err)
	assert.False(t, existed)

	require.NoError(t, s.ReplaceBlock(ctx, &BlockEntry{
		AgentID:      "agent-001",
		Counterparty: "5511988887777",
		BlockedUntil: now.Add(time.Hour),
		BlockedBy:    BlockedByManual,
		CreatedAt:    now,
	}))

	existed, err = s.DeleteBlock(ctx, "agent-001", "5511988887777")
	require.NoError(t, err)
	assert.True(t, existed)
}

func TestListBlocks_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.ReplaceBlock(ctx, &BlockEntry{
		AgentID: "agent-001", Counterparty: "111",
		BlockedUntil: now.Add(time.Hour), BlockedBy: BlockedByManual, CreatedAt: now,
	}))
	require.NoError(t, s.ReplaceBlock(ctx, &BlockEntry{
		AgentID: "agent-001", Counterparty: "222",
		BlockedUntil: now.Add(time.Hour), BlockedBy: BlockedBySystem, CreatedAt: now.Add(time.Minute),
	}))
	require.NoError(t, s.ReplaceBlock(ctx, &BlockEntry{
		AgentID: "agent-002", Counterparty: "333",
		BlockedUntil: now.Add(time.Hour), BlockedBy: BlockedBySystem, CreatedAt: now,
	}))

	entries, err := s.ListBlocks(ctx, "agent-001", now)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "222", entries[0].Counterparty)
	assert.Equal(t, "111", entries[1].Counterparty)
}

func TestPurgeExpiredBlocks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.ReplaceBlock(ctx, &BlockEntry{
		AgentID: "agent-001", Counterparty: "live",
		BlockedUntil: now.Add(time.Hour), BlockedBy: BlockedByManual, CreatedAt: now,
	}))
	require.NoError(t, s.ReplaceBlock(ctx, &BlockEntry{
		AgentID: "agent-001", Counterparty: "dead",
		BlockedUntil: now.Add(-time.Minute), BlockedBy: BlockedByManual, CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.ReplaceBlock(ctx, &BlockEntry{
		AgentID: "agent-002", Counterparty: "dead-too",
		BlockedUntil: now.Add(-time.Second), BlockedBy: BlockedBySystem, CreatedAt: now.Add(-time.Hour),
	}))

	n, err := s.PurgeExpiredBlocks(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	entries, err := s.ListBlocks(ctx, "agent-001", now)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "live", entries[0].Counterparty)
}
