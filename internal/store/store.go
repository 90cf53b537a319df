// ABOUTME: Store interface and data types for relaydesk persistence
// ABOUTME: Defines Agent, BlockEntry structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// BlockedBy values record who muted a counterparty.
const (
	BlockedByOwnerTakeover = "owner_takeover" // the account holder replied manually
	BlockedByManual        = "manual"         // explicit owner command
	BlockedBySystem        = "system"         // user asked for a human
)

// Agent is a tenant's chat-bot identity, bound to one external account.
// OwnerPhone is the canonical owner number used for takeover and command
// authorization checks.
type Agent struct {
	ID         string
	Name       string
	OwnerPhone string
	Active     bool
	CreatedAt  time.Time
}

// BlockEntry is a time-boxed mute for one (agent, counterparty) pair.
// At most one entry exists per pair; a new block replaces any prior one.
type BlockEntry struct {
	AgentID      string
	Counterparty string
	BlockedUntil time.Time
	BlockedBy    string
	CreatedAt    time.Time
}

// Expired reports whether the entry is past its blocked_until instant.
func (e *BlockEntry) Expired(now time.Time) bool {
	return !e.BlockedUntil.After(now)
}

// Store defines the interface for agent directory and block ledger persistence.
type Store interface {
	// Agent directory
	UpsertAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	// GetOwnerPhone returns the configured owner phone for an agent, or ""
	// when the agent exists but has no number configured.
	GetOwnerPhone(ctx context.Context, id string) (string, error)
	// ListActiveAgents returns agents eligible for session restoration.
	ListActiveAgents(ctx context.Context) ([]*Agent, error)

	// Block ledger
	// ReplaceBlock removes any existing entry for the pair and inserts the
	// new one (last writer wins).
	ReplaceBlock(ctx context.Context, entry *BlockEntry) error
	// DeleteBlock removes the entry for the pair, reporting whether one existed.
	DeleteBlock(ctx context.Context, agentID, counterparty string) (bool, error)
	// GetBlock returns the live (non-expired as of now) entry for the pair,
	// or ErrNotFound.
	GetBlock(ctx context.Context, agentID, counterparty string, now time.Time) (*BlockEntry, error)
	// ListBlocks returns live entries for an agent, newest first.
	ListBlocks(ctx context.Context, agentID string, now time.Time) ([]*BlockEntry, error)
	// PurgeExpiredBlocks deletes every entry (any agent) expired as of now,
	// returning the number removed.
	PurgeExpiredBlocks(ctx context.Context, now time.Time) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}
