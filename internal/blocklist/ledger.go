// ABOUTME: Block ledger enforcing time-boxed muting per (agent, counterparty) pair
// ABOUTME: Parses the owner-facing duration grammar and lazily purges expired entries

package blocklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/relaydesk/relaydesk/internal/store"
)

// ErrInvalidDuration is returned for strings outside the duration grammar.
var ErrInvalidDuration = errors.New("invalid block duration")

var durationRe = regexp.MustCompile(`^(\d+)(hr|h|d|a|ano|anos)$`)

// ParseDuration parses the owner-facing block duration grammar:
// "<positive integer><unit>" with unit h/hr (hours), d (days, 24h) or
// a/ano/anos (years, 365d), case-insensitive. "2h" is two hours, "10d" ten
// days, "1a" one 365-day year.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	value, err := strconv.Atoi(m[1])
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	switch m[2] {
	case "h", "hr":
		return time.Duration(value) * time.Hour, nil
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	case "a", "ano", "anos":
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
}

// BlockStore is the slice of store.Store the ledger needs.
type BlockStore interface {
	ReplaceBlock(ctx context.Context, entry *store.BlockEntry) error
	DeleteBlock(ctx context.Context, agentID, counterparty string) (bool, error)
	GetBlock(ctx context.Context, agentID, counterparty string, now time.Time) (*store.BlockEntry, error)
	ListBlocks(ctx context.Context, agentID string, now time.Time) ([]*store.BlockEntry, error)
	PurgeExpiredBlocks(ctx context.Context, now time.Time) (int64, error)
}

// Ledger enforces time-boxed muting backed by a BlockStore.
type Ledger struct {
	store  BlockStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Ledger over the given store.
func New(s BlockStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  s,
		logger: logger.With("component", "blocklist"),
		now:    time.Now,
	}
}

// Block mutes the counterparty for the parsed duration, replacing any prior
// entry for the pair. Returns the instant the block expires.
func (l *Ledger) Block(ctx context.Context, agentID, counterparty, blockedBy, duration string) (time.Time, error) {
	d, err := ParseDuration(duration)
	if err != nil {
		return time.Time{}, err
	}

	now := l.now()
	entry := &store.BlockEntry{
		AgentID:      agentID,
		Counterparty: counterparty,
		BlockedUntil: now.Add(d),
		BlockedBy:    blockedBy,
		CreatedAt:    now,
	}
	if err := l.store.ReplaceBlock(ctx, entry); err != nil {
		return time.Time{}, fmt.Errorf("replacing block: %w", err)
	}

	l.logger.Info("counterparty blocked",
		"agent_id", agentID,
		"counterparty", counterparty,
		"blocked_by", blockedBy,
		"blocked_until", entry.BlockedUntil,
	)
	return entry.BlockedUntil, nil
}

// Unblock removes the entry for the pair, reporting whether one existed.
func (l *Ledger) Unblock(ctx context.Context, agentID, counterparty string) (bool, error) {
	existed, err := l.store.DeleteBlock(ctx, agentID, counterparty)
	if err != nil {
		return false, fmt.Errorf("deleting block: %w", err)
	}
	if existed {
		l.logger.Info("counterparty unblocked", "agent_id", agentID, "counterparty", counterparty)
	}
	return existed, nil
}

// IsBlocked reports whether a live entry exists for the pair. As a side
// effect it opportunistically purges globally expired entries; purge failures
// are logged and do not affect the answer.
func (l *Ledger) IsBlocked(ctx context.Context, agentID, counterparty string) (bool, error) {
	now := l.now()

	_, err := l.store.GetBlock(ctx, agentID, counterparty, now)
	blocked := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("checking block: %w", err)
	}

	if _, purgeErr := l.store.PurgeExpiredBlocks(ctx, now); purgeErr != nil {
		l.logger.Warn("expired block purge failed", "error", purgeErr)
	}

	return blocked, nil
}

// GetInfo returns the live entry for the pair, or store.ErrNotFound.
func (l *Ledger) GetInfo(ctx context.Context, agentID, counterparty string) (*store.BlockEntry, error) {
	return l.store.GetBlock(ctx, agentID, counterparty, l.now())
}

// List returns live entries for an agent, newest first.
func (l *Ledger) List(ctx context.Context, agentID string) ([]*store.BlockEntry, error) {
	return l.store.ListBlocks(ctx, agentID, l.now())
}

// PurgeExpired removes all expired entries. Called by the registry janitor.
func (l *Ledger) PurgeExpired(ctx context.Context) (int64, error) {
	return l.store.PurgeExpiredBlocks(ctx, l.now())
}
