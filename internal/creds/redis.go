// ABOUTME: Redis-backed credential store with best-effort local backup snapshots
// ABOUTME: One hash per session, one field per (category, key) blob

package creds

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed credential store.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client
	// KeyPrefix for all session hashes. Default: "relaydesk:creds:".
	KeyPrefix string
	// BackupDir receives per-session snapshot files. Empty disables backups.
	BackupDir string
}

// RedisStore implements Store over one Redis hash per session. Hash fields
// are "category/key"; values are the raw blobs (Redis values are binary-safe,
// so no wrapping is needed at rest).
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	backupDir string
	logger    *slog.Logger
}

// NewRedisStore creates a credential store over the given client.
func NewRedisStore(cfg Config) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "relaydesk:creds:"
	}
	return &RedisStore{
		client:    cfg.Client,
		keyPrefix: prefix,
		backupDir: cfg.BackupDir,
		logger:    slog.Default().With("component", "creds"),
	}, nil
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.keyPrefix + sessionID
}

func fieldName(category, key string) string {
	return category + "/" + key
}

// Load returns the record for a session. Wrong-type keys (legacy schema) and
// fields without a category separator are skipped, and a session with no
// decodable root credential reads as absent.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	record := NewRecord(sessionID)

	fields, err := s.client.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		if isWrongType(err) {
			s.logger.Warn("legacy-shaped credential record, treating as no session",
				"session_id", sessionID)
			return record, nil
		}
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	for field, value := range fields {
		category, key, ok := strings.Cut(field, "/")
		if !ok {
			s.logger.Warn("skipping malformed credential field",
				"session_id", sessionID, "field", field)
			continue
		}
		record.Set(category, key, []byte(value))
	}

	record.Exists = record.Root() != nil
	return record, nil
}

// Upsert writes one blob and triggers a best-effort backup snapshot.
func (s *RedisStore) Upsert(ctx context.Context, sessionID, category, key string, blob []byte) error {
	err := s.client.HSet(ctx, s.sessionKey(sessionID), fieldName(category, key), blob).Err()
	if err != nil {
		return fmt.Errorf("upserting credential %s/%s: %w", category, key, err)
	}

	s.writeBackup(ctx, sessionID)
	return nil
}

// Delete removes one blob.
func (s *RedisStore) Delete(ctx context.Context, sessionID, category, key string) error {
	err := s.client.HDel(ctx, s.sessionKey(sessionID), fieldName(category, key)).Err()
	if err != nil {
		return fmt.Errorf("deleting credential %s/%s: %w", category, key, err)
	}
	return nil
}

// Clear removes all persisted state for a session, including its backup file.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	if s.backupDir != "" {
		if err := os.Remove(s.backupPath(sessionID)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing credential backup failed",
				"session_id", sessionID, "error", err)
		}
	}
	return nil
}

func (s *RedisStore) backupPath(sessionID string) string {
	return filepath.Join(s.backupDir, "session-backup-"+sessionID+".json")
}

// writeBackup snapshots the full record to a local file. Failures are logged
// and never surfaced to the caller.
func (s *RedisStore) writeBackup(ctx context.Context, sessionID string) {
	if s.backupDir == "" {
		return
	}

	record, err := s.Load(ctx, sessionID)
	if err != nil {
		s.logger.Warn("credential backup read failed", "session_id", sessionID, "error", err)
		return
	}

	data, err := MarshalRecord(record)
	if err != nil {
		s.logger.Warn("credential backup encode failed", "session_id", sessionID, "error", err)
		return
	}

	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		s.logger.Warn("credential backup dir creation failed", "dir", s.backupDir, "error", err)
		return
	}
	if err := os.WriteFile(s.backupPath(sessionID), data, 0600); err != nil {
		s.logger.Warn("credential backup write failed", "session_id", sessionID, "error", err)
	}
}

// isWrongType reports whether a redis error indicates a key holding a value
// of the wrong type (the legacy single-string schema).
func isWrongType(err error) bool {
	return err != nil && strings.Contains(err.Error(), "WRONGTYPE")
}
