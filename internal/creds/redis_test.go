// ABOUTME: Integration tests for the Redis credential store
// ABOUTME: Skips when no local Redis is available; validates load/upsert/clear and backups

package creds

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, backupDir string) *RedisStore {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   3, // separate DB for credential tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})

	s, err := NewRedisStore(Config{Client: client, BackupDir: backupDir})
	require.NoError(t, err)
	return s
}

func TestRedisStore_LoadAbsent(t *testing.T) {
	s := newTestRedisStore(t, "")
	ctx := context.Background()

	record, err := s.Load(ctx, "never-paired")
	require.NoError(t, err)
	assert.False(t, record.Exists)
	assert.Nil(t, record.Root())
}

func TestRedisStore_UpsertLoadRoundTrip(t *testing.T) {
	s := newTestRedisStore(t, "")
	ctx := context.Background()

	rootBlob := []byte{0x00, 0xDE, 0xAD, 0xBE, 0xEF, 0xFF}
	require.NoError(t, s.Upsert(ctx, "agent-001", RootCategory, RootKey, rootBlob))
	require.NoError(t, s.Upsert(ctx, "agent-001", "pre-key", "5", []byte("\x00material\x80")))

	record, err := s.Load(ctx, "agent-001")
	require.NoError(t, err)
	assert.True(t, record.Exists)
	assert.Equal(t, rootBlob, record.Root())
	assert.Equal(t, []byte("\x00material\x80"), record.Get("pre-key", "5"))

	// Other sessions stay isolated
	other, err := s.Load(ctx, "agent-002")
	require.NoError(t, err)
	assert.False(t, other.Exists)
}

func TestRedisStore_Delete(t *testing.T) {
	s := newTestRedisStore(t, "")
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "agent-001", "pre-key", "5", []byte("material")))
	require.NoError(t, s.Delete(ctx, "agent-001", "pre-key", "5"))

	record, err := s.Load(ctx, "agent-001")
	require.NoError(t, err)
	assert.Nil(t, record.Get("pre-key", "5"))
}

func TestRedisStore_Clear(t *testing.T) {
	backupDir := t.TempDir()
	s := newTestRedisStore(t, backupDir)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "agent-001", RootCategory, RootKey, []byte("root")))
	require.NoError(t, s.Clear(ctx, "agent-001"))

	record, err := s.Load(ctx, "agent-001")
	require.NoError(t, err)
	assert.False(t, record.Exists)

	_, err = os.Stat(filepath.Join(backupDir, "session-backup-agent-001.json"))
	assert.True(t, os.IsNotExist(err), "backup file should be removed on clear")
}

func TestRedisStore_BackupSnapshot(t *testing.T) {
	backupDir := t.TempDir()
	s := newTestRedisStore(t, backupDir)
	ctx := context.Background()

	blob := []byte{0x01, 0x02, 0x00, 0xFF}
	require.NoError(t, s.Upsert(ctx, "agent-001", RootCategory, RootKey, blob))

	data, err := os.ReadFile(filepath.Join(backupDir, "session-backup-agent-001.json"))
	require.NoError(t, err)

	record, err := UnmarshalRecord(data)
	require.NoError(t, err)
	assert.True(t, record.Exists)
	assert.Equal(t, blob, record.Root())
}

func TestRedisStore_LegacyShapeReadsAsAbsent(t *testing.T) {
	s := newTestRedisStore(t, "")
	ctx := context.Background()

	// Legacy schema stored the whole session as a single string value
	require.NoError(t, s.client.Set(ctx, s.sessionKey("agent-legacy"), "old-format", 0).Err())

	record, err := s.Load(ctx, "agent-legacy")
	require.NoError(t, err)
	assert.False(t, record.Exists, "legacy record must degrade to needs-pairing, not error")
}
