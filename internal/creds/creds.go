// ABOUTME: Credential record types and the Store interface for session auth state
// ABOUTME: Defines categorized opaque-blob storage keyed by session id

package creds

import (
	"context"
)

// SchemaVersion tags the current record layout. Records carrying a different
// version are treated as legacy and read as absent.
const SchemaVersion = 2

// Root credentials live under this category/key pair; everything else is
// transport key material grouped by category (pre-keys, sender keys, and so on).
const (
	RootCategory = "creds"
	RootKey      = "self"
)

// Record is the in-memory view of one session's persisted credentials.
type Record struct {
	SessionID string
	Version   int
	// Keys maps category → key → opaque blob. Keys are unique per category;
	// ordering carries no meaning.
	Keys map[string]map[string][]byte
	// Exists reports whether root credentials were found in the store. A
	// fresh default-initialized record has Exists false.
	Exists bool
}

// NewRecord returns a default-initialized record for a session with no
// persisted state.
func NewRecord(sessionID string) *Record {
	return &Record{
		SessionID: sessionID,
		Version:   SchemaVersion,
		Keys:      make(map[string]map[string][]byte),
	}
}

// Get returns the blob for (category, key), or nil when absent.
func (r *Record) Get(category, key string) []byte {
	return r.Keys[category][key]
}

// Set stores a blob under (category, key).
func (r *Record) Set(category, key string, blob []byte) {
	if r.Keys[category] == nil {
		r.Keys[category] = make(map[string][]byte)
	}
	r.Keys[category][key] = blob
}

// Root returns the root credential blob, or nil when the session has never
// paired.
func (r *Record) Root() []byte {
	return r.Get(RootCategory, RootKey)
}

// Store is the durable credential persistence contract.
type Store interface {
	// Load returns the record for a session. Absent, malformed, or
	// legacy-shaped state yields a fresh default-initialized record with
	// Exists false, never an error.
	Load(ctx context.Context, sessionID string) (*Record, error)
	// Upsert writes one blob. A successful upsert also triggers a
	// best-effort local backup snapshot; backup failure is logged, never
	// returned.
	Upsert(ctx context.Context, sessionID, category, key string, blob []byte) error
	// Delete removes one blob.
	Delete(ctx context.Context, sessionID, category, key string) error
	// Clear removes all persisted state for a session (logout).
	Clear(ctx context.Context, sessionID string) error
}
