// Package creds persists per-session authentication state in a document-style
// backing store (Redis). A session's credentials are a categorized key→blob
// mapping; every blob is opaque binary and must round-trip without corruption.
//
// The store is the source of truth for reconnection. Records are never
// reconstructed from transport state, and a malformed or legacy-shaped record
// reads as "no session" so the connection manager can fall back to a fresh
// pairing challenge instead of failing the whole restore.
package creds
