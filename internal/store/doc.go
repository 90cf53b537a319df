// Package store provides persistent storage for relaydesk using SQLite.
//
// Two concerns live here: the agent directory (tenant records with the owner
// phone used for takeover detection) and the block ledger (time-boxed deny
// entries per agent/counterparty pair). SQLiteStore implements both behind
// the Store interface; MockStore is an in-memory implementation for tests.
//
// Block entries are never read unfiltered: every read compares blocked_until
// against the current clock, and expired rows are removed lazily by
// PurgeExpiredBlocks rather than eagerly on write.
package store
