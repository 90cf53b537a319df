// Package transport connects sessions to the upstream relay broker over
// WebSocket. The broker owns the chat wire protocol; this adapter only
// speaks the broker's JSON frame envelope and translates frames into the
// session package's typed events.
package transport
