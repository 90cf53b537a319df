// ABOUTME: Responder contract shared by the reply generation backends
// ABOUTME: Queries carry the question plus the recent conversation history

package responder

import (
	"context"

	"github.com/relaydesk/relaydesk/internal/history"
)

// Query is one forwarded user question with its conversational context.
// History already includes the question as its most recent user turn.
type Query struct {
	AgentID  string
	UserID   string
	Question string
	History  []history.Turn
}

// Responder generates a reply to a forwarded question. Implementations must
// honor ctx cancellation; the caller applies its own timeout.
type Responder interface {
	Reply(ctx context.Context, q Query) (string, error)
}
