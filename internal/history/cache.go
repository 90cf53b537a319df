// ABOUTME: Bounded per-conversation turn buffer with idle-based eviction
// ABOUTME: Keyed by (agent, counterparty); oldest turns trimmed first beyond the cap

package history

import (
	"sync"
	"time"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"-"`
}

// buffer holds the turns for one conversation.
type buffer struct {
	turns        []Turn
	lastActivity time.Time
}

// Cache is a thread-safe conversation buffer store.
type Cache struct {
	mu       sync.RWMutex
	buffers  map[string]*buffer
	maxTurns int
	maxIdle  time.Duration
	now      func() time.Time
}

// New creates a cache capping each conversation at maxTurns turns and
// evicting conversations idle longer than maxIdle.
func New(maxTurns int, maxIdle time.Duration) *Cache {
	return &Cache{
		buffers:  make(map[string]*buffer),
		maxTurns: maxTurns,
		maxIdle:  maxIdle,
		now:      time.Now,
	}
}

func convKey(agentID, counterparty string) string {
	return agentID + "|" + counterparty
}

// Append pushes a turn onto the conversation buffer, trimming oldest-first
// beyond the cap, and refreshes the buffer's activity timestamp.
func (c *Cache) Append(agentID, counterparty string, turn Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := convKey(agentID, counterparty)
	buf := c.buffers[key]
	if buf == nil {
		buf = &buffer{}
		c.buffers[key] = buf
	}

	if turn.At.IsZero() {
		turn.At = c.now()
	}
	buf.turns = append(buf.turns, turn)
	if len(buf.turns) > c.maxTurns {
		buf.turns = buf.turns[len(buf.turns)-c.maxTurns:]
	}
	buf.lastActivity = c.now()
}

// Get returns a copy of the conversation's turns in order, empty if absent.
func (c *Cache) Get(agentID, counterparty string) []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	buf := c.buffers[convKey(agentID, counterparty)]
	if buf == nil {
		return nil
	}
	out := make([]Turn, len(buf.turns))
	copy(out, buf.turns)
	return out
}

// Len returns the number of live conversation buffers.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.buffers)
}

// Sweep removes conversations idle beyond the max-idle age, returning the
// number evicted. Called by the registry janitor on its fixed interval.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, buf := range c.buffers {
		if now.Sub(buf.lastActivity) > c.maxIdle {
			delete(c.buffers, key)
			removed++
		}
	}
	return removed
}
