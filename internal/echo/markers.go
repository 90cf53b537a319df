// ABOUTME: Thread-safe TTL set of outgoing message ids for echo detection
// ABOUTME: Markers are consumed at most once; expired markers are never consumable

package echo

import (
	"container/list"
	"sync"
	"time"
)

// markerEntry stores the send timestamp and list element for a marker.
type markerEntry struct {
	sentAt  time.Time
	element *list.Element
}

// Markers is a thread-safe, TTL-based, size-limited set of message ids the
// session has just sent. A doubly-linked list maintains insertion order for
// O(1) eviction of the oldest marker when at capacity.
type Markers struct {
	mu      sync.Mutex
	seen    map[string]*markerEntry
	order   *list.List // message ids in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a marker set with the given TTL and maximum size. The set has
// no background goroutine; callers drive eviction through Sweep.
func New(ttl time.Duration, maxSize int) *Markers {
	return &Markers{
		seen:    make(map[string]*markerEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Mark records an outgoing message id. Re-marking an id refreshes its
// timestamp. If the set is at capacity, the oldest marker is evicted.
func (m *Markers) Mark(messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if entry, exists := m.seen[messageID]; exists {
		entry.sentAt = now
		m.order.MoveToBack(entry.element)
		return
	}

	if len(m.seen) >= m.maxSize {
		m.evictOldest()
	}

	elem := m.order.PushBack(messageID)
	m.seen[messageID] = &markerEntry{sentAt: now, element: elem}
}

// Consume returns true exactly once per live marker: if the id is present and
// not expired, the marker is removed and true is returned. Expired or unknown
// ids return false, so a second occurrence of the same id is evaluated as a
// fresh self-message.
func (m *Markers) Consume(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.seen[messageID]
	if !ok {
		return false
	}

	live := m.now().Sub(entry.sentAt) < m.ttl
	m.order.Remove(entry.element)
	delete(m.seen, messageID)
	return live
}

// Len returns the number of markers currently held, expired or not.
func (m *Markers) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// Sweep removes every marker older than the TTL, consumed or not. It is
// idempotent and safe to call from any goroutine.
func (m *Markers) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for elem := m.order.Front(); elem != nil; {
		next := elem.Next()
		id, _ := elem.Value.(string)
		entry := m.seen[id]
		if now.Sub(entry.sentAt) >= m.ttl {
			m.order.Remove(elem)
			delete(m.seen, id)
			removed++
		}
		elem = next
	}
	return removed
}

// evictOldest removes the oldest marker. Must be called with mu held.
func (m *Markers) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.seen, id)
}
