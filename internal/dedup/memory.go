// Package dedup provides bounded windows of already-seen transaction ids.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults for the in-memory window.
const (
	DefaultCapacity = 10_000
	DefaultTTL      = 10 * time.Minute
)

// Memory is an in-process dedup window bounded by capacity and age.
// Seeing an id again refreshes its age, so a transaction that keeps
// showing up in successive polls is never re-emitted.
type Memory struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewMemory creates an in-memory window. Zero values select defaults.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{seen: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

// IsNew reports whether txID was unseen and records it.
func (m *Memory) IsNew(_ context.Context, txID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, seen := m.seen.Get(txID)
	m.seen.Add(txID, struct{}{})
	return !seen, nil
}

// Len returns the number of ids currently held.
func (m *Memory) Len() int {
	return m.seen.Len()
}
