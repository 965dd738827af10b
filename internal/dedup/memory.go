package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory domain.DedupStore. Tests use it in place of
// the SQLite store; expired keys are dropped lazily on access.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]time.Time), now: time.Now}
}

// SetClock overrides the time source, for TTL expiry tests.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryStore) Seen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.keys[key]; ok && exp.After(now) {
		return true, nil
	}
	m.keys[key] = now.Add(ttl)
	return false, nil
}

func (m *MemoryStore) Close() error { return nil }
