package cache

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Cache. Expired entries are evicted lazily on access.
type Memory struct {
	entries *xsync.MapOf[string, memoryEntry]
	clock   func() time.Time
}

// MemoryOption customizes a Memory cache.
type MemoryOption func(*Memory)

// WithMemoryClock injects a deterministic clock for TTL evaluation.
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(m *Memory) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewMemory returns an empty in-process cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: xsync.NewMapOf[string, memoryEntry](),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

var _ Cache = (*Memory)(nil)

// Get implements Cache.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, ok := m.load(key)
	if !ok {
		return nil, ErrMiss
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set implements Cache.
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	entry := memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = m.clock().Add(ttl)
	}
	m.entries.Store(key, entry)
	return nil
}

// Del implements Cache.
func (m *Memory) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.entries.Delete(key)
	return nil
}

// Exists implements Cache.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := m.load(key)
	return ok, nil
}

// Len reports how many live entries are stored.
func (m *Memory) Len() int {
	now := m.clock()
	count := 0
	m.entries.Range(func(_ string, entry memoryEntry) bool {
		if !entry.expired(now) {
			count++
		}
		return true
	})
	return count
}

func (m *Memory) load(key string) (memoryEntry, bool) {
	entry, ok := m.entries.Load(key)
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(m.clock()) {
		m.entries.Delete(key)
		return memoryEntry{}, false
	}
	return entry, true
}
