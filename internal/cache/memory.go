package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryProvider is an in-process Provider with per-key expiry, used when no
// Valkey address is configured.
type MemoryProvider struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	now   func() time.Time
}

// NewMemoryProvider creates an empty in-process cache.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{items: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.lookupLocked(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores value unconditionally, replacing any live entry.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeLocked(key, value, ttl)
	return nil
}

// SetNX stores value only when key is absent or expired.
func (m *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookupLocked(key); ok {
		return false, nil
	}
	m.storeLocked(key, value, ttl)
	return true, nil
}

func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]memoryEntry)
	return nil
}

func (m *MemoryProvider) lookupLocked(key string) (memoryEntry, bool) {
	entry, ok := m.items[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.items, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (m *MemoryProvider) storeLocked(key string, value []byte, ttl time.Duration) {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = entry
}
