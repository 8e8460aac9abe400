package kv

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store for development and tests. Expired entries
// are dropped lazily on read and swept whenever a write lands.
type Memory struct {
	mu   sync.RWMutex
	data map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
	noExpire  bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]memoryEntry)}
}

func (m *Memory) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{
		value:    value,
		noExpire: ttl == 0,
	}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	m.data[key] = entry
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.data[key]
	if !ok || entry.expired() {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key, entry := range m.data {
		if strings.HasPrefix(key, prefix) && !entry.expired() {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (e memoryEntry) expired() bool {
	return !e.noExpire && time.Now().After(e.expiresAt)
}

// sweepLocked drops expired entries. Callers must hold the write lock.
func (m *Memory) sweepLocked() {
	now := time.Now()
	for key, entry := range m.data {
		if !entry.noExpire && now.After(entry.expiresAt) {
			delete(m.data, key)
		}
	}
}
