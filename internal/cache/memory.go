// ABOUTME: Thread-safe in-process cache backend with per-key TTL and a size cap.
// ABOUTME: Used when no Redis is configured and throughout the tests.

package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// memoryEntry stores a value, its expiry, and its position in the eviction list.
type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
	element   *list.Element
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryBackend is a size-limited TTL cache held in process memory.
// Uses a doubly-linked list to maintain write order for O(1) eviction
// of the least recently written key when the cache is full.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	order   *list.List // evictable keys in write order (oldest at front)
	maxSize int
	pinned  []string
	done    chan struct{}
	closed  bool
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithPinnedPrefix keeps keys starting with any of prefixes out of the size
// cap. They are never evicted and only leave the cache by TTL or Del.
func WithPinnedPrefix(prefixes ...string) MemoryOption {
	return func(m *MemoryBackend) {
		m.pinned = append(m.pinned, prefixes...)
	}
}

// NewMemoryBackend creates a backend holding at most maxSize evictable keys.
// A background goroutine periodically removes expired entries.
func NewMemoryBackend(maxSize int, opts ...MemoryOption) *MemoryBackend {
	return newMemoryBackend(maxSize, time.Minute, opts...)
}

func newMemoryBackend(maxSize int, cleanupInterval time.Duration, opts ...MemoryOption) *MemoryBackend {
	if maxSize <= 0 {
		maxSize = 10_000
	}
	m := &MemoryBackend{
		entries: make(map[string]*memoryEntry),
		order:   list.New(),
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.cleanup(cleanupInterval)
	return m
}

func (m *MemoryBackend) isPinned(key string) bool {
	for _, prefix := range m.pinned {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Get returns the value for key, or ErrMiss if absent or expired.
func (m *MemoryBackend) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", ErrClosed
	}
	entry, ok := m.entries[key]
	if !ok || entry.expired(time.Now()) {
		return "", ErrMiss
	}
	return entry.value, nil
}

// Set stores value at key. If the cache is at capacity, the oldest evictable
// write is evicted. Pinned keys neither count toward nor trigger eviction.
func (m *MemoryBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if entry, exists := m.entries[key]; exists {
		entry.value = value
		entry.expiresAt = expiresAt
		if entry.element != nil {
			m.order.MoveToBack(entry.element)
		}
		return nil
	}

	entry := &memoryEntry{value: value, expiresAt: expiresAt}
	if !m.isPinned(key) {
		if m.order.Len() >= m.maxSize {
			m.evictOldest()
		}
		entry.element = m.order.PushBack(key)
	}
	m.entries[key] = entry
	return nil
}

// Del removes keys and returns how many were present and unexpired.
func (m *MemoryBackend) Del(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	now := time.Now()
	var n int64
	for _, key := range keys {
		entry, ok := m.entries[key]
		if !ok {
			continue
		}
		if !entry.expired(now) {
			n++
		}
		m.removeLocked(key, entry)
	}
	return n, nil
}

// DelPrefix removes every key starting with prefix.
func (m *MemoryBackend) DelPrefix(ctx context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	now := time.Now()
	var n int64
	for key, entry := range m.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !entry.expired(now) {
			n++
		}
		m.removeLocked(key, entry)
	}
	return n, nil
}

// Ping reports ErrClosed after Close, nil otherwise.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Len returns the number of stored keys, including expired ones not yet cleaned up.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// removeLocked deletes key. Must be called with mu held.
func (m *MemoryBackend) removeLocked(key string, entry *memoryEntry) {
	if entry.element != nil {
		m.order.Remove(entry.element)
	}
	delete(m.entries, key)
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held. O(1) operation using linked list.
func (m *MemoryBackend) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.entries, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (m *MemoryBackend) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCleanup()
		case <-m.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (m *MemoryBackend) runCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, entry := range m.entries {
		if entry.expired(now) {
			m.removeLocked(key, entry)
		}
	}
}

// Close stops the background cleanup goroutine and drops all entries.
// It is safe to call multiple times.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
		m.entries = make(map[string]*memoryEntry)
		m.order.Init()
	}
	return nil
}
