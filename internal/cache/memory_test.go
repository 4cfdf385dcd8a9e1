// ABOUTME: Tests for the in-process cache backend
// ABOUTME: Validates TTL expiry, size eviction, prefix deletion, cleanup, and close

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_GetMiss(t *testing.T) {
	m := NewMemoryBackend(100)
	defer m.Close()

	_, err := m.Get(t.Context(), "never-set")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryBackend_SetGet(t *testing.T) {
	m := NewMemoryBackend(100)
	defer m.Close()

	require.NoError(t, m.Set(t.Context(), "k", "v", time.Minute))

	got, err := m.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	// Overwrite keeps one entry
	require.NoError(t, m.Set(t.Context(), "k", "v2", time.Minute))
	got, err = m.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryBackend_Expiry(t *testing.T) {
	m := NewMemoryBackend(100)
	defer m.Close()

	require.NoError(t, m.Set(t.Context(), "short", "v", 10*time.Millisecond))
	require.NoError(t, m.Set(t.Context(), "forever", "v", 0))

	time.Sleep(20 * time.Millisecond)

	_, err := m.Get(t.Context(), "short")
	assert.ErrorIs(t, err, ErrMiss)

	_, err = m.Get(t.Context(), "forever")
	assert.NoError(t, err)
}

func TestMemoryBackend_EvictsOldestWrite(t *testing.T) {
	m := NewMemoryBackend(3)
	defer m.Close()

	ctx := t.Context()
	require.NoError(t, m.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, m.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, m.Set(ctx, "c", "3", time.Minute))

	// Rewriting "a" makes "b" the oldest
	require.NoError(t, m.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, m.Set(ctx, "d", "4", time.Minute))

	assert.Equal(t, 3, m.Len())
	_, err := m.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrMiss)
	for _, key := range []string{"a", "c", "d"} {
		_, err := m.Get(ctx, key)
		assert.NoError(t, err, key)
	}
}

func TestMemoryBackend_PinnedKeysSurviveEviction(t *testing.T) {
	m := NewMemoryBackend(2, WithPinnedPrefix("blacklist:"))
	defer m.Close()

	ctx := t.Context()
	require.NoError(t, m.Set(ctx, "blacklist:tok", "blacklisted", time.Minute))
	for _, key := range []string{"a", "b", "c", "d"} {
		require.NoError(t, m.Set(ctx, key, "v", time.Minute))
	}

	_, err := m.Get(ctx, "blacklist:tok")
	assert.NoError(t, err, "pinned key must not be evicted")
	assert.Equal(t, 3, m.Len(), "two evictable keys plus the pinned one")

	// Rewriting a pinned key keeps it pinned
	require.NoError(t, m.Set(ctx, "blacklist:tok", "blacklisted", time.Minute))
	require.NoError(t, m.Set(ctx, "e", "v", time.Minute))
	_, err = m.Get(ctx, "blacklist:tok")
	assert.NoError(t, err)

	n, err := m.Del(ctx, "blacklist:tok")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryBackend_PinnedKeysStillExpire(t *testing.T) {
	m := newMemoryBackend(10, 10*time.Millisecond, WithPinnedPrefix("blacklist:"))
	defer m.Close()

	require.NoError(t, m.Set(t.Context(), "blacklist:tok", "blacklisted", 20*time.Millisecond))
	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryBackend_Del(t *testing.T) {
	m := NewMemoryBackend(100)
	defer m.Close()

	ctx := t.Context()
	require.NoError(t, m.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, m.Set(ctx, "b", "2", time.Minute))

	n, err := m.Del(ctx, "a", "b", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryBackend_DelPrefix(t *testing.T) {
	m := NewMemoryBackend(100)
	defer m.Close()

	ctx := t.Context()
	require.NoError(t, m.Set(ctx, "users:except:a", "[]", time.Minute))
	require.NoError(t, m.Set(ctx, "users:except:b", "[]", time.Minute))
	require.NoError(t, m.Set(ctx, "messages:a:b", "[]", time.Minute))

	n, err := m.DelPrefix(ctx, "users:except:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = m.Get(ctx, "messages:a:b")
	assert.NoError(t, err)
}

func TestMemoryBackend_Cleanup(t *testing.T) {
	m := newMemoryBackend(100, 10*time.Millisecond)
	defer m.Close()

	require.NoError(t, m.Set(t.Context(), "k", "v", 5*time.Millisecond))
	assert.Equal(t, 1, m.Len())

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryBackend_Close(t *testing.T) {
	m := NewMemoryBackend(100)
	require.NoError(t, m.Set(t.Context(), "k", "v", time.Minute))

	require.NoError(t, m.Close())
	// Safe to call twice
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Ping(t.Context()), ErrClosed)
	_, err := m.Get(t.Context(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Set(t.Context(), "k", "v", 0), ErrClosed)
}

func TestMemoryBackend_ConcurrentAccess(t *testing.T) {
	m := NewMemoryBackend(1000)
	defer m.Close()

	ctx := t.Context()
	var wg sync.WaitGroup
	for i := range 100 {
		key := fmt.Sprintf("key-%d", i%10)
		wg.Go(func() {
			_ = m.Set(ctx, key, "v", time.Minute)
			_, _ = m.Get(ctx, key)
			_, _ = m.DelPrefix(ctx, "key-1")
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, m.Len(), 10)
}
