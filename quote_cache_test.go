package relayer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteCache_PutSetsExpiry(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cache := NewQuoteCache(time.Minute)
	cache.now = func() time.Time { return now }

	q := &Quote{QuoteID: "q1"}
	cache.Put(q)

	assert.Equal(t, now.Add(time.Minute), q.ExpiresAt)
	got, ok := cache.Get("q1")
	require.True(t, ok)
	assert.Same(t, q, got)
}

func TestQuoteCache_Expiry(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cache := NewQuoteCache(time.Minute)
	cache.now = func() time.Time { return now }

	cache.Put(&Quote{QuoteID: "q1"})

	now = now.Add(59 * time.Second)
	_, ok := cache.Get("q1")
	assert.True(t, ok)

	// a quote is no longer valid at its expiry instant
	now = now.Add(time.Second)
	_, ok = cache.Get("q1")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestQuoteCache_PutCleansExpired(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cache := NewQuoteCache(time.Minute)
	cache.now = func() time.Time { return now }

	cache.Put(&Quote{QuoteID: "old"})
	now = now.Add(2 * time.Minute)
	cache.Put(&Quote{QuoteID: "new"})

	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Get("unknown")
	assert.False(t, ok)
}
