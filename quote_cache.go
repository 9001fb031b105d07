package relayer

import (
	"sync"
	"time"
)

// QuoteCache holds issued quotes until they expire. Submissions are priced from the cached quote,
// never from values echoed back by the client.
type QuoteCache struct {
	mu     sync.Mutex
	quotes map[string]*Quote
	ttl    time.Duration
	now    func() time.Time
}

// NewQuoteCache creates a cache whose quotes are valid for ttl
func NewQuoteCache(ttl time.Duration) *QuoteCache {
	return &QuoteCache{
		quotes: make(map[string]*Quote),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns how long a quote stays valid
func (c *QuoteCache) TTL() time.Duration {
	return c.ttl
}

// Put stores q and sets its expiry
func (c *QuoteCache) Put(q *Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	q.ExpiresAt = now.Add(c.ttl).UTC()
	c.quotes[q.QuoteID] = q

	c.cleanupExpiredLocked(now)
}

// Get returns the quote with the given id. The second result is false when the quote is unknown
// or expired.
func (c *QuoteCache) Get(id string) (*Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.quotes[id]
	if !ok {
		return nil, false
	}
	if !c.now().Before(q.ExpiresAt) {
		delete(c.quotes, id)
		return nil, false
	}
	return q, true
}

// Len returns the number of held quotes, including expired ones not yet cleaned up
func (c *QuoteCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.quotes)
}

// cleanupExpiredLocked removes expired quotes. Must be called with lock held.
func (c *QuoteCache) cleanupExpiredLocked(now time.Time) {
	for id, q := range c.quotes {
		if !now.Before(q.ExpiresAt) {
			delete(c.quotes, id)
		}
	}
}
