package relayer

import (
	"context"
	"sync"
	"time"
)

// SubmissionCache makes Submit idempotent per quote by caching completed results and tracking
// in-flight submissions. A client retrying after a timeout receives the original result instead
// of sponsoring the same transfer twice.
type SubmissionCache struct {
	mu       sync.Mutex
	results  map[string]*SubmitResult
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
	now      func() time.Time
}

// NewSubmissionCache creates a cache that keeps completed results for ttl
func NewSubmissionCache(ttl time.Duration) *SubmissionCache {
	return &SubmissionCache{
		results:  make(map[string]*SubmitResult),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
		now:      time.Now,
	}
}

// SubmissionState is the result of checking the cache
type SubmissionState int

const (
	// SubmissionNew means this caller should proceed; the key is now in flight
	SubmissionNew SubmissionState = iota
	// SubmissionCached means a completed result was found
	SubmissionCached
	// SubmissionInFlight means another caller is submitting the same quote
	SubmissionInFlight
)

// CheckAndMark atomically checks the cache and marks key as in flight if nothing is known about it.
// The returned channel is closed when the in-flight submission completes or fails.
func (c *SubmissionCache) CheckAndMark(key string) (SubmissionState, *SubmitResult, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if c.now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return SubmissionCached, result, nil
			}
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, exists := c.inFlight[key]; exists {
		return SubmissionInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return SubmissionNew, nil, done
}

// WaitForResult waits for an in-flight submission. It returns nil if that submission failed.
func (c *SubmissionCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*SubmitResult, error) {
	select {
	case <-done:
		return c.Get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns an unexpired cached result or nil
func (c *SubmissionCache) Get(key string) *SubmitResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, exists := c.expiry[key]
	if !exists {
		return nil
	}
	if !c.now().Before(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return nil
	}
	return c.results[key]
}

// Complete caches result and releases waiters
func (c *SubmissionCache) Complete(key string, result *SubmitResult, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = result
	c.expiry[key] = c.now().Add(c.ttl)
	delete(c.inFlight, key)
	close(done)

	c.cleanupExpiredLocked()
}

// Fail clears the in-flight marker without caching so the submission can be retried
func (c *SubmissionCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (c *SubmissionCache) cleanupExpiredLocked() {
	now := c.now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
