package http

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	relayer "github.com/x402-foundation/x402/relayer"
)

const (
	// DefaultRequestsPerMinute is the per-address request budget on quote and submit
	DefaultRequestsPerMinute = 10

	rawBodyKey = "relayer.rawBody"
	idleAfter  = 10 * time.Minute
)

// AddressLimiter is a token bucket per sender address
type AddressLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*addressBucket
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

type addressBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAddressLimiter allows perMinute requests per address, refilled evenly over the minute
func NewAddressLimiter(perMinute int) *AddressLimiter {
	if perMinute <= 0 {
		perMinute = DefaultRequestsPerMinute
	}
	return &AddressLimiter{
		limiters: make(map[string]*addressBucket),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		now:      time.Now,
	}
}

// Allow reports whether key may make another request now
func (l *AddressLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > idleAfter {
		for k, b := range l.limiters {
			if now.Sub(b.lastSeen) > idleAfter {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.limiters[key]
	if !ok {
		b = &addressBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// RateLimitByAddress limits requests per fromAddress in the JSON body, or per client IP when the
// body carries none. The body is kept on the context for the handler.
func RateLimitByAddress(limiter *AddressLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abortWithError(c, relayer.ValidationError("failed to read request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(rawBodyKey, body)

		var probe struct {
			FromAddress string `json:"fromAddress"`
		}
		key := c.ClientIP()
		if json.Unmarshal(body, &probe) == nil && probe.FromAddress != "" {
			key = probe.FromAddress
		}

		if !limiter.Allow(key) {
			abortWithError(c, relayer.NewRelayError(relayer.ErrCodeRateLimited, "too many requests from this address, try again later", nil))
			return
		}
		c.Next()
	}
}

// rawBody returns the request body, reading it if no middleware has
func rawBody(c *gin.Context) ([]byte, error) {
	if v, ok := c.Get(rawBodyKey); ok {
		if body, ok := v.([]byte); ok {
			return body, nil
		}
	}
	return c.GetRawData()
}
