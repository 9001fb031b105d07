// Package oracle provides the native-token price used to convert gas cost into the stable token.
//
// Feed queries are only paid for on high-value transfers. Low-value transfers use a fixed
// conservative price. Callers never see a feed failure: the last cached sample, then the fixed
// price, are served instead.
package oracle

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sample is one observation of the native token price
type Sample struct {
	Price       decimal.Decimal
	PublishTime time.Time
	FetchedAt   time.Time
	Source      string
}

// Source fetches the latest price from an external feed
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Sample, error)
}

// Config holds the oracle policy
type Config struct {
	// HighValueThreshold is the notional, in whole stable units, at or above which the feed is queried
	HighValueThreshold decimal.Decimal
	// FixedPrice is the conservative price used below the threshold and as last resort
	FixedPrice decimal.Decimal
	// CacheTTL is how long a fetched sample is served without refetching
	CacheTTL time.Duration
	// FetchTimeout bounds a feed request
	FetchTimeout time.Duration
	// FreshnessWindow is the maximum publish age before a sample is logged as stale
	FreshnessWindow time.Duration
}

// DefaultConfig returns the default oracle policy
func DefaultConfig() Config {
	return Config{
		HighValueThreshold: decimal.NewFromInt(100),
		FixedPrice:         decimal.NewFromInt(250),
		CacheTTL:           30 * time.Second,
		FetchTimeout:       DefaultFetchTimeout,
		FreshnessWindow:    60 * time.Second,
	}
}

// Option configures an Oracle
type Option func(*Oracle)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Oracle) {
		o.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) {
		o.now = now
	}
}

// Oracle applies the threshold, caching and fallback policy over a Source
type Oracle struct {
	source Source
	config Config
	cached atomic.Pointer[Sample]
	now    func() time.Time
	logger *zap.Logger
}

// New creates an oracle. A nil source always serves the fixed price.
func New(source Source, config Config, opts ...Option) *Oracle {
	o := &Oracle{
		source: source,
		config: config,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.config.FetchTimeout == 0 {
		o.config.FetchTimeout = DefaultFetchTimeout
	}
	return o
}

// Price returns the native token price in stable units for a transfer of the given notional value
func (o *Oracle) Price(ctx context.Context, notional decimal.Decimal) decimal.Decimal {
	if o.source == nil || notional.LessThan(o.config.HighValueThreshold) {
		return o.config.FixedPrice
	}

	now := o.now()
	if cached := o.cached.Load(); cached != nil && now.Sub(cached.FetchedAt) < o.config.CacheTTL {
		return cached.Price
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.config.FetchTimeout)
	defer cancel()

	sample, err := o.source.Fetch(fetchCtx)
	if err != nil {
		if cached := o.cached.Load(); cached != nil {
			o.logger.Warn("price feed unavailable, serving cached price",
				zap.String("source", o.source.Name()),
				zap.String("price", cached.Price.String()),
				zap.Duration("age", now.Sub(cached.FetchedAt)),
				zap.Error(err),
			)
			return cached.Price
		}
		o.logger.Warn("price feed unavailable, serving fixed price",
			zap.String("source", o.source.Name()),
			zap.String("price", o.config.FixedPrice.String()),
			zap.Error(err),
		)
		return o.config.FixedPrice
	}

	if o.config.FreshnessWindow > 0 && now.Sub(sample.PublishTime) > o.config.FreshnessWindow {
		o.logger.Warn("price feed is stale",
			zap.String("source", sample.Source),
			zap.Time("publishTime", sample.PublishTime),
			zap.Duration("age", now.Sub(sample.PublishTime)),
		)
	}

	sample.FetchedAt = now
	o.cached.Store(&sample)
	o.logger.Debug("fetched native price",
		zap.String("source", sample.Source),
		zap.String("price", sample.Price.String()),
	)
	return sample.Price
}

// CurrentPrice returns the cached sample, or the fixed price, without any I/O
func (o *Oracle) CurrentPrice() decimal.Decimal {
	if cached := o.cached.Load(); cached != nil {
		return cached.Price
	}
	return o.config.FixedPrice
}

// Cached returns the last fetched sample, if any
func (o *Oracle) Cached() (Sample, bool) {
	cached := o.cached.Load()
	if cached == nil {
		return Sample{}, false
	}
	return *cached, true
}

// FixedSource always returns the same price. It is used to pin the feed in tests and local runs.
type FixedSource struct {
	Value decimal.Decimal
}

// Name identifies the source in logs
func (s FixedSource) Name() string {
	return "fixed"
}

// Fetch returns the fixed value published now
func (s FixedSource) Fetch(context.Context) (Sample, error) {
	return Sample{Price: s.Value, PublishTime: time.Now(), Source: s.Name()}, nil
}
