package oracle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingSource struct {
	calls   atomic.Int32
	price   decimal.Decimal
	publish time.Time
	err     error
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Fetch(context.Context) (Sample, error) {
	s.calls.Add(1)
	if s.err != nil {
		return Sample{}, s.err
	}
	return Sample{Price: s.price, PublishTime: s.publish, Source: s.Name()}, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func testConfig() Config {
	return Config{
		HighValueThreshold: decimal.NewFromInt(100),
		FixedPrice:         decimal.NewFromInt(250),
		CacheTTL:           30 * time.Second,
		FetchTimeout:       time.Second,
		FreshnessWindow:    60 * time.Second,
	}
}

func TestOracle_BelowThresholdUsesFixedPrice(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	source := &countingSource{price: decimal.NewFromInt(140), publish: clock.now}
	o := New(source, testConfig(), WithClock(clock.Now))

	price := o.Price(context.Background(), decimal.NewFromInt(5))

	assert.True(t, price.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, int32(0), source.calls.Load(), "feed must not be queried below the threshold")
}

func TestOracle_HighValueFetchesAndCaches(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	source := &countingSource{price: decimal.NewFromInt(140), publish: clock.now}
	o := New(source, testConfig(), WithClock(clock.Now))

	price := o.Price(context.Background(), decimal.NewFromInt(100))
	assert.True(t, price.Equal(decimal.NewFromInt(140)))

	clock.now = clock.now.Add(10 * time.Second)
	price = o.Price(context.Background(), decimal.NewFromInt(500))
	assert.True(t, price.Equal(decimal.NewFromInt(140)))
	assert.Equal(t, int32(1), source.calls.Load(), "cached sample should be served within TTL")

	clock.now = clock.now.Add(30 * time.Second)
	source.price = decimal.NewFromInt(150)
	source.publish = clock.now
	price = o.Price(context.Background(), decimal.NewFromInt(500))
	assert.True(t, price.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, int32(2), source.calls.Load())
	assert.True(t, o.CurrentPrice().Equal(decimal.NewFromInt(150)))
}

func TestOracle_FailureFallsBackToCacheThenFixed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	t.Run("no cache serves fixed price", func(t *testing.T) {
		source := &countingSource{err: errors.New("connection refused")}
		o := New(source, testConfig(), WithClock(clock.Now))

		price := o.Price(context.Background(), decimal.NewFromInt(1000))
		assert.True(t, price.Equal(decimal.NewFromInt(250)))
	})

	t.Run("expired cache is served on failure", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		source := &countingSource{price: decimal.NewFromInt(140), publish: clock.now}
		o := New(source, testConfig(), WithClock(clock.Now), WithLogger(zap.New(core)))

		o.Price(context.Background(), decimal.NewFromInt(1000))
		source.err = errors.New("timeout")
		clock.now = clock.now.Add(5 * time.Minute)

		price := o.Price(context.Background(), decimal.NewFromInt(1000))
		assert.True(t, price.Equal(decimal.NewFromInt(140)))
		assert.Equal(t, 1, logs.FilterMessage("price feed unavailable, serving cached price").Len())
	})
}

func TestOracle_StaleSampleIsLoggedNotRejected(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	core, logs := observer.New(zap.WarnLevel)
	source := &countingSource{price: decimal.NewFromInt(140), publish: clock.now.Add(-2 * time.Minute)}
	o := New(source, testConfig(), WithClock(clock.Now), WithLogger(zap.New(core)))

	price := o.Price(context.Background(), decimal.NewFromInt(1000))

	assert.True(t, price.Equal(decimal.NewFromInt(140)))
	assert.Equal(t, 1, logs.FilterMessage("price feed is stale").Len())
}

func TestOracle_NilSource(t *testing.T) {
	o := New(nil, testConfig())
	require.True(t, o.Price(context.Background(), decimal.NewFromInt(1_000_000)).Equal(decimal.NewFromInt(250)))
	_, ok := o.Cached()
	assert.False(t, ok)
}
