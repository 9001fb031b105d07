package safety

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	relayer "github.com/x402-foundation/x402/relayer"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func TestAdmit_SingleTransactionCap(t *testing.T) {
	m := NewMonitor(nil, DefaultLimits(), WithClock(newClock().Now))

	_, err := m.Admit(context.Background(), "alice", 10_000_001)
	require.Error(t, err)
	assert.Equal(t, relayer.ErrCodeSafetyLimitExceeded, relayer.CodeOf(err))

	var relayErr *relayer.RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, LimitMaxTransaction, relayErr.Details["limit"])

	admission, err := m.Admit(context.Background(), "alice", 10_000_000)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14", admission.Day)
}

func TestAdmit_UserDailyCap(t *testing.T) {
	ctx := context.Background()
	m := NewMonitor(nil, DefaultLimits(), WithClock(newClock().Now))

	for i := 0; i < 10; i++ {
		admission, err := m.Admit(ctx, "alice", 10_000_000)
		require.NoError(t, err, "admission %d", i)
		m.Record(ctx, admission)
	}

	_, err := m.Admit(ctx, "alice", 1)
	require.Error(t, err)
	var relayErr *relayer.RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, LimitUserDaily, relayErr.Details["limit"])
	assert.Equal(t, uint64(100_000_000), relayErr.Details["currentUsage"])

	_, err = m.Admit(ctx, "bob", 10_000_000)
	assert.NoError(t, err, "other addresses keep their own allowance")
}

func TestAdmit_GlobalDailyCap(t *testing.T) {
	ctx := context.Background()
	limits := relayer.SafetyLimits{MaxTransactionAmount: 50, UserDailyLimit: 100, GlobalDailyLimit: 120}
	m := NewMonitor(nil, limits, WithClock(newClock().Now))

	_, err := m.Admit(ctx, "alice", 50)
	require.NoError(t, err)
	_, err = m.Admit(ctx, "bob", 50)
	require.NoError(t, err)

	_, err = m.Admit(ctx, "carol", 50)
	var relayErr *relayer.RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, LimitGlobalDaily, relayErr.Details["limit"])
}

func TestAdmit_ConcurrentRequestsCannotOvershoot(t *testing.T) {
	limits := relayer.SafetyLimits{
		MaxTransactionAmount: 100_000_000,
		UserDailyLimit:       100_000_000,
		GlobalDailyLimit:     1_000_000_000,
	}

	for run := 0; run < 50; run++ {
		m := NewMonitor(nil, limits, WithClock(newClock().Now))

		var admitted, denied atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := m.Admit(context.Background(), "alice", 60_000_000)
				if err != nil {
					assert.Equal(t, relayer.ErrCodeSafetyLimitExceeded, relayer.CodeOf(err))
					denied.Add(1)
					return
				}
				admitted.Add(1)
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), admitted.Load())
		require.Equal(t, int32(1), denied.Load())
	}
}

func TestRelease_FreesCapacity(t *testing.T) {
	ctx := context.Background()
	m := NewMonitor(nil, relayer.SafetyLimits{MaxTransactionAmount: 100, UserDailyLimit: 100, GlobalDailyLimit: 1000}, WithClock(newClock().Now))

	admission, err := m.Admit(ctx, "alice", 60)
	require.NoError(t, err)
	_, err = m.Admit(ctx, "alice", 60)
	require.Error(t, err)

	m.Release(ctx, admission)

	_, err = m.Admit(ctx, "alice", 60)
	assert.NoError(t, err)
}

func TestRecord_CommitsAndWarns(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	limits := relayer.SafetyLimits{MaxTransactionAmount: 100, UserDailyLimit: 1000, GlobalDailyLimit: 100}
	m := NewMonitor(nil, limits, WithClock(newClock().Now), WithLogger(zap.New(core)))

	admission, err := m.Admit(ctx, "alice", 85)
	require.NoError(t, err)
	m.Record(ctx, admission)

	stats := m.Stats(ctx, "alice")
	assert.Equal(t, relayer.SafetyUsage{Committed: 85}, stats.Global)
	require.NotNil(t, stats.AddressUsage)
	assert.Equal(t, uint64(85), stats.AddressUsage.Committed)
	assert.InDelta(t, 85.0, stats.UtilizationPercentage, 0.001)
	assert.Equal(t, StatusWarning, stats.Status)
	assert.Equal(t, 1, logs.FilterMessage("approaching global daily volume limit").Len())
}

func TestCountersResetOnNewDay(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := NewMemoryStore()
	m := NewMonitor(store, DefaultLimits(), WithClock(c.Now))

	for i := 0; i < 10; i++ {
		admission, err := m.Admit(ctx, "alice", 10_000_000)
		require.NoError(t, err)
		m.Record(ctx, admission)
	}
	_, err := m.Admit(ctx, "alice", 10_000_000)
	require.Error(t, err)

	c.Advance(24 * time.Hour)

	_, err = m.Admit(ctx, "alice", 10_000_000)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Days(), "previous day is pruned lazily")
	assert.Equal(t, "2025-03-15", m.Stats(ctx, "").Day)
}

func TestStats_NoAddress(t *testing.T) {
	m := NewMonitor(nil, DefaultLimits(), WithClock(newClock().Now))

	stats := m.Stats(context.Background(), "")

	assert.Nil(t, stats.AddressUsage)
	assert.Equal(t, StatusNormal, stats.Status)
	assert.Equal(t, DefaultLimits(), stats.Limits)
}
