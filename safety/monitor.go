// Package safety bounds the sponsor's exposure with per-transaction and daily volume caps.
//
// Capacity is reserved before any chain interaction and either committed after submission or
// released on failure, so concurrent requests can never jointly overshoot a cap.
package safety

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	relayer "github.com/x402-foundation/x402/relayer"
)

const (
	dayLayout = "2006-01-02"

	// StatusNormal and StatusWarning are the reported monitor states
	StatusNormal  = "normal"
	StatusWarning = "warning"
)

// DefaultLimits returns 10/100/1000 whole units of a 6-decimal stable token
func DefaultLimits() relayer.SafetyLimits {
	return relayer.SafetyLimits{
		MaxTransactionAmount: 10_000_000,
		UserDailyLimit:       100_000_000,
		GlobalDailyLimit:     1_000_000_000,
	}
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock overrides the time source used to key counters by UTC day
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithWarnRatio sets the usage fraction above which a counter is logged as approaching its cap
func WithWarnRatio(ratio float64) Option {
	return func(m *Monitor) {
		m.warnRatio = ratio
	}
}

// Monitor implements relayer.SafetyMonitor over a CounterStore
type Monitor struct {
	store     CounterStore
	limits    relayer.SafetyLimits
	warnRatio float64
	now       func() time.Time
	logger    *zap.Logger
}

// NewMonitor creates a monitor. A nil store uses a fresh MemoryStore.
func NewMonitor(store CounterStore, limits relayer.SafetyLimits, opts ...Option) *Monitor {
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Monitor{
		store:     store,
		limits:    limits,
		warnRatio: 0.8,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limits returns the configured caps
func (m *Monitor) Limits() relayer.SafetyLimits {
	return m.limits
}

// Admit checks the single-transaction cap and reserves daily capacity for amount
func (m *Monitor) Admit(ctx context.Context, address string, amount uint64) (*relayer.Admission, error) {
	if amount > m.limits.MaxTransactionAmount {
		return nil, denial(&LimitExceededError{
			Limit:      LimitMaxTransaction,
			LimitValue: m.limits.MaxTransactionAmount,
			Amount:     amount,
		})
	}

	day := m.day()
	err := m.store.Reserve(ctx, day, address, amount, m.limits.UserDailyLimit, m.limits.GlobalDailyLimit)
	if err != nil {
		var limitErr *LimitExceededError
		if errors.As(err, &limitErr) {
			m.logger.Warn("safety limit exceeded",
				zap.String("address", address),
				zap.String("limit", limitErr.Limit),
				zap.Uint64("limitValue", limitErr.LimitValue),
				zap.Uint64("currentUsage", limitErr.CurrentUsage),
				zap.Uint64("amount", amount),
			)
			return nil, denial(limitErr)
		}
		return nil, relayer.NewRelayError(relayer.ErrCodeInternal, "safety counters unavailable: "+err.Error(), nil)
	}

	return &relayer.Admission{Day: day, Address: address, Amount: amount}, nil
}

// Record commits an admitted amount
func (m *Monitor) Record(ctx context.Context, admission *relayer.Admission) {
	if admission == nil {
		return
	}
	if err := m.store.Commit(ctx, admission.Day, admission.Address, admission.Amount); err != nil {
		m.logger.Error("failed to commit safety usage", zap.String("address", admission.Address), zap.Error(err))
		return
	}

	global, user, err := m.store.Usage(ctx, admission.Day, admission.Address)
	if err != nil {
		return
	}
	m.logger.Info("transaction recorded",
		zap.String("address", admission.Address),
		zap.Uint64("amount", admission.Amount),
		zap.Uint64("dailyVolume", global.Total()),
		zap.Uint64("userDailyVolume", user.Total()),
	)
	m.warnIfNear("global daily volume", global.Total(), m.limits.GlobalDailyLimit)
	m.warnIfNear("user daily volume", user.Total(), m.limits.UserDailyLimit, zap.String("address", admission.Address))
}

// Release drops the reservation of an admission that did not reach the chain
func (m *Monitor) Release(ctx context.Context, admission *relayer.Admission) {
	if admission == nil {
		return
	}
	if err := m.store.Release(ctx, admission.Day, admission.Address, admission.Amount); err != nil {
		m.logger.Error("failed to release safety reservation", zap.String("address", admission.Address), zap.Error(err))
	}
}

// Stats returns today's usage. When address is empty only the global counter is reported.
func (m *Monitor) Stats(ctx context.Context, address string) relayer.SafetyStats {
	day := m.day()
	stats := relayer.SafetyStats{
		Day:     day,
		Limits:  m.limits,
		Address: address,
		Status:  StatusNormal,
	}

	global, user, err := m.store.Usage(ctx, day, address)
	if err != nil {
		m.logger.Error("failed to read safety usage", zap.Error(err))
		return stats
	}
	stats.Global = global
	if address != "" {
		stats.AddressUsage = &user
	}
	if m.limits.GlobalDailyLimit > 0 {
		stats.UtilizationPercentage = float64(global.Total()) / float64(m.limits.GlobalDailyLimit) * 100
	}
	if stats.UtilizationPercentage > m.warnRatio*100 {
		stats.Status = StatusWarning
	}
	return stats
}

func (m *Monitor) day() string {
	return m.now().UTC().Format(dayLayout)
}

func (m *Monitor) warnIfNear(what string, usage, limit uint64, fields ...zap.Field) {
	if limit == 0 || float64(usage) <= float64(limit)*m.warnRatio {
		return
	}
	fields = append(fields,
		zap.Uint64("current", usage),
		zap.Uint64("limit", limit),
		zap.Float64("percentage", float64(usage)/float64(limit)*100),
	)
	m.logger.Warn("approaching "+what+" limit", fields...)
}

func denial(e *LimitExceededError) *relayer.RelayError {
	return relayer.NewRelayError(relayer.ErrCodeSafetyLimitExceeded, e.Error(), map[string]interface{}{
		"limit":        e.Limit,
		"limitValue":   e.LimitValue,
		"currentUsage": e.CurrentUsage,
		"amount":       e.Amount,
	})
}
