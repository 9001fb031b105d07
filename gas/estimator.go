// Package gas estimates the compute budget of a sponsored transfer by simulating it.
package gas

import (
	"context"
	"time"

	"go.uber.org/zap"

	relayer "github.com/x402-foundation/x402/relayer"
	"github.com/x402-foundation/x402/relayer/mechanisms/svm"
)

// Simulator runs a sponsored transfer against the chain without submitting it
type Simulator interface {
	SimulateTransfer(ctx context.Context, transfer relayer.SponsoredTransfer) (uint64, error)
	RecentPriorityFees(ctx context.Context, params relayer.TransferParams) ([]uint64, error)
}

// Config holds the estimation policy
type Config struct {
	// BufferPercent is added to simulated units to absorb variance
	BufferPercent uint64
	// FallbackUnits and FallbackUnitPrice are used when simulation fails
	FallbackUnits     uint64
	FallbackUnitPrice uint64
	// MinUnitPrice and MaxUnitPrice clamp the observed priority fee, in micro-lamports
	MinUnitPrice uint64
	MaxUnitPrice uint64
	// Timeout bounds the simulation and fee lookups
	Timeout time.Duration
}

// DefaultConfig returns the default estimation policy
func DefaultConfig() Config {
	return Config{
		BufferPercent:     20,
		FallbackUnits:     200_000,
		FallbackUnitPrice: svm.DefaultComputeUnitPrice,
		MinUnitPrice:      svm.DefaultComputeUnitPrice,
		MaxUnitPrice:      svm.MaxComputeUnitPrice,
		Timeout:           5 * time.Second,
	}
}

// Estimator produces buffered compute-unit estimates
type Estimator struct {
	simulator Simulator
	config    Config
	logger    *zap.Logger
}

// NewEstimator creates an estimator. A nil logger disables logging.
func NewEstimator(simulator Simulator, config Config, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Estimator{simulator: simulator, config: config, logger: logger}
}

// Estimate simulates the transfer carrying provisionalFee and returns the buffered estimate.
// Simulation failures degrade to the configured fallback instead of failing the quote.
func (e *Estimator) Estimate(ctx context.Context, params relayer.TransferParams, provisionalFee uint64) relayer.GasEstimate {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	transfer := relayer.SponsoredTransfer{
		TransferParams: params,
		Fee: relayer.FeeBreakdown{
			FinalFee:   provisionalFee,
			SponsorFee: provisionalFee,
		},
		Gas: relayer.GasEstimate{
			Units:     svm.MaxComputeUnits,
			UnitPrice: e.config.MinUnitPrice,
		},
	}

	simulated, err := e.simulator.SimulateTransfer(ctx, transfer)
	if err != nil {
		e.logger.Warn("gas simulation failed, using fallback estimate",
			zap.String("sender", params.Sender),
			zap.Uint64("fallbackUnits", e.config.FallbackUnits),
			zap.Uint64("fallbackUnitPrice", e.config.FallbackUnitPrice),
			zap.Error(err),
		)
		return relayer.GasEstimate{
			Units:     e.config.FallbackUnits,
			UnitPrice: e.config.FallbackUnitPrice,
			Fallback:  true,
		}
	}

	unitPrice := e.config.MinUnitPrice
	fees, err := e.simulator.RecentPriorityFees(ctx, params)
	if err != nil {
		e.logger.Warn("priority fee lookup failed, using minimum unit price",
			zap.Uint64("unitPrice", unitPrice),
			zap.Error(err),
		)
	} else {
		unitPrice = svm.MedianFee(fees, e.config.MinUnitPrice, e.config.MaxUnitPrice)
	}

	units := Buffer(simulated+svm.ComputeBudgetOverheadUnits, e.config.BufferPercent)
	if units > svm.MaxComputeUnits {
		units = svm.MaxComputeUnits
	}

	e.logger.Debug("gas estimated",
		zap.Uint64("simulatedUnits", simulated),
		zap.Uint64("units", units),
		zap.Uint64("unitPrice", unitPrice),
	)
	return relayer.GasEstimate{
		Units:          units,
		UnitPrice:      unitPrice,
		SimulatedUnits: simulated,
	}
}

// Buffer adds percent to units, rounding up
func Buffer(units, percent uint64) uint64 {
	return units + (units*percent+99)/100
}
