// Package fees prices sponsored transfers.
//
// The hybrid policy charges the larger of a marked-up gas-equivalent fee and a percentage of the
// transferred amount. Compute is deterministic so a fee issued at quote time can be recomputed
// exactly at submit time from the same server-held inputs.
package fees

import (
	"math/big"

	"github.com/shopspring/decimal"

	relayer "github.com/x402-foundation/x402/relayer"
	"github.com/x402-foundation/x402/relayer/mechanisms/svm"
)

// Policy holds the configured fee parameters
type Policy struct {
	// FeeFraction is the percentage floor as a fraction of the amount, e.g. 0.001 for 0.1%
	FeeFraction decimal.Decimal
	// MinFee is the absolute floor in stable base units
	MinFee uint64
	// MarkupPercent is added on top of the gas-equivalent fee
	MarkupPercent decimal.Decimal
	// TreasuryShare is the fraction of the final fee routed to the treasury
	TreasuryShare decimal.Decimal
}

// DefaultPolicy returns 0.1% with a 1000 base-unit floor, 20% markup and a 10% treasury cut
func DefaultPolicy() Policy {
	return Policy{
		FeeFraction:   decimal.RequireFromString("0.001"),
		MinFee:        1000,
		MarkupPercent: decimal.NewFromInt(20),
		TreasuryShare: decimal.RequireFromString("0.1"),
	}
}

var hundred = decimal.NewFromInt(100)

// PercentageFee returns max(ceil(amount * FeeFraction), MinFee)
func (p Policy) PercentageFee(amount uint64) uint64 {
	fee := toUint64(baseUnits(amount).Mul(p.FeeFraction).Ceil())
	if fee < p.MinFee {
		return p.MinFee
	}
	return fee
}

// Compute applies the hybrid fee policy. Every fractional base unit is rounded up, except the
// treasury cut which is rounded down so the sponsor never receives less than its share.
func Compute(policy Policy, gas relayer.GasEstimate, price decimal.Decimal, amount uint64, decimals uint8) relayer.FeeBreakdown {
	gasCostNative := svm.NetworkFee(gas.Units, gas.UnitPrice)

	// lamports -> SOL -> stable whole units -> stable base units
	gasCostStable := baseUnits(gasCostNative).
		Shift(-9).
		Mul(price).
		Shift(int32(decimals))

	gasFee := toUint64(gasCostStable.Ceil())
	oracleBasedFee := toUint64(gasCostStable.Mul(hundred.Add(policy.MarkupPercent)).Div(hundred).Ceil())
	percentageFee := policy.PercentageFee(amount)

	breakdown := relayer.FeeBreakdown{
		GasCostNative:  gasCostNative,
		GasFee:         gasFee,
		OracleBasedFee: oracleBasedFee,
		PercentageFee:  percentageFee,
		FinalFee:       percentageFee,
		Winner:         relayer.FeeWinnerPercentage,
	}
	if oracleBasedFee > percentageFee {
		breakdown.FinalFee = oracleBasedFee
		breakdown.Winner = relayer.FeeWinnerOracle
	}

	breakdown.TreasuryFee = toUint64(baseUnits(breakdown.FinalFee).Mul(policy.TreasuryShare).Floor())
	if breakdown.TreasuryFee > breakdown.FinalFee {
		breakdown.TreasuryFee = breakdown.FinalFee
	}
	breakdown.SponsorFee = breakdown.FinalFee - breakdown.TreasuryFee
	return breakdown
}

func baseUnits(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func toUint64(d decimal.Decimal) uint64 {
	if d.Sign() <= 0 {
		return 0
	}
	n := d.BigInt()
	if !n.IsUint64() {
		return ^uint64(0)
	}
	return n.Uint64()
}
