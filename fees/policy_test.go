package fees

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	relayer "github.com/x402-foundation/x402/relayer"
)

func TestPercentageFee(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		amount uint64
		want   uint64
	}{
		{0, 1000},
		{1_000_000, 1000},
		{999_999, 1000},
		{5_000_000, 5000},
		{5_000_001, 5001}, // rounds up
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, policy.PercentageFee(tt.amount), "amount %d", tt.amount)
	}
}

func TestCompute_OracleWins(t *testing.T) {
	// 500000 CU @ 5000 micro-lamports = 2500 lamports priority + 10000 base = 12500 lamports.
	// At 100 USDC/SOL that is 1250 base units, 1500 after the 20% markup.
	gas := relayer.GasEstimate{Units: 500_000, UnitPrice: 5000}

	got := Compute(DefaultPolicy(), gas, decimal.NewFromInt(100), 1_000_000, 6)

	want := relayer.FeeBreakdown{
		GasCostNative:  12_500,
		GasFee:         1250,
		OracleBasedFee: 1500,
		PercentageFee:  1000,
		FinalFee:       1500,
		TreasuryFee:    150,
		SponsorFee:     1350,
		Winner:         relayer.FeeWinnerOracle,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Compute() mismatch (-want +got):\n%s", diff)
	}
}

func TestCompute_PercentageWins(t *testing.T) {
	gas := relayer.GasEstimate{Units: 200_000, UnitPrice: 5000}

	got := Compute(DefaultPolicy(), gas, decimal.NewFromInt(100), 10_000_000, 6)

	assert.Equal(t, uint64(11_000), got.GasCostNative)
	assert.Equal(t, uint64(1320), got.OracleBasedFee)
	assert.Equal(t, uint64(10_000), got.FinalFee)
	assert.Equal(t, relayer.FeeWinnerPercentage, got.Winner)
	assert.Equal(t, got.FinalFee, got.SponsorFee+got.TreasuryFee)
}

func TestCompute_TieGoesToPercentage(t *testing.T) {
	// 10000 lamports at 100/SOL = 1000 base units with no markup
	policy := DefaultPolicy()
	policy.MarkupPercent = decimal.Zero

	got := Compute(policy, relayer.GasEstimate{}, decimal.NewFromInt(100), 1_000_000, 6)

	assert.Equal(t, uint64(1000), got.OracleBasedFee)
	assert.Equal(t, uint64(1000), got.FinalFee)
	assert.Equal(t, relayer.FeeWinnerPercentage, got.Winner)
}

func TestCompute_IsDeterministic(t *testing.T) {
	gas := relayer.GasEstimate{Units: 123_457, UnitPrice: 7_321}
	price := decimal.RequireFromString("143.871234")

	first := Compute(DefaultPolicy(), gas, price, 3_333_333, 6)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Compute(DefaultPolicy(), gas, price, 3_333_333, 6))
	}
	assert.GreaterOrEqual(t, first.FinalFee, first.OracleBasedFee)
	assert.GreaterOrEqual(t, first.FinalFee, first.PercentageFee)
}

func TestCompute_NoTreasuryShare(t *testing.T) {
	policy := DefaultPolicy()
	policy.TreasuryShare = decimal.Zero

	got := Compute(policy, relayer.GasEstimate{Units: 200_000, UnitPrice: 5000}, decimal.NewFromInt(250), 1_000_000, 6)

	assert.Zero(t, got.TreasuryFee)
	assert.Equal(t, got.FinalFee, got.SponsorFee)
}
