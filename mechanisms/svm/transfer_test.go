package svm

import (
	"encoding/binary"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayer "github.com/x402-foundation/x402/relayer"
)

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key.PublicKey()
}

func sampleTransfer(t *testing.T) relayer.SponsoredTransfer {
	t.Helper()
	return relayer.SponsoredTransfer{
		TransferParams: relayer.TransferParams{
			Sender:    newKey(t).String(),
			Recipient: newKey(t).String(),
			Amount:    5_000_000,
			Coin:      relayer.Coin{Symbol: "USDC", Mint: newKey(t).String(), Decimals: 6},
		},
		Fee: relayer.FeeBreakdown{
			FinalFee:    10_000,
			TreasuryFee: 1_000,
			SponsorFee:  9_000,
		},
		Gas:             relayer.GasEstimate{Units: 12_000, UnitPrice: 5000},
		RecentBlockhash: solana.Hash{7, 7, 7}.String(),
	}
}

// tokenTransfer is a decoded TransferChecked instruction
type tokenTransfer struct {
	destination solana.PublicKey
	amount      uint64
	decimals    uint8
}

func decodeTransfer(t *testing.T, tx *solana.Transaction, index int) tokenTransfer {
	t.Helper()
	ix := tx.Message.Instructions[index]
	require.True(t, tx.Message.AccountKeys[ix.ProgramIDIndex].Equals(token.ProgramID))
	require.Len(t, ix.Data, 10)
	require.Equal(t, byte(token.Instruction_TransferChecked), ix.Data[0])
	require.Len(t, ix.Accounts, 4)
	return tokenTransfer{
		destination: tx.Message.AccountKeys[ix.Accounts[2]],
		amount:      binary.LittleEndian.Uint64(ix.Data[1:9]),
		decimals:    ix.Data[9],
	}
}

func computeUnitLimit(t *testing.T, tx *solana.Transaction) uint32 {
	t.Helper()
	ix := tx.Message.Instructions[0]
	require.True(t, tx.Message.AccountKeys[ix.ProgramIDIndex].Equals(computebudget.ProgramID))
	require.Len(t, ix.Data, 5)
	return binary.LittleEndian.Uint32(ix.Data[1:5])
}

func TestBuild_WithoutTreasuryPaysSponsorFullFee(t *testing.T) {
	sponsor := newKey(t)
	builder := NewTransactionBuilder(sponsor, nil)
	transfer := sampleTransfer(t)

	tx, err := builder.Build(transfer)
	require.NoError(t, err)
	require.Len(t, tx.Message.Instructions, 4)
	assert.True(t, tx.Message.AccountKeys[0].Equals(sponsor))
	assert.Equal(t, uint8(2), tx.Message.Header.NumRequiredSignatures)

	accounts, err := builder.ResolveAccounts(transfer.TransferParams)
	require.NoError(t, err)

	payment := decodeTransfer(t, tx, 2)
	assert.Equal(t, accounts.RecipientATA, payment.destination)
	assert.Equal(t, uint64(5_000_000), payment.amount)
	assert.Equal(t, uint8(6), payment.decimals)

	fee := decodeTransfer(t, tx, 3)
	assert.Equal(t, accounts.SponsorATA, fee.destination)
	assert.Equal(t, uint64(10_000), fee.amount)
}

func TestBuild_TreasurySplitsFee(t *testing.T) {
	sponsor := newKey(t)
	treasury := newKey(t)
	builder := NewTransactionBuilder(sponsor, &treasury)
	transfer := sampleTransfer(t)

	tx, err := builder.Build(transfer)
	require.NoError(t, err)
	require.Len(t, tx.Message.Instructions, 5)

	accounts, err := builder.ResolveAccounts(transfer.TransferParams)
	require.NoError(t, err)
	require.NotNil(t, accounts.TreasuryATA)
	treasuryATA, _, err := solana.FindAssociatedTokenAddress(treasury, accounts.Mint)
	require.NoError(t, err)
	assert.Equal(t, treasuryATA, *accounts.TreasuryATA)

	assert.Equal(t, uint64(5_000_000), decodeTransfer(t, tx, 2).amount)

	sponsorShare := decodeTransfer(t, tx, 3)
	assert.Equal(t, accounts.SponsorATA, sponsorShare.destination)
	assert.Equal(t, uint64(9_000), sponsorShare.amount)

	treasuryShare := decodeTransfer(t, tx, 4)
	assert.Equal(t, treasuryATA, treasuryShare.destination)
	assert.Equal(t, uint64(1_000), treasuryShare.amount)

	assert.Len(t, accounts.Writable(), 4)
}

func TestBuild_TreasuryWithZeroShareFallsBackToSponsor(t *testing.T) {
	treasury := newKey(t)
	builder := NewTransactionBuilder(newKey(t), &treasury)
	transfer := sampleTransfer(t)
	transfer.Fee = relayer.FeeBreakdown{FinalFee: 10_000, SponsorFee: 10_000}

	tx, err := builder.Build(transfer)
	require.NoError(t, err)
	require.Len(t, tx.Message.Instructions, 4)
	assert.Equal(t, uint64(10_000), decodeTransfer(t, tx, 3).amount)
}

func TestBuild_ClampsComputeUnits(t *testing.T) {
	builder := NewTransactionBuilder(newKey(t), nil)

	tests := []struct {
		name  string
		units uint64
		want  uint32
	}{
		{"estimate kept", 12_000, 12_000},
		{"zero becomes ceiling", 0, MaxComputeUnits},
		{"above ceiling clamped", MaxComputeUnits + 1, MaxComputeUnits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transfer := sampleTransfer(t)
			transfer.Gas.Units = tt.units
			tx, err := builder.Build(transfer)
			require.NoError(t, err)
			assert.Equal(t, tt.want, computeUnitLimit(t, tx))
		})
	}
}

func TestBuildMessage_Deterministic(t *testing.T) {
	builder := NewTransactionBuilder(newKey(t), nil)
	transfer := sampleTransfer(t)

	first, err := builder.BuildMessage(transfer)
	require.NoError(t, err)
	second, err := builder.BuildMessage(transfer)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	transfer.Fee.FinalFee++
	changed, err := builder.BuildMessage(transfer)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}

func TestBuild_RejectsInvalidTransfers(t *testing.T) {
	builder := NewTransactionBuilder(newKey(t), nil)

	tests := []struct {
		name   string
		mutate func(*relayer.SponsoredTransfer)
		want   string
	}{
		{"zero amount", func(tr *relayer.SponsoredTransfer) { tr.Amount = 0 }, "amount must be positive"},
		{"missing blockhash", func(tr *relayer.SponsoredTransfer) { tr.RecentBlockhash = "" }, "recent blockhash is required"},
		{"bad blockhash", func(tr *relayer.SponsoredTransfer) { tr.RecentBlockhash = "not-a-hash" }, "invalid recent blockhash"},
		{"bad mint", func(tr *relayer.SponsoredTransfer) { tr.Coin.Mint = "mint" }, "invalid address"},
		{"bad recipient", func(tr *relayer.SponsoredTransfer) { tr.Recipient = "0xabc" }, "invalid address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transfer := sampleTransfer(t)
			tt.mutate(&transfer)
			_, err := builder.Build(transfer)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNetworkFee(t *testing.T) {
	assert.Equal(t, uint64(10_000), NetworkFee(0, 5000))
	assert.Equal(t, uint64(11_000), NetworkFee(200_000, 5000))
	// priority fees round up to the next lamport
	assert.Equal(t, uint64(10_001), NetworkFee(1, 1))
	assert.Equal(t, uint64(10_061), NetworkFee(12_001, 5000))
}

func TestMedianFee(t *testing.T) {
	tests := []struct {
		name string
		fees []uint64
		want uint64
	}{
		{"empty uses floor", nil, DefaultComputeUnitPrice},
		{"all zero uses floor", []uint64{0, 0, 0}, DefaultComputeUnitPrice},
		{"zeros ignored", []uint64{0, 9000, 0, 7000, 8000}, 8000},
		{"below floor raised", []uint64{10, 20, 30}, DefaultComputeUnitPrice},
		{"above ceiling clamped", []uint64{90_000, 100_000, 120_000}, MaxComputeUnitPrice},
		{"even count takes upper middle", []uint64{6000, 8000, 7000, 9000}, 8000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MedianFee(tt.fees, DefaultComputeUnitPrice, MaxComputeUnitPrice))
		})
	}
}

func TestLamportsToSOL(t *testing.T) {
	assert.Equal(t, "1.5", LamportsToSOL(1_500_000_000).String())
	assert.Equal(t, "0.000005", LamportsToSOL(5000).String())
}
