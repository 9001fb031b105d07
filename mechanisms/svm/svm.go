// Package svm binds the relayer to Solana. It builds sponsored SPL token transfers with the
// sponsor in the fee-payer slot, and wraps the JSON-RPC calls the relayer needs.
package svm

import (
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const (
	// LamportsPerSOL converts lamports to whole SOL
	LamportsPerSOL = 1_000_000_000

	// MicroLamportsPerLamport converts compute-unit prices to lamports
	MicroLamportsPerLamport = 1_000_000

	// BaseSignatureFee is the network fee charged per transaction signature, in lamports
	BaseSignatureFee = 5000

	// SponsoredSignatures is the number of signers on every sponsored transaction
	SponsoredSignatures = 2

	// MaxComputeUnits is the per-transaction compute ceiling
	MaxComputeUnits = 1_400_000

	// ComputeBudgetOverheadUnits covers the two compute budget instructions
	ComputeBudgetOverheadUnits = 300

	// DefaultComputeUnitPrice is used when no recent prioritization fees are observed
	DefaultComputeUnitPrice = 5000

	// MaxComputeUnitPrice caps the priority fee the sponsor is willing to pay
	MaxComputeUnitPrice = 50000
)

// ParseAddress decodes a base58 Solana address
func ParseAddress(address string) (solana.PublicKey, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid address %q: %w", address, err)
	}
	return pubkey, nil
}

// AddressFromPublicKey derives the Solana address of an ed25519 public key.
// A Solana address is the base58 encoding of the key itself.
func AddressFromPublicKey(publicKey []byte) (solana.PublicKey, error) {
	if len(publicKey) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("public key must be %d bytes, got %d", solana.PublicKeyLength, len(publicKey))
	}
	return solana.PublicKeyFromBytes(publicKey), nil
}

// NetworkFee returns the lamports charged for a transaction with the given compute budget
func NetworkFee(units, microLamportsPerUnit uint64) uint64 {
	priority := (units*microLamportsPerUnit + MicroLamportsPerLamport - 1) / MicroLamportsPerLamport
	return BaseSignatureFee*SponsoredSignatures + priority
}

// LamportsToSOL converts lamports to whole SOL
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(lamports)).Div(decimal.NewFromInt(LamportsPerSOL))
}
