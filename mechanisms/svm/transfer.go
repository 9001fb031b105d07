package svm

import (
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"

	relayer "github.com/x402-foundation/x402/relayer"
)

// TransferAccounts are the accounts a sponsored transfer touches
type TransferAccounts struct {
	Sender       solana.PublicKey
	Mint         solana.PublicKey
	SourceATA    solana.PublicKey
	RecipientATA solana.PublicKey
	SponsorATA   solana.PublicKey
	TreasuryATA  *solana.PublicKey
}

// Writable returns the accounts whose write locks drive prioritization fees
func (a TransferAccounts) Writable() solana.PublicKeySlice {
	accounts := solana.PublicKeySlice{a.SourceATA, a.RecipientATA, a.SponsorATA}
	if a.TreasuryATA != nil {
		accounts = append(accounts, *a.TreasuryATA)
	}
	return accounts
}

// TransactionBuilder deterministically rebuilds sponsored transfers for one sponsor
type TransactionBuilder struct {
	feePayer solana.PublicKey
	treasury *solana.PublicKey
}

// NewTransactionBuilder creates a builder with the sponsor as fee payer.
// When treasury is non-nil the treasury share of the fee is routed to it.
func NewTransactionBuilder(feePayer solana.PublicKey, treasury *solana.PublicKey) *TransactionBuilder {
	return &TransactionBuilder{feePayer: feePayer, treasury: treasury}
}

// FeePayer returns the sponsor's public key
func (b *TransactionBuilder) FeePayer() solana.PublicKey {
	return b.feePayer
}

// ResolveAccounts derives the token accounts of a transfer
func (b *TransactionBuilder) ResolveAccounts(params relayer.TransferParams) (TransferAccounts, error) {
	sender, err := ParseAddress(params.Sender)
	if err != nil {
		return TransferAccounts{}, err
	}
	recipient, err := ParseAddress(params.Recipient)
	if err != nil {
		return TransferAccounts{}, err
	}
	mint, err := ParseAddress(params.Coin.Mint)
	if err != nil {
		return TransferAccounts{}, err
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(sender, mint)
	if err != nil {
		return TransferAccounts{}, fmt.Errorf("failed to derive source ATA: %w", err)
	}
	recipientATA, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return TransferAccounts{}, fmt.Errorf("failed to derive recipient ATA: %w", err)
	}
	sponsorATA, _, err := solana.FindAssociatedTokenAddress(b.feePayer, mint)
	if err != nil {
		return TransferAccounts{}, fmt.Errorf("failed to derive sponsor ATA: %w", err)
	}

	accounts := TransferAccounts{
		Sender:       sender,
		Mint:         mint,
		SourceATA:    sourceATA,
		RecipientATA: recipientATA,
		SponsorATA:   sponsorATA,
	}
	if b.treasury != nil {
		treasuryATA, _, err := solana.FindAssociatedTokenAddress(*b.treasury, mint)
		if err != nil {
			return TransferAccounts{}, fmt.Errorf("failed to derive treasury ATA: %w", err)
		}
		accounts.TreasuryATA = &treasuryATA
	}
	return accounts, nil
}

// Build assembles the unsigned sponsored transaction. The same transfer always yields the same
// message bytes, so the server can rebuild what the sender signed.
func (b *TransactionBuilder) Build(transfer relayer.SponsoredTransfer) (*solana.Transaction, error) {
	if transfer.Amount == 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if transfer.RecentBlockhash == "" {
		return nil, fmt.Errorf("recent blockhash is required")
	}
	blockhash, err := solana.HashFromBase58(transfer.RecentBlockhash)
	if err != nil {
		return nil, fmt.Errorf("invalid recent blockhash: %w", err)
	}

	accounts, err := b.ResolveAccounts(transfer.TransferParams)
	if err != nil {
		return nil, err
	}

	units := transfer.Gas.Units
	if units == 0 || units > MaxComputeUnits {
		units = MaxComputeUnits
	}

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(uint32(units)).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}

	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(transfer.Gas.UnitPrice).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute price instruction: %w", err)
	}

	builder := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice)

	transferIx, err := b.transferChecked(accounts, accounts.RecipientATA, transfer.Amount, transfer.Coin.Decimals)
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer instruction: %w", err)
	}
	builder.AddInstruction(transferIx)

	sponsorShare := transfer.Fee.FinalFee
	if accounts.TreasuryATA != nil && transfer.Fee.TreasuryFee > 0 {
		sponsorShare = transfer.Fee.SponsorFee
	}
	if sponsorShare > 0 {
		feeIx, err := b.transferChecked(accounts, accounts.SponsorATA, sponsorShare, transfer.Coin.Decimals)
		if err != nil {
			return nil, fmt.Errorf("failed to build fee instruction: %w", err)
		}
		builder.AddInstruction(feeIx)
	}

	if accounts.TreasuryATA != nil && transfer.Fee.TreasuryFee > 0 {
		treasuryIx, err := b.transferChecked(accounts, *accounts.TreasuryATA, transfer.Fee.TreasuryFee, transfer.Coin.Decimals)
		if err != nil {
			return nil, fmt.Errorf("failed to build treasury instruction: %w", err)
		}
		builder.AddInstruction(treasuryIx)
	}

	tx, err := builder.
		SetRecentBlockHash(blockhash).
		SetFeePayer(b.feePayer).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}

// BuildMessage returns the canonical signing payload of a sponsored transfer
func (b *TransactionBuilder) BuildMessage(transfer relayer.SponsoredTransfer) ([]byte, error) {
	tx, err := b.Build(transfer)
	if err != nil {
		return nil, err
	}
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return messageBytes, nil
}

func (b *TransactionBuilder) transferChecked(accounts TransferAccounts, destination solana.PublicKey, amount uint64, decimals uint8) (solana.Instruction, error) {
	return token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(decimals).
		SetSourceAccount(accounts.SourceATA).
		SetMintAccount(accounts.Mint).
		SetDestinationAccount(destination).
		SetOwnerAccount(accounts.Sender).
		ValidateAndBuild()
}
