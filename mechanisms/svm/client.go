package svm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	relayer "github.com/x402-foundation/x402/relayer"
)

var (
	// ErrBlockhashNotFound is returned when the quoted blockhash has expired before submission
	ErrBlockhashNotFound = errors.New("blockhash not found")

	// ErrTransactionRejected is returned when the node answered but refused the transaction
	ErrTransactionRejected = errors.New("transaction rejected")
)

// Client wraps the Solana JSON-RPC calls used by the relayer
type Client struct {
	rpc     *rpc.Client
	builder *TransactionBuilder
}

// NewClient creates a client for the given RPC endpoint and transaction builder
func NewClient(rpcURL string, builder *TransactionBuilder) *Client {
	return &Client{
		rpc:     rpc.New(rpcURL),
		builder: builder,
	}
}

// Builder returns the transaction builder bound to the sponsor
func (c *Client) Builder() *TransactionBuilder {
	return c.builder
}

// FeePayer returns the sponsor address
func (c *Client) FeePayer() string {
	return c.builder.FeePayer().String()
}

// NativeBalance returns the lamport balance of an address
func (c *Client) NativeBalance(ctx context.Context, address string) (uint64, error) {
	pubkey, err := ParseAddress(address)
	if err != nil {
		return 0, err
	}
	out, err := c.rpc.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return out.Value, nil
}

// TokenBalance returns the owner's balance of the coin in base units.
// A missing token account is a zero balance.
func (c *Client) TokenBalance(ctx context.Context, owner string, coin relayer.Coin) (uint64, error) {
	ownerKey, err := ParseAddress(owner)
	if err != nil {
		return 0, err
	}
	mint, err := ParseAddress(coin.Mint)
	if err != nil {
		return 0, err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ownerKey, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to derive token account: %w", err)
	}

	out, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if isAccountMissing(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get token balance: %w", err)
	}
	if out == nil || out.Value == nil {
		return 0, nil
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}

// LatestBlockhash returns a recent finalized blockhash
func (c *Client) LatestBlockhash(ctx context.Context) (string, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return "", fmt.Errorf("empty latest blockhash response")
	}
	return out.Value.Blockhash.String(), nil
}

// BuildMessage returns the canonical signing payload of a transfer
func (c *Client) BuildMessage(transfer relayer.SponsoredTransfer) ([]byte, error) {
	return c.builder.BuildMessage(transfer)
}

// SimulateTransfer simulates the unsigned sponsored transaction and returns consumed compute units
func (c *Client) SimulateTransfer(ctx context.Context, transfer relayer.SponsoredTransfer) (uint64, error) {
	if transfer.RecentBlockhash == "" {
		// replaceRecentBlockhash makes any well-formed hash acceptable
		transfer.RecentBlockhash = solana.Hash{}.String()
	}
	tx, err := c.builder.Build(transfer)
	if err != nil {
		return 0, err
	}
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)

	out, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:              false,
		Commitment:             rpc.CommitmentConfirmed,
		ReplaceRecentBlockhash: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to simulate transaction: %w", err)
	}
	if out == nil || out.Value == nil {
		return 0, fmt.Errorf("empty simulation response")
	}
	if out.Value.Err != nil {
		return 0, fmt.Errorf("simulation failed: %v", out.Value.Err)
	}
	if out.Value.UnitsConsumed == nil {
		return 0, fmt.Errorf("simulation did not report consumed units")
	}
	return *out.Value.UnitsConsumed, nil
}

// RecentPriorityFees returns recently paid compute-unit prices for the transfer's writable accounts
func (c *Client) RecentPriorityFees(ctx context.Context, params relayer.TransferParams) ([]uint64, error) {
	accounts, err := c.builder.ResolveAccounts(params)
	if err != nil {
		return nil, err
	}
	out, err := c.rpc.GetRecentPrioritizationFees(ctx, accounts.Writable())
	if err != nil {
		return nil, fmt.Errorf("failed to get prioritization fees: %w", err)
	}
	fees := make([]uint64, 0, len(out))
	for _, sample := range out {
		fees = append(fees, sample.PrioritizationFee)
	}
	return fees, nil
}

// SendTransaction broadcasts a fully signed transaction and returns its signature
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (string, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Blockhash not found") || strings.Contains(err.Error(), "BlockhashNotFound") {
			return "", fmt.Errorf("%w: %v", ErrBlockhashNotFound, err)
		}
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("%w: %s", ErrTransactionRejected, rpcErr.Message)
		}
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig.String(), nil
}

// SignatureStatus returns the confirmation state of a signature.
// A signature the cluster has not seen yet is pending.
func (c *Client) SignatureStatus(ctx context.Context, hash string) (relayer.ChainStatus, error) {
	sig, err := solana.SignatureFromBase58(hash)
	if err != nil {
		return relayer.ChainStatus{}, fmt.Errorf("invalid transaction signature: %w", err)
	}
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return relayer.ChainStatus{}, fmt.Errorf("failed to get signature status: %w", err)
	}

	status := relayer.ChainStatus{Hash: hash, Status: relayer.StatusNotFound}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return status, nil
	}
	result := out.Value[0]
	switch {
	case result.Err != nil:
		status.Status = relayer.StatusFailed
		status.ErrorMessage = fmt.Sprintf("%v", result.Err)
	case result.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		result.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
		status.Status = relayer.StatusSuccess
	default:
		status.Status = relayer.StatusPending
	}
	return status, nil
}

// TransactionStatus returns the signature status enriched with consumed compute units
func (c *Client) TransactionStatus(ctx context.Context, hash string) (relayer.ChainStatus, error) {
	status, err := c.SignatureStatus(ctx, hash)
	if err != nil {
		return status, err
	}
	if !status.Status.IsTerminal() {
		return status, nil
	}

	sig, _ := solana.SignatureFromBase58(hash)
	maxVersion := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return status, nil
		}
		return status, fmt.Errorf("failed to get transaction: %w", err)
	}
	if out != nil && out.Meta != nil && out.Meta.ComputeUnitsConsumed != nil {
		status.GasUsed = *out.Meta.ComputeUnitsConsumed
	}
	return status, nil
}

// MedianFee returns the median of observed prioritization fees, clamped to [floor, ceiling]
func MedianFee(fees []uint64, floor, ceiling uint64) uint64 {
	nonZero := make([]uint64, 0, len(fees))
	for _, f := range fees {
		if f > 0 {
			nonZero = append(nonZero, f)
		}
	}
	if len(nonZero) == 0 {
		return floor
	}
	sort.Slice(nonZero, func(i, j int) bool { return nonZero[i] < nonZero[j] })
	median := nonZero[len(nonZero)/2]
	if median < floor {
		return floor
	}
	if median > ceiling {
		return ceiling
	}
	return median
}

func isAccountMissing(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "Invalid param: could not find account")
}
