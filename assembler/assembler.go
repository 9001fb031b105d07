// Package assembler rebuilds sponsored transactions from server-held parameters, attaches the
// sender's and the sponsor's authorizations and submits them together.
package assembler

import (
	"context"
	"errors"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	relayer "github.com/x402-foundation/x402/relayer"
	"github.com/x402-foundation/x402/relayer/mechanisms/svm"
	"github.com/x402-foundation/x402/relayer/signature"
	svmsigner "github.com/x402-foundation/x402/relayer/signers/svm"
)

// Chain submits transactions and reports their status
type Chain interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction) (string, error)
	TransactionStatus(ctx context.Context, hash string) (relayer.ChainStatus, error)
}

// SponsoredTransaction is a rebuilt transfer with exactly two authorization slots.
// The fee-payer slot can only be filled by Assemble.
type SponsoredTransaction struct {
	Transfer    relayer.SponsoredTransfer
	Transaction *solana.Transaction
	Sender      signature.Authenticator
	feePayer    solana.Signature
}

// FeePayer returns the sponsor's signature
func (t *SponsoredTransaction) FeePayer() solana.Signature {
	return t.feePayer
}

// ID returns the transaction signature the chain will index the transaction by.
// On Solana this is the first signature, which belongs to the fee payer.
func (t *SponsoredTransaction) ID() string {
	return t.feePayer.String()
}

// Option configures an Assembler
type Option func(*Assembler)

// WithConfirmation bounds confirmation polling
func WithConfirmation(attempts int, interval time.Duration) Option {
	return func(a *Assembler) {
		a.confirmAttempts = attempts
		a.confirmInterval = interval
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// Assembler implements relayer.Assembler
type Assembler struct {
	builder         *svm.TransactionBuilder
	chain           Chain
	verifier        *signature.Verifier
	signer          *svmsigner.FeePayerSigner
	confirmAttempts int
	confirmInterval time.Duration
	logger          *zap.Logger
}

// New creates an assembler for the sponsor held by signer
func New(builder *svm.TransactionBuilder, chain Chain, verifier *signature.Verifier, signer *svmsigner.FeePayerSigner, opts ...Option) *Assembler {
	a := &Assembler{
		builder:         builder,
		chain:           chain,
		verifier:        verifier,
		signer:          signer,
		confirmAttempts: 30,
		confirmInterval: time.Second,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble rebuilds the transaction from transfer, verifies the wallet signature against the
// rebuilt message and signs as fee payer
func (a *Assembler) Assemble(ctx context.Context, transfer relayer.SponsoredTransfer, sig relayer.WalletSignature) (relayer.AssembledTransaction, error) {
	if !a.builder.FeePayer().Equals(a.signer.Address()) {
		return nil, relayer.NewRelayError(relayer.ErrCodeInternal, "builder fee payer is not the signing sponsor", nil)
	}

	tx, err := a.builder.Build(transfer)
	if err != nil {
		return nil, relayer.ValidationError("cannot rebuild transfer: %v", err)
	}
	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, relayer.NewRelayError(relayer.ErrCodeInternal, "failed to marshal message: "+err.Error(), nil)
	}

	auth, err := a.verifier.Verify(sig.Signature, sig.PublicKey, message, transfer.Sender)
	if err != nil {
		return nil, err
	}
	if err := svmsigner.PlaceSignature(tx, auth.PublicKey, auth.Signature); err != nil {
		return nil, relayer.NewRelayError(relayer.ErrCodeSignatureInvalid, err.Error(), nil)
	}

	feePayerSig, err := a.signer.SignAsFeePayer(ctx, tx)
	if err != nil {
		return nil, relayer.NewRelayError(relayer.ErrCodeInternal, "failed to sign as fee payer: "+err.Error(), nil)
	}

	if a.logger.Core().Enabled(zap.DebugLevel) {
		wire, _ := svm.EncodeTransaction(tx)
		a.logger.Debug("sponsored transaction assembled",
			zap.String("sender", transfer.Sender),
			zap.String("signature", feePayerSig.String()),
			zap.String("transaction", wire),
		)
	}
	return &SponsoredTransaction{
		Transfer:    transfer,
		Transaction: tx,
		Sender:      *auth,
		feePayer:    feePayerSig,
	}, nil
}

// Submit sends the transaction and waits a bounded time for confirmation.
// A transaction that is still unconfirmed when polling ends is reported as pending.
func (a *Assembler) Submit(ctx context.Context, assembled relayer.AssembledTransaction) (relayer.SubmitOutcome, error) {
	tx, ok := assembled.(*SponsoredTransaction)
	if !ok || tx.feePayer == (solana.Signature{}) {
		return relayer.SubmitOutcome{}, relayer.NewRelayError(relayer.ErrCodeInternal, "transaction was not assembled by this relayer", nil)
	}

	hash, err := a.chain.SendTransaction(ctx, tx.Transaction)
	if err != nil {
		a.logger.Warn("transaction submission failed", zap.String("id", tx.ID()), zap.Error(err))
		switch {
		case errors.Is(err, svm.ErrBlockhashNotFound):
			return relayer.SubmitOutcome{}, relayer.NewRelayError(relayer.ErrCodeSubmissionFailed, "quote expired on chain, request a new quote", map[string]interface{}{
				"chainError": err.Error(),
			})
		case errors.Is(err, svm.ErrTransactionRejected):
			return relayer.SubmitOutcome{}, relayer.NewRelayError(relayer.ErrCodeSubmissionFailed, err.Error(), map[string]interface{}{
				"chainError": err.Error(),
			})
		default:
			return relayer.SubmitOutcome{}, relayer.UpstreamError("chain rpc", err)
		}
	}

	outcome := relayer.SubmitOutcome{Hash: hash, Status: relayer.StatusPending}
	for attempt := 1; attempt <= a.confirmAttempts; attempt++ {
		status, err := a.chain.TransactionStatus(ctx, hash)
		if err != nil {
			a.logger.Debug("confirmation poll failed", zap.String("hash", hash), zap.Int("attempt", attempt), zap.Error(err))
		} else if status.Status.IsTerminal() {
			outcome.Status = status.Status
			outcome.GasUsed = status.GasUsed
			outcome.ErrorMessage = status.ErrorMessage
			return outcome, nil
		}

		if attempt == a.confirmAttempts {
			break
		}
		timer := time.NewTimer(a.confirmInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("confirmation wait cancelled", zap.String("hash", hash))
			return outcome, nil
		case <-timer.C:
		}
	}

	a.logger.Info("transaction not confirmed within polling window",
		zap.String("hash", hash),
		zap.Int("attempts", a.confirmAttempts),
	)
	return outcome, nil
}
