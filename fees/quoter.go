package fees

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	relayer "github.com/x402-foundation/x402/relayer"
	"github.com/x402-foundation/x402/relayer/mechanisms/svm"
)

// PriceOracle returns the native token price for a transfer of the given notional value
type PriceOracle interface {
	Price(ctx context.Context, notional decimal.Decimal) decimal.Decimal
}

// GasEstimator returns a buffered compute budget for a transfer
type GasEstimator interface {
	Estimate(ctx context.Context, params relayer.TransferParams, provisionalFee uint64) relayer.GasEstimate
}

// Chain is the subset of the chain client the quoter needs
type Chain interface {
	FeePayer() string
	NativeBalance(ctx context.Context, address string) (uint64, error)
	TokenBalance(ctx context.Context, owner string, coin relayer.Coin) (uint64, error)
	LatestBlockhash(ctx context.Context) (string, error)
	BuildMessage(transfer relayer.SponsoredTransfer) ([]byte, error)
}

// QuoterConfig configures a Quoter
type QuoterConfig struct {
	Policy Policy
	// MinSponsorBalance is the native reserve, in lamports, below which quotes are declined
	MinSponsorBalance uint64
}

// Quoter implements relayer.FeeQuoter
type Quoter struct {
	oracle    PriceOracle
	estimator GasEstimator
	chain     Chain
	config    QuoterConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewQuoter creates a quoter. A nil logger disables logging.
func NewQuoter(oracle PriceOracle, estimator GasEstimator, chain Chain, config QuoterConfig, logger *zap.Logger) *Quoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Quoter{
		oracle:    oracle,
		estimator: estimator,
		chain:     chain,
		config:    config,
		now:       time.Now,
		logger:    logger,
	}
}

// Quote prices a transfer, checks both parties can afford it and returns the message to sign
func (q *Quoter) Quote(ctx context.Context, params relayer.TransferParams) (*relayer.Quote, error) {
	price := q.oracle.Price(ctx, params.Coin.WholeUnits(params.Amount))
	gas := q.estimator.Estimate(ctx, params, q.config.Policy.PercentageFee(params.Amount))
	fee := Compute(q.config.Policy, gas, price, params.Amount, params.Coin.Decimals)

	q.logger.Info("fee computed",
		zap.String("sender", params.Sender),
		zap.Uint64("amount", params.Amount),
		zap.String("price", price.String()),
		zap.Uint64("gasUnits", gas.Units),
		zap.Uint64("gasPrice", gas.UnitPrice),
		zap.Uint64("oracleBasedFee", fee.OracleBasedFee),
		zap.Uint64("percentageFee", fee.PercentageFee),
		zap.Uint64("finalFee", fee.FinalFee),
		zap.String("winner", string(fee.Winner)),
	)

	if err := q.checkBalances(ctx, params, fee.FinalFee); err != nil {
		return nil, err
	}

	blockhash, err := q.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, relayer.UpstreamError("chain rpc", err)
	}

	transfer := relayer.SponsoredTransfer{
		TransferParams:  params,
		Fee:             fee,
		Gas:             gas,
		RecentBlockhash: blockhash,
	}
	message, err := q.chain.BuildMessage(transfer)
	if err != nil {
		return nil, relayer.ValidationError("cannot build transfer: %v", err)
	}

	return &relayer.Quote{
		QuoteID:             uuid.NewString(),
		Transfer:            params,
		Gas:                 gas,
		Fee:                 fee,
		Price:               price,
		TransactionTemplate: base64.StdEncoding.EncodeToString(message),
		RecentBlockhash:     blockhash,
		IssuedAt:            q.now().UTC(),
	}, nil
}

// Recompute applies the policy to the gas estimate and price snapshot captured by quote
func (q *Quoter) Recompute(quote *relayer.Quote) relayer.FeeBreakdown {
	return Compute(q.config.Policy, quote.Gas, quote.Price, quote.Transfer.Amount, quote.Transfer.Coin.Decimals)
}

func (q *Quoter) checkBalances(ctx context.Context, params relayer.TransferParams, fee uint64) error {
	balance, err := q.chain.TokenBalance(ctx, params.Sender, params.Coin)
	if err != nil {
		return relayer.UpstreamError("chain rpc", err)
	}
	required := params.Amount + fee
	if required < params.Amount || balance < required {
		return relayer.NewRelayError(relayer.ErrCodeInsufficientBalance, "sender balance does not cover amount plus fee", map[string]interface{}{
			"balance":  balance,
			"required": required,
			"coin":     params.Coin.Symbol,
		})
	}

	sponsorBalance, err := q.chain.NativeBalance(ctx, q.chain.FeePayer())
	if err != nil {
		return relayer.UpstreamError("chain rpc", err)
	}
	if sponsorBalance < q.config.MinSponsorBalance {
		q.logger.Warn("sponsor balance below reserve",
			zap.Uint64("balance", sponsorBalance),
			zap.Uint64("reserve", q.config.MinSponsorBalance),
			zap.String("balanceSOL", svm.LamportsToSOL(sponsorBalance).String()),
		)
		return relayer.NewRelayError(relayer.ErrCodeSponsorUndercapitalized, "sponsor is temporarily unable to cover network fees", map[string]interface{}{
			"balance": sponsorBalance,
			"reserve": q.config.MinSponsorBalance,
		})
	}
	return nil
}
