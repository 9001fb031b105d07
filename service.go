package relayer

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// DefaultQuoteTTL is how long an issued quote can be submitted
	DefaultQuoteTTL = 60 * time.Second

	// HealthStatusHealthy means the sponsor holds at least its native reserve
	HealthStatusHealthy = "healthy"
	// HealthStatusDegraded means the sponsor balance is below its reserve and quotes are declined
	HealthStatusDegraded = "degraded"

	lamportsPerSOLExp = 9
)

// ServiceOption configures a Service
type ServiceOption func(*Service)

// Service orchestrates quoting and sponsored submission.
// Quotes are held server-side; submissions are priced from the held quote only.
type Service struct {
	quoter    FeeQuoter
	assembler Assembler
	safety    SafetyMonitor
	chain     ChainReader
	prices    PriceReader
	ledger    RecordKeeper

	coins             map[string]Coin
	minSponsorBalance uint64

	quotes      *QuoteCache
	submissions *SubmissionCache

	beforeSubmitHooks    []BeforeSubmitHook
	afterSubmitHooks     []AfterSubmitHook
	onSubmitFailureHooks []OnSubmitFailureHook

	now    func() time.Time
	logger *zap.Logger
}

// WithLedger enables transaction tracking. A nil keeper leaves tracking disabled.
func WithLedger(keeper RecordKeeper) ServiceOption {
	return func(s *Service) {
		s.ledger = keeper
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for quotes, submissions and hooks
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithCoin registers a sponsorable coin. Lookups are case-insensitive on the symbol and exact on the mint.
func WithCoin(coin Coin) ServiceOption {
	return func(s *Service) {
		s.coins[strings.ToUpper(coin.Symbol)] = coin
	}
}

// WithPrices sets the source of the price reported by Health
func WithPrices(prices PriceReader) ServiceOption {
	return func(s *Service) {
		s.prices = prices
	}
}

// WithQuoteTTL sets how long issued quotes stay valid
func WithQuoteTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.quotes = NewQuoteCache(ttl)
		}
	}
}

// WithMinSponsorBalance sets the native reserve, in lamports, reported as healthy
func WithMinSponsorBalance(lamports uint64) ServiceOption {
	return func(s *Service) {
		s.minSponsorBalance = lamports
	}
}

// NewService creates a sponsorship service
func NewService(quoter FeeQuoter, assembler Assembler, safety SafetyMonitor, chain ChainReader, opts ...ServiceOption) *Service {
	s := &Service{
		quoter:    quoter,
		assembler: assembler,
		safety:    safety,
		chain:     chain,
		coins:     make(map[string]Coin),
		quotes:    NewQuoteCache(DefaultQuoteTTL),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.quotes.now = s.now
	// Completed submissions outlive their quote so late retries still see the original result.
	s.submissions = NewSubmissionCache(2 * s.quotes.TTL())
	s.submissions.now = s.now
	return s
}

// Coins returns the registered coins
func (s *Service) Coins() []Coin {
	coins := make([]Coin, 0, len(s.coins))
	for _, c := range s.coins {
		coins = append(coins, c)
	}
	return coins
}

// QuoteTTL returns how long issued quotes stay valid
func (s *Service) QuoteTTL() time.Duration {
	return s.quotes.TTL()
}

// LedgerEnabled reports whether transactions are tracked
func (s *Service) LedgerEnabled() bool {
	return s.ledger != nil && s.ledger.Enabled()
}

// Quote prices a transfer and holds the quote for later submission
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	params, err := s.transferParams(req.FromAddress, req.ToAddress, req.Amount, req.Coin)
	if err != nil {
		return nil, err
	}

	quote, err := s.quoter.Quote(ctx, params)
	if err != nil {
		return nil, err
	}
	s.quotes.Put(quote)

	s.logger.Info("quote issued",
		zap.String("quoteId", quote.QuoteID),
		zap.String("sender", params.Sender),
		zap.Uint64("amount", params.Amount),
		zap.Uint64("fee", quote.Fee.FinalFee),
		zap.Time("expiresAt", quote.ExpiresAt),
	)
	return quote, nil
}

// Submit authorizes, admits and submits a sponsored transfer. Repeated submissions of one quote
// return the first outcome.
func (s *Service) Submit(ctx context.Context, req SponsorshipRequest) (*SubmitResult, error) {
	// Completed submissions outlive their quote.
	if req.QuoteID != "" {
		if cached := s.submissions.Get(req.QuoteID); cached != nil {
			return s.completed(req, cached)
		}
	}

	quote, err := s.heldQuote(req)
	if err != nil {
		return nil, err
	}

	state, cached, done := s.submissions.CheckAndMark(quote.QuoteID)
	switch state {
	case SubmissionCached:
		s.logger.Info("returning cached submission", zap.String("quoteId", quote.QuoteID), zap.String("hash", cached.Hash))
		result := *cached
		return &result, nil
	case SubmissionInFlight:
		result, err := s.submissions.WaitForResult(ctx, quote.QuoteID, done)
		if err != nil {
			return nil, err
		}
		if result != nil {
			copied := *result
			return &copied, nil
		}
		// the concurrent attempt failed; this request gets its own attempt
		return s.Submit(ctx, req)
	}

	result, err := s.submit(ctx, req, quote)
	if err != nil {
		s.submissions.Fail(quote.QuoteID, done)
		return nil, err
	}
	s.submissions.Complete(quote.QuoteID, result, done)
	copied := *result
	return &copied, nil
}

func (s *Service) heldQuote(req SponsorshipRequest) (*Quote, error) {
	if req.QuoteID == "" {
		return nil, ValidationError("quoteId is required")
	}
	params, err := s.transferParams(req.FromAddress, req.ToAddress, req.Amount, req.Coin)
	if err != nil {
		return nil, err
	}

	quote, ok := s.quotes.Get(req.QuoteID)
	if !ok {
		return nil, NewRelayError(ErrCodeQuoteExpired, "quote not found or expired, request a new quote", map[string]interface{}{
			"quoteId": req.QuoteID,
		})
	}

	if err := matchTransfer(quote.Transfer, params); err != nil {
		return nil, err
	}
	return quote, nil
}

// completed returns a copy of an earlier result for the same quote after checking that req
// describes the transfer that was sponsored
func (s *Service) completed(req SponsorshipRequest, cached *SubmitResult) (*SubmitResult, error) {
	params, err := s.transferParams(req.FromAddress, req.ToAddress, req.Amount, req.Coin)
	if err != nil {
		return nil, err
	}
	if err := matchTransfer(cached.Transfer, params); err != nil {
		return nil, err
	}
	s.logger.Info("returning cached submission", zap.String("quoteId", req.QuoteID), zap.String("hash", cached.Hash))
	result := *cached
	return &result, nil
}

func matchTransfer(held, params TransferParams) error {
	switch {
	case held.Sender != params.Sender:
		return mismatch("fromAddress")
	case held.Recipient != params.Recipient:
		return mismatch("toAddress")
	case held.Amount != params.Amount:
		return mismatch("amount")
	case held.Coin.Mint != params.Coin.Mint:
		return mismatch("coin")
	}
	return nil
}

func mismatch(field string) *RelayError {
	return NewRelayError(ErrCodeValidation, "request does not match the quote", map[string]interface{}{
		"field": field,
	})
}

func (s *Service) submit(ctx context.Context, req SponsorshipRequest, quote *Quote) (*SubmitResult, error) {
	fee := s.quoter.Recompute(quote)
	if req.DeclaredFee != nil && *req.DeclaredFee != fee.FinalFee {
		s.logger.Warn("declared fee ignored",
			zap.String("quoteId", quote.QuoteID),
			zap.Uint64("declaredFee", *req.DeclaredFee),
			zap.Uint64("fee", fee.FinalFee),
		)
	}

	start := s.now()
	hookCtx := SubmitContext{
		Ctx:       ctx,
		Request:   req,
		Quote:     quote,
		Fee:       fee,
		Timestamp: start,
	}

	for _, hook := range s.beforeSubmitHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, s.failed(hookCtx, start, err)
		}
		if result != nil && result.Abort {
			return nil, s.failed(hookCtx, start, ValidationError("submission rejected: %s", result.Reason))
		}
	}

	transfer := quote.SponsoredTransfer()
	transfer.Fee = fee

	tx, err := s.assembler.Assemble(ctx, transfer, req.Signature)
	if err != nil {
		return nil, s.failed(hookCtx, start, err)
	}

	admission, err := s.safety.Admit(ctx, transfer.Sender, transfer.Amount)
	if err != nil {
		return nil, s.failed(hookCtx, start, err)
	}

	record := &TransactionRecord{
		ID:          uuid.NewString(),
		FromAddress: transfer.Sender,
		ToAddress:   transfer.Recipient,
		Amount:      transfer.Amount,
		Coin:        transfer.Coin.Symbol,
		GasUnits:    transfer.Gas.Units,
		GasPrice:    transfer.Gas.UnitPrice,
		TotalGasFee: fee.GasCostNative,
		Price:       quote.Price,
		StableFee:   fee.FinalFee,
		TreasuryFee: fee.TreasuryFee,
		Status:      StatusPending,
		CreatedAt:   start.UTC(),
		UpdatedAt:   start.UTC(),
	}
	tracked := s.LedgerEnabled() && s.ledger.CreatePending(ctx, record)

	outcome, err := s.assembler.Submit(ctx, tx)
	if err != nil {
		s.safety.Release(ctx, admission)
		if tracked {
			s.ledger.MarkTerminal(ctx, record.ID, StatusFailed, err.Error())
		}
		return nil, s.failed(hookCtx, start, err)
	}

	if tracked && outcome.Hash != "" {
		s.ledger.MarkSubmitted(ctx, record.ID, outcome.Hash)
	}

	switch outcome.Status {
	case StatusSuccess:
		s.safety.Record(ctx, admission)
		if tracked {
			s.ledger.MarkTerminal(ctx, record.ID, StatusSuccess, "")
		}
	case StatusFailed:
		s.safety.Release(ctx, admission)
		if tracked {
			s.ledger.MarkTerminal(ctx, record.ID, StatusFailed, outcome.ErrorMessage)
		}
		return nil, s.failed(hookCtx, start, NewRelayError(ErrCodeSubmissionFailed, "transaction failed on chain", map[string]interface{}{
			"hash":  outcome.Hash,
			"error": outcome.ErrorMessage,
		}))
	default:
		// Unconfirmed transactions may still land, so their volume counts against the caps.
		s.safety.Record(ctx, admission)
	}

	result := &SubmitResult{
		TransactionID: record.ID,
		Hash:          outcome.Hash,
		Status:        outcome.Status,
		Fee:           fee.FinalFee,
		Tracked:       tracked,
		Transfer:      transfer.TransferParams,
	}

	s.logger.Info("sponsored transaction submitted",
		zap.String("quoteId", quote.QuoteID),
		zap.String("transactionId", result.TransactionID),
		zap.String("hash", result.Hash),
		zap.String("status", string(result.Status)),
		zap.Uint64("fee", result.Fee),
		zap.Bool("tracked", tracked),
	)

	resultCtx := SubmitResultContext{
		SubmitContext: hookCtx,
		Result:        *result,
		Duration:      s.now().Sub(start),
	}
	for _, hook := range s.afterSubmitHooks {
		if err := hook(resultCtx); err != nil {
			s.logger.Warn("after submit hook failed", zap.Error(err))
		}
	}
	return result, nil
}

// failed runs the failure hooks and returns err unchanged
func (s *Service) failed(hookCtx SubmitContext, start time.Time, err error) error {
	s.logger.Info("sponsorship declined",
		zap.String("quoteId", hookCtx.Request.QuoteID),
		zap.String("code", CodeOf(err)),
		zap.Error(err),
	)
	failureCtx := SubmitFailureContext{
		SubmitContext: hookCtx,
		Error:         err,
		Duration:      s.now().Sub(start),
	}
	for _, hook := range s.onSubmitFailureHooks {
		if hookErr := hook(failureCtx); hookErr != nil {
			s.logger.Warn("submit failure hook failed", zap.Error(hookErr))
		}
	}
	return err
}

// Status reports the chain status of a transaction, falling back to the ledger when the chain
// no longer knows the hash. A pending ledger entry is settled when the chain reports a final state.
func (s *Service) Status(ctx context.Context, hash string) (ChainStatus, error) {
	if _, err := solana.SignatureFromBase58(hash); err != nil {
		return ChainStatus{}, ValidationError("invalid transaction hash")
	}

	status, err := s.chain.TransactionStatus(ctx, hash)
	if err != nil {
		if rec, ok := s.record(ctx, hash); ok {
			return fromRecord(hash, rec), nil
		}
		return ChainStatus{}, UpstreamError("chain rpc", err)
	}

	rec, ok := s.record(ctx, hash)
	if !ok {
		return status, nil
	}
	if status.Status == StatusNotFound {
		return fromRecord(hash, rec), nil
	}
	if status.Status.IsTerminal() && rec.Status == StatusPending {
		s.ledger.MarkTerminal(ctx, rec.ID, status.Status, status.ErrorMessage)
	}
	return status, nil
}

func (s *Service) record(ctx context.Context, hash string) (*TransactionRecord, bool) {
	if !s.LedgerEnabled() {
		return nil, false
	}
	return s.ledger.GetByHash(ctx, hash)
}

func fromRecord(hash string, rec *TransactionRecord) ChainStatus {
	status := ChainStatus{Hash: hash, Status: rec.Status}
	if rec.ErrorMessage != nil {
		status.ErrorMessage = *rec.ErrorMessage
	}
	return status
}

// Health reports the sponsor's balance against its reserve
func (s *Service) Health(ctx context.Context) (*Health, error) {
	sponsor := s.chain.FeePayer()
	balance, err := s.chain.NativeBalance(ctx, sponsor)
	if err != nil {
		return nil, UpstreamError("chain rpc", err)
	}

	health := &Health{
		Status:            HealthStatusHealthy,
		SponsorAddress:    sponsor,
		SponsorBalance:    balance,
		SponsorBalanceSOL: decimal.NewFromBigInt(new(big.Int).SetUint64(balance), -lamportsPerSOLExp),
		Timestamp:         s.now().UTC(),
	}
	if balance < s.minSponsorBalance {
		health.Status = HealthStatusDegraded
	}
	if s.prices != nil {
		health.Price = s.prices.CurrentPrice()
	}
	return health, nil
}

// Stats returns ledger aggregates and the sponsor balance. Aggregates are zero without a ledger.
func (s *Service) Stats(ctx context.Context) Stats {
	stats := Stats{LedgerEnabled: s.LedgerEnabled()}
	if stats.LedgerEnabled {
		if agg, ok := s.ledger.Stats(ctx); ok {
			stats.LedgerStats = agg
		}
	}
	balance, err := s.chain.NativeBalance(ctx, s.chain.FeePayer())
	if err != nil {
		s.logger.Warn("failed to read sponsor balance", zap.Error(err))
	} else {
		stats.SponsorBalance = balance
	}
	return stats
}

// SafetyStats returns the caps and today's usage, including address usage when address is set
func (s *Service) SafetyStats(ctx context.Context, address string) (SafetyStats, error) {
	if address != "" {
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return SafetyStats{}, ValidationError("invalid address")
		}
	}
	return s.safety.Stats(ctx, address), nil
}

func (s *Service) transferParams(from, to string, amount uint64, coinRef string) (TransferParams, error) {
	sender, err := solana.PublicKeyFromBase58(from)
	if err != nil {
		return TransferParams{}, ValidationError("invalid fromAddress")
	}
	recipient, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return TransferParams{}, ValidationError("invalid toAddress")
	}
	if sender.Equals(recipient) {
		return TransferParams{}, ValidationError("fromAddress and toAddress must differ")
	}
	if amount == 0 {
		return TransferParams{}, ValidationError("amount must be positive")
	}
	coin, err := s.coin(coinRef)
	if err != nil {
		return TransferParams{}, err
	}
	return TransferParams{
		Sender:    sender.String(),
		Recipient: recipient.String(),
		Amount:    amount,
		Coin:      coin,
	}, nil
}

func (s *Service) coin(ref string) (Coin, error) {
	if c, ok := s.coins[strings.ToUpper(ref)]; ok {
		return c, nil
	}
	for _, c := range s.coins {
		if c.Mint == ref {
			return c, nil
		}
	}
	return Coin{}, NewRelayError(ErrCodeValidation, fmt.Sprintf("unsupported coin %q", ref), map[string]interface{}{
		"supported": s.supportedSymbols(),
	})
}

func (s *Service) supportedSymbols() []string {
	symbols := make([]string, 0, len(s.coins))
	for symbol := range s.coins {
		symbols = append(symbols, symbol)
	}
	return symbols
}
