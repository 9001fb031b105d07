package relayer

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// TxStatus is the lifecycle state of a sponsored transaction
type TxStatus string

const (
	StatusPending  TxStatus = "pending"
	StatusSuccess  TxStatus = "success"
	StatusFailed   TxStatus = "failed"
	StatusNotFound TxStatus = "not_found"
)

// IsTerminal reports whether no further transition is allowed from s
func (s TxStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Coin identifies a sponsorable SPL token
type Coin struct {
	Symbol   string `json:"symbol"`
	Mint     string `json:"mint"`
	Decimals uint8  `json:"decimals"`
}

// WholeUnits converts a base-unit amount to whole token units
func (c Coin) WholeUnits(amount uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(c.Decimals))
}

// TransferParams are the trusted parties and value of a transfer
type TransferParams struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Coin      Coin   `json:"coin"`
}

// GasEstimate is a buffered compute-unit estimate and unit price in micro-lamports
type GasEstimate struct {
	Units          uint64 `json:"units"`
	UnitPrice      uint64 `json:"unitPrice"`
	SimulatedUnits uint64 `json:"simulatedUnits"`
	Fallback       bool   `json:"fallback"`
}

// FeeWinner names the component of the hybrid fee that was charged
type FeeWinner string

const (
	FeeWinnerOracle     FeeWinner = "oracle"
	FeeWinnerPercentage FeeWinner = "percentage"
)

// FeeBreakdown is the full result of the hybrid fee policy, amounts in stable base units
type FeeBreakdown struct {
	GasCostNative  uint64    `json:"gasCostNative"`
	GasFee         uint64    `json:"gasFee"`
	OracleBasedFee uint64    `json:"oracleBasedFee"`
	PercentageFee  uint64    `json:"percentageFee"`
	FinalFee       uint64    `json:"finalFee"`
	TreasuryFee    uint64    `json:"treasuryFee"`
	SponsorFee     uint64    `json:"sponsorFee"`
	Winner         FeeWinner `json:"winner"`
}

// SponsoredTransfer holds every server-side parameter needed to rebuild a sponsored transaction
type SponsoredTransfer struct {
	TransferParams
	Fee             FeeBreakdown `json:"fee"`
	Gas             GasEstimate  `json:"gas"`
	RecentBlockhash string       `json:"recentBlockhash"`
}

// QuoteRequest is a client request for a fee quote
type QuoteRequest struct {
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	Amount      uint64 `json:"amount"`
	Coin        string `json:"coin"`
}

// Quote is a non-binding fee estimate together with the message the sender must sign
type Quote struct {
	QuoteID             string          `json:"quoteId"`
	Transfer            TransferParams  `json:"transfer"`
	Gas                 GasEstimate     `json:"gas"`
	Fee                 FeeBreakdown    `json:"fee"`
	Price               decimal.Decimal `json:"price"`
	TransactionTemplate string          `json:"transactionTemplate"`
	RecentBlockhash     string          `json:"recentBlockhash"`
	IssuedAt            time.Time       `json:"issuedAt"`
	ExpiresAt           time.Time       `json:"expiresAt"`
}

// SponsoredTransfer returns the rebuild parameters captured by the quote
func (q *Quote) SponsoredTransfer() SponsoredTransfer {
	return SponsoredTransfer{
		TransferParams:  q.Transfer,
		Fee:             q.Fee,
		Gas:             q.Gas,
		RecentBlockhash: q.RecentBlockhash,
	}
}

// WalletSignature is the sender's raw authorization as produced by a wallet
type WalletSignature struct {
	Signature []byte
	PublicKey []byte
}

// SponsorshipRequest is a client submission. DeclaredFee is advisory and never charged.
type SponsorshipRequest struct {
	QuoteID     string
	FromAddress string
	ToAddress   string
	Amount      uint64
	Coin        string
	DeclaredFee *uint64
	Signature   WalletSignature
}

// SubmitOutcome is the chain-level result of submitting a sponsored transaction
type SubmitOutcome struct {
	Hash         string   `json:"hash"`
	Status       TxStatus `json:"status"`
	GasUsed      uint64   `json:"gasUsed"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

// SubmitResult is returned to the caller of Submit
type SubmitResult struct {
	TransactionID string   `json:"transactionId"`
	Hash          string   `json:"hash"`
	Status        TxStatus `json:"status"`
	Fee           uint64   `json:"fee"`
	Tracked       bool     `json:"tracked"`
	// Transfer is what was sponsored; retries of the quote must match it
	Transfer TransferParams `json:"-"`
}

// ChainStatus is the chain's view of a transaction
type ChainStatus struct {
	Hash         string   `json:"hash"`
	Status       TxStatus `json:"status"`
	GasUsed      uint64   `json:"gasUsed"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

// TransactionRecord is the persisted audit entry of a sponsorship
type TransactionRecord struct {
	ID           string          `json:"id"`
	Hash         *string         `json:"hash"`
	FromAddress  string          `json:"fromAddress"`
	ToAddress    string          `json:"toAddress"`
	Amount       uint64          `json:"amount"`
	Coin         string          `json:"coin"`
	GasUnits     uint64          `json:"gasUnits"`
	GasPrice     uint64          `json:"gasPrice"`
	TotalGasFee  uint64          `json:"totalGasFee"`
	Price        decimal.Decimal `json:"price"`
	StableFee    uint64          `json:"stableFee"`
	TreasuryFee  uint64          `json:"treasuryFee"`
	Status       TxStatus        `json:"status"`
	ErrorMessage *string         `json:"errorMessage"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// LedgerStats are aggregates over the ledger
type LedgerStats struct {
	Total         int64  `json:"totalTransactions"`
	Success       int64  `json:"successfulTransactions"`
	Failed        int64  `json:"failedTransactions"`
	Pending       int64  `json:"pendingTransactions"`
	Volume        uint64 `json:"volume"`
	FeesCollected uint64 `json:"feesCollected"`
	TreasuryFees  uint64 `json:"treasuryFees"`
}

// Admission is a reserved slot of safety-cap capacity
type Admission struct {
	Day     string `json:"day"`
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// SafetyLimits are the configured caps in stable base units
type SafetyLimits struct {
	MaxTransactionAmount uint64 `json:"maxSingleTransaction"`
	UserDailyLimit       uint64 `json:"maxUserDaily"`
	GlobalDailyLimit     uint64 `json:"maxDailyVolume"`
}

// SafetyUsage is the current usage of one counter
type SafetyUsage struct {
	Committed uint64 `json:"committed"`
	Reserved  uint64 `json:"reserved"`
}

// Total returns committed plus reserved usage
func (u SafetyUsage) Total() uint64 {
	return u.Committed + u.Reserved
}

// SafetyStats is a snapshot of the safety monitor
type SafetyStats struct {
	Day                   string       `json:"day"`
	Limits                SafetyLimits `json:"limits"`
	Global                SafetyUsage  `json:"global"`
	Address               string       `json:"address,omitempty"`
	AddressUsage          *SafetyUsage `json:"addressUsage,omitempty"`
	UtilizationPercentage float64      `json:"utilizationPercentage"`
	Status                string       `json:"status"`
}

// Health summarizes the sponsor's readiness
type Health struct {
	Status            string          `json:"status"`
	SponsorAddress    string          `json:"sponsorAddress"`
	SponsorBalance    uint64          `json:"sponsorBalance"`
	SponsorBalanceSOL decimal.Decimal `json:"sponsorBalanceSol"`
	Price             decimal.Decimal `json:"price"`
	Timestamp         time.Time       `json:"timestamp"`
}

// Stats are relayer-wide statistics
type Stats struct {
	LedgerStats
	LedgerEnabled  bool   `json:"ledgerEnabled"`
	SponsorBalance uint64 `json:"sponsorBalance"`
}
