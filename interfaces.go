package relayer

import (
	"context"

	"github.com/shopspring/decimal"
)

// FeeQuoter produces fee quotes and recomputes fees from server-held quote parameters
type FeeQuoter interface {
	// Quote prices a transfer and returns the message the sender must sign
	Quote(ctx context.Context, params TransferParams) (*Quote, error)

	// Recompute applies the current fee policy to the gas estimate and price captured by q
	Recompute(q *Quote) FeeBreakdown
}

// AssembledTransaction is a fully authorized sponsored transaction ready for submission
type AssembledTransaction interface {
	// ID is the transaction hash the chain will assign once submitted
	ID() string
}

// Assembler rebuilds, authorizes and submits sponsored transactions
type Assembler interface {
	Assemble(ctx context.Context, transfer SponsoredTransfer, sig WalletSignature) (AssembledTransaction, error)
	Submit(ctx context.Context, tx AssembledTransaction) (SubmitOutcome, error)
}

// SafetyMonitor enforces per-transaction and daily notional caps.
// Implementations must be safe for concurrent use.
type SafetyMonitor interface {
	Admit(ctx context.Context, address string, amount uint64) (*Admission, error)
	Record(ctx context.Context, admission *Admission)
	Release(ctx context.Context, admission *Admission)
	Stats(ctx context.Context, address string) SafetyStats
}

// Ledger is the audit trail of sponsored transactions
type Ledger interface {
	CreatePending(ctx context.Context, rec *TransactionRecord) error
	MarkSubmitted(ctx context.Context, id, hash string) error
	MarkTerminal(ctx context.Context, id string, status TxStatus, errMsg string) error
	GetByHash(ctx context.Context, hash string) (*TransactionRecord, error)
	Stats(ctx context.Context) (LedgerStats, error)
}

// ChainReader answers read-only chain queries for status and health
type ChainReader interface {
	FeePayer() string
	NativeBalance(ctx context.Context, address string) (uint64, error)
	TransactionStatus(ctx context.Context, hash string) (ChainStatus, error)
}

// PriceReader exposes the last known native token price without I/O
type PriceReader interface {
	CurrentPrice() decimal.Decimal
}

// RecordKeeper is a ledger whose failures are already absorbed. The boolean results report
// whether the ledger holds the data; the sponsorship flow never branches on them.
type RecordKeeper interface {
	Enabled() bool
	CreatePending(ctx context.Context, rec *TransactionRecord) bool
	MarkSubmitted(ctx context.Context, id, hash string)
	MarkTerminal(ctx context.Context, id string, status TxStatus, errMsg string)
	GetByHash(ctx context.Context, hash string) (*TransactionRecord, bool)
	Stats(ctx context.Context) (LedgerStats, bool)
}
