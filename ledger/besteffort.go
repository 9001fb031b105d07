package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	relayer "github.com/x402-foundation/x402/relayer"
)

const defaultWriteTimeout = 5 * time.Second

// BestEffort wraps a ledger so that persistence failures are logged and never returned.
// A nil inner ledger disables persistence entirely.
type BestEffort struct {
	inner   relayer.Ledger
	timeout time.Duration
	logger  *zap.Logger
}

// NewBestEffort wraps inner. A nil logger disables logging.
func NewBestEffort(inner relayer.Ledger, logger *zap.Logger) *BestEffort {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BestEffort{inner: inner, timeout: defaultWriteTimeout, logger: logger}
}

// Enabled reports whether a ledger is configured
func (b *BestEffort) Enabled() bool {
	return b != nil && b.inner != nil
}

// CreatePending inserts rec and reports whether it is now tracked
func (b *BestEffort) CreatePending(ctx context.Context, rec *relayer.TransactionRecord) bool {
	if !b.Enabled() {
		return false
	}
	ctx, cancel := b.writeContext(ctx)
	defer cancel()
	if err := b.inner.CreatePending(ctx, rec); err != nil {
		b.fail("create pending record", rec.ID, err)
		return false
	}
	return true
}

// MarkSubmitted sets the chain hash of a tracked record
func (b *BestEffort) MarkSubmitted(ctx context.Context, id, hash string) {
	if !b.Enabled() {
		return
	}
	ctx, cancel := b.writeContext(ctx)
	defer cancel()
	if err := b.inner.MarkSubmitted(ctx, id, hash); err != nil {
		b.fail("mark record submitted", id, err, zap.String("hash", hash))
	}
}

// MarkTerminal moves a tracked record to success or failed
func (b *BestEffort) MarkTerminal(ctx context.Context, id string, status relayer.TxStatus, errMsg string) {
	if !b.Enabled() {
		return
	}
	ctx, cancel := b.writeContext(ctx)
	defer cancel()
	if err := b.inner.MarkTerminal(ctx, id, status, errMsg); err != nil {
		b.fail("mark record terminal", id, err, zap.String("status", string(status)))
	}
}

// GetByHash returns the record with the given hash, if any
func (b *BestEffort) GetByHash(ctx context.Context, hash string) (*relayer.TransactionRecord, bool) {
	if !b.Enabled() {
		return nil, false
	}
	rec, err := b.inner.GetByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			b.fail("read record", "", err, zap.String("hash", hash))
		}
		return nil, false
	}
	return rec, true
}

// Stats returns ledger aggregates, or zeroes when unavailable
func (b *BestEffort) Stats(ctx context.Context) (relayer.LedgerStats, bool) {
	if !b.Enabled() {
		return relayer.LedgerStats{}, false
	}
	stats, err := b.inner.Stats(ctx)
	if err != nil {
		b.fail("read stats", "", err)
		return relayer.LedgerStats{}, false
	}
	return stats, true
}

// writes outlive the request so a cancelled client cannot leave a record pending
func (b *BestEffort) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
}

func (b *BestEffort) fail(op, id string, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("code", relayer.ErrCodePersistence),
		zap.String("id", id),
		zap.Error(err),
	)
	b.logger.Warn("ledger "+op+" failed", fields...)
}
