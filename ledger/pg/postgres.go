// Package pg is the PostgreSQL transaction ledger.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	relayer "github.com/x402-foundation/x402/relayer"
	"github.com/x402-foundation/x402/relayer/ledger"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

// Connect opens a pool for dsn and verifies connectivity
func Connect(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return New(pool), nil
}

// Close releases the pool
func (r *Postgres) Close() { r.pool.Close() }

func (r *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := `
DO $$ BEGIN
  CREATE TYPE tx_status AS ENUM ('pending', 'success', 'failed');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$;

CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  hash TEXT NULL UNIQUE,

  from_address TEXT NOT NULL,
  to_address   TEXT NOT NULL,
  amount NUMERIC(20,0) NOT NULL,
  coin   TEXT NOT NULL,

  gas_units     BIGINT NOT NULL,
  gas_price     BIGINT NOT NULL,
  total_gas_fee NUMERIC(20,0) NOT NULL,
  price         NUMERIC(30,12) NOT NULL,
  stable_fee    NUMERIC(20,0) NOT NULL,
  treasury_fee  NUMERIC(20,0) NOT NULL DEFAULT 0,

  status tx_status NOT NULL DEFAULT 'pending',
  error_message TEXT NULL,

  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS transactions_from_created_idx ON transactions(from_address, created_at DESC);
CREATE INDEX IF NOT EXISTS transactions_status_idx ON transactions(status);
`
	_, err := r.pool.Exec(ctx, ddl)
	return err
}

func (r *Postgres) CreatePending(ctx context.Context, rec *relayer.TransactionRecord) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	q := `
INSERT INTO transactions(
  id, from_address, to_address, amount, coin,
  gas_units, gas_price, total_gas_fee, price, stable_fee, treasury_fee,
  status
) VALUES (
  $1, $2, $3, $4::numeric, $5,
  $6, $7, $8::numeric, $9::numeric, $10::numeric, $11::numeric,
  'pending'
)`
	_, err := r.pool.Exec(cctx, q,
		rec.ID, rec.FromAddress, rec.ToAddress, numeric(rec.Amount), rec.Coin,
		int64(rec.GasUnits), int64(rec.GasPrice), numeric(rec.TotalGasFee), rec.Price.String(),
		numeric(rec.StableFee), numeric(rec.TreasuryFee),
	)
	return err
}

func (r *Postgres) MarkSubmitted(ctx context.Context, id, hash string) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(cctx, `
UPDATE transactions SET hash = $2, updated_at = now()
WHERE id = $1 AND status = 'pending' AND (hash IS NULL OR hash = $2)`,
		id, hash,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.explain(cctx, id, func(status relayer.TxStatus, current *string) error {
		if current != nil && *current != hash {
			return ledger.ErrHashAlreadySet
		}
		return ledger.ErrInvalidTransition
	})
}

func (r *Postgres) MarkTerminal(ctx context.Context, id string, status relayer.TxStatus, errMsg string) error {
	if !status.IsTerminal() {
		return ledger.ErrInvalidTransition
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var msg any
	if errMsg != "" {
		msg = errMsg
	}
	tag, err := r.pool.Exec(cctx, `
UPDATE transactions SET status = $2::tx_status, error_message = COALESCE($3::text, error_message), updated_at = now()
WHERE id = $1 AND status = 'pending'`,
		id, string(status), msg,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.explain(cctx, id, func(relayer.TxStatus, *string) error {
		return ledger.ErrInvalidTransition
	})
}

func (r *Postgres) GetByHash(ctx context.Context, hash string) (*relayer.TransactionRecord, error) {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	q := `
SELECT
  id, hash, from_address, to_address, amount::text, coin,
  gas_units, gas_price, total_gas_fee::text, price::text, stable_fee::text, treasury_fee::text,
  status::text, error_message, created_at, updated_at
FROM transactions
WHERE hash = $1`

	var (
		rec                                         relayer.TransactionRecord
		amount, totalGas, price, stableFee, treasury string
		gasUnits, gasPrice                           int64
		status                                       string
	)
	err := r.pool.QueryRow(cctx, q, hash).Scan(
		&rec.ID, &rec.Hash, &rec.FromAddress, &rec.ToAddress, &amount, &rec.Coin,
		&gasUnits, &gasPrice, &totalGas, &price, &stableFee, &treasury,
		&status, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.GasUnits = uint64(gasUnits)
	rec.GasPrice = uint64(gasPrice)
	rec.Status = relayer.TxStatus(status)
	if rec.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	for _, f := range []struct {
		dst *uint64
		src string
	}{
		{&rec.Amount, amount},
		{&rec.TotalGasFee, totalGas},
		{&rec.StableFee, stableFee},
		{&rec.TreasuryFee, treasury},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("invalid numeric %q: %w", f.src, err)
		}
		*f.dst = v.BigInt().Uint64()
	}
	return &rec, nil
}

func (r *Postgres) Stats(ctx context.Context) (relayer.LedgerStats, error) {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	q := `
SELECT
  COUNT(*),
  COUNT(*) FILTER (WHERE status = 'success'),
  COUNT(*) FILTER (WHERE status = 'failed'),
  COUNT(*) FILTER (WHERE status = 'pending'),
  COALESCE(SUM(amount) FILTER (WHERE status = 'success'), 0)::text,
  COALESCE(SUM(stable_fee) FILTER (WHERE status = 'success'), 0)::text,
  COALESCE(SUM(treasury_fee) FILTER (WHERE status = 'success'), 0)::text
FROM transactions`

	var (
		stats                  relayer.LedgerStats
		volume, fees, treasury string
	)
	err := r.pool.QueryRow(cctx, q).Scan(
		&stats.Total, &stats.Success, &stats.Failed, &stats.Pending,
		&volume, &fees, &treasury,
	)
	if err != nil {
		return relayer.LedgerStats{}, err
	}
	stats.Volume = parseNumeric(volume)
	stats.FeesCollected = parseNumeric(fees)
	stats.TreasuryFees = parseNumeric(treasury)
	return stats, nil
}

// explain reports why a guarded update matched no row
func (r *Postgres) explain(ctx context.Context, id string, onConflict func(relayer.TxStatus, *string) error) error {
	var (
		status string
		hash   *string
	)
	err := r.pool.QueryRow(ctx, `SELECT status::text, hash FROM transactions WHERE id = $1`, id).Scan(&status, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}
	if err != nil {
		return err
	}
	return onConflict(relayer.TxStatus(status), hash)
}

func numeric(v uint64) string {
	return fmt.Sprintf("%d", v)
}

func parseNumeric(s string) uint64 {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return v.BigInt().Uint64()
}
