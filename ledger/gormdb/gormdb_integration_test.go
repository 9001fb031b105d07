//go:build integration

package gormdb_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	relayer "github.com/x402-foundation/x402/relayer"
	"github.com/x402-foundation/x402/relayer/ledger"
	"github.com/x402-foundation/x402/relayer/ledger/gormdb"
)

func TestLedger_Lifecycle(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN is not set")
	}

	ctx := context.Background()
	repo, err := gormdb.Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	id := uuid.NewString()
	hash := "5" + uuid.NewString()
	rec := &relayer.TransactionRecord{
		ID:          id,
		FromAddress: "alice",
		ToAddress:   "bob",
		Amount:      5_000_000,
		Coin:        "USDC",
		Price:       decimal.NewFromInt(250),
		StableFee:   5000,
	}

	if err := repo.CreatePending(ctx, rec); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	if err := repo.MarkSubmitted(ctx, id, hash); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}
	if err := repo.MarkSubmitted(ctx, id, hash); err != nil {
		t.Fatalf("repeated MarkSubmitted: %v", err)
	}
	if err := repo.MarkSubmitted(ctx, id, "other"); !errors.Is(err, ledger.ErrHashAlreadySet) {
		t.Fatalf("expected ErrHashAlreadySet, got %v", err)
	}
	if err := repo.MarkTerminal(ctx, id, relayer.StatusFailed, "rejected"); err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}
	if err := repo.MarkTerminal(ctx, id, relayer.StatusSuccess, ""); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	got, err := repo.GetByHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if got.Status != relayer.StatusFailed || got.ErrorMessage == nil || *got.ErrorMessage != "rejected" {
		t.Fatalf("unexpected record: %+v", got)
	}
}
