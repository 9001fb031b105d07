// Package gormdb is the MySQL transaction ledger, built on gorm.
package gormdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	relayer "github.com/x402-foundation/x402/relayer"
	"github.com/x402-foundation/x402/relayer/ledger"
)

// Transaction is the persisted row
type Transaction struct {
	ID           string  `gorm:"primaryKey;size:36"`
	Hash         *string `gorm:"uniqueIndex;size:88"` // base58 signature
	FromAddress  string  `gorm:"index;size:44"`
	ToAddress    string  `gorm:"size:44"`
	Amount       uint64
	Coin         string `gorm:"size:16"`
	GasUnits     uint64
	GasPrice     uint64
	TotalGasFee  uint64
	Price        string `gorm:"size:40"`
	StableFee    uint64
	TreasuryFee  uint64
	Status       string  `gorm:"index;size:10;default:'pending'"` // "pending", "success", "failed"
	ErrorMessage *string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Ledger stores records through gorm
type Ledger struct {
	db *gorm.DB
}

// New wraps an open gorm handle
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Open connects to MySQL with dsn and migrates the schema
func Open(dsn string) (*Ledger, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	l := New(db)
	if err := l.Migrate(); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// Close releases the underlying connection pool
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates or updates the transactions table
func (l *Ledger) Migrate() error {
	if err := l.db.AutoMigrate(&Transaction{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

func (l *Ledger) CreatePending(ctx context.Context, rec *relayer.TransactionRecord) error {
	row := fromRecord(rec)
	row.Status = string(relayer.StatusPending)
	row.Hash = nil
	row.ErrorMessage = nil
	return l.db.WithContext(ctx).Create(&row).Error
}

func (l *Ledger) MarkSubmitted(ctx context.Context, id, hash string) error {
	result := l.db.WithContext(ctx).Model(&Transaction{}).
		Where("id = ? AND status = ? AND (hash IS NULL OR hash = ?)", id, string(relayer.StatusPending), hash).
		Update("hash", hash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	row, err := l.find(ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if row.Hash != nil && *row.Hash == hash {
		// MySQL reports zero affected rows when nothing changed
		return nil
	}
	if row.Hash != nil {
		return ledger.ErrHashAlreadySet
	}
	return ledger.ErrInvalidTransition
}

func (l *Ledger) MarkTerminal(ctx context.Context, id string, status relayer.TxStatus, errMsg string) error {
	if !status.IsTerminal() {
		return ledger.ErrInvalidTransition
	}
	updates := map[string]interface{}{"status": string(status)}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	result := l.db.WithContext(ctx).Model(&Transaction{}).
		Where("id = ? AND status = ?", id, string(relayer.StatusPending)).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}
	if _, err := l.find(ctx, "id = ?", id); err != nil {
		return err
	}
	return ledger.ErrInvalidTransition
}

func (l *Ledger) GetByHash(ctx context.Context, hash string) (*relayer.TransactionRecord, error) {
	row, err := l.find(ctx, "hash = ?", hash)
	if err != nil {
		return nil, err
	}
	return row.toRecord()
}

func (l *Ledger) Stats(ctx context.Context) (relayer.LedgerStats, error) {
	var rows []struct {
		Status      string
		Count       int64
		Volume      uint64
		Fees        uint64
		TreasuryFee uint64
	}
	err := l.db.WithContext(ctx).Model(&Transaction{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS volume, COALESCE(SUM(stable_fee), 0) AS fees, COALESCE(SUM(treasury_fee), 0) AS treasury_fee").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return relayer.LedgerStats{}, err
	}

	var stats relayer.LedgerStats
	for _, r := range rows {
		stats.Total += r.Count
		switch relayer.TxStatus(r.Status) {
		case relayer.StatusSuccess:
			stats.Success = r.Count
			stats.Volume = r.Volume
			stats.FeesCollected = r.Fees
			stats.TreasuryFees = r.TreasuryFee
		case relayer.StatusFailed:
			stats.Failed = r.Count
		case relayer.StatusPending:
			stats.Pending = r.Count
		}
	}
	return stats, nil
}

func (l *Ledger) find(ctx context.Context, query string, args ...interface{}) (*Transaction, error) {
	var row Transaction
	err := l.db.WithContext(ctx).Where(query, args...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func fromRecord(rec *relayer.TransactionRecord) Transaction {
	return Transaction{
		ID:           rec.ID,
		Hash:         rec.Hash,
		FromAddress:  rec.FromAddress,
		ToAddress:    rec.ToAddress,
		Amount:       rec.Amount,
		Coin:         rec.Coin,
		GasUnits:     rec.GasUnits,
		GasPrice:     rec.GasPrice,
		TotalGasFee:  rec.TotalGasFee,
		Price:        rec.Price.String(),
		StableFee:    rec.StableFee,
		TreasuryFee:  rec.TreasuryFee,
		Status:       string(rec.Status),
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func (t *Transaction) toRecord() (*relayer.TransactionRecord, error) {
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid stored price %q: %w", t.Price, err)
	}
	return &relayer.TransactionRecord{
		ID:           t.ID,
		Hash:         t.Hash,
		FromAddress:  t.FromAddress,
		ToAddress:    t.ToAddress,
		Amount:       t.Amount,
		Coin:         t.Coin,
		GasUnits:     t.GasUnits,
		GasPrice:     t.GasPrice,
		TotalGasFee:  t.TotalGasFee,
		Price:        price,
		StableFee:    t.StableFee,
		TreasuryFee:  t.TreasuryFee,
		Status:       relayer.TxStatus(t.Status),
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}, nil
}
