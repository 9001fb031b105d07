package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	relayer "github.com/x402-foundation/x402/relayer"
)

// Memory is a map-backed ledger
type Memory struct {
	mu      sync.RWMutex
	records map[string]*relayer.TransactionRecord
	byHash  map[string]string
	now     func() time.Time
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*relayer.TransactionRecord),
		byHash:  make(map[string]string),
		now:     time.Now,
	}
}

func (m *Memory) CreatePending(_ context.Context, rec *relayer.TransactionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.ID]; exists {
		return fmt.Errorf("record %s already exists", rec.ID)
	}

	now := m.now().UTC()
	stored := *rec
	stored.Status = relayer.StatusPending
	stored.Hash = nil
	stored.ErrorMessage = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.records[rec.ID] = &stored
	return nil
}

func (m *Memory) MarkSubmitted(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Hash != nil {
		if *rec.Hash == hash {
			return nil
		}
		return ErrHashAlreadySet
	}
	if rec.Status != relayer.StatusPending {
		return ErrInvalidTransition
	}

	rec.Hash = &hash
	rec.UpdatedAt = m.now().UTC()
	m.byHash[hash] = id
	return nil
}

func (m *Memory) MarkTerminal(_ context.Context, id string, status relayer.TxStatus, errMsg string) error {
	if !status.IsTerminal() {
		return ErrInvalidTransition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != relayer.StatusPending {
		return ErrInvalidTransition
	}

	rec.Status = status
	if errMsg != "" {
		rec.ErrorMessage = &errMsg
	}
	rec.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) GetByHash(_ context.Context, hash string) (*relayer.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	rec := *m.records[id]
	return &rec, nil
}

// Get returns the record with the given id
func (m *Memory) Get(_ context.Context, id string) (*relayer.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (m *Memory) Stats(context.Context) (relayer.LedgerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats relayer.LedgerStats
	for _, rec := range m.records {
		stats.Total++
		switch rec.Status {
		case relayer.StatusSuccess:
			stats.Success++
			stats.Volume += rec.Amount
			stats.FeesCollected += rec.StableFee
			stats.TreasuryFees += rec.TreasuryFee
		case relayer.StatusFailed:
			stats.Failed++
		case relayer.StatusPending:
			stats.Pending++
		}
	}
	return stats, nil
}
