package safety

import (
	"context"
	"fmt"
	"sync"

	relayer "github.com/x402-foundation/x402/relayer"
)

// Limit names reported on denial
const (
	LimitMaxTransaction = "max_transaction_amount"
	LimitGlobalDaily    = "global_daily_limit"
	LimitUserDaily      = "user_daily_limit"
)

// LimitExceededError is returned by CounterStore.Reserve when a cap would be crossed
type LimitExceededError struct {
	Limit        string
	LimitValue   uint64
	CurrentUsage uint64
	Amount       uint64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s exceeded: usage %d + amount %d > limit %d", e.Limit, e.CurrentUsage, e.Amount, e.LimitValue)
}

// CounterStore holds per-day usage counters for each address and for the whole relayer.
// Implementations must be safe for concurrent use.
type CounterStore interface {
	// Reserve atomically checks committed+reserved+amount against both caps for day and, if both
	// pass, adds amount to the reserved usage of the address and the global counter.
	Reserve(ctx context.Context, day, address string, amount, userLimit, globalLimit uint64) error

	// Commit moves amount from reserved to committed
	Commit(ctx context.Context, day, address string, amount uint64) error

	// Release drops a reservation
	Release(ctx context.Context, day, address string, amount uint64) error

	// Usage returns the global counter and the address counter for day
	Usage(ctx context.Context, day, address string) (global, user relayer.SafetyUsage, err error)
}

type dayCounters struct {
	global relayer.SafetyUsage
	users  map[string]*relayer.SafetyUsage
}

// MemoryStore is an in-process CounterStore. Days older than the latest written day are pruned
// on each write.
type MemoryStore struct {
	mu   sync.Mutex
	days map[string]*dayCounters
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{days: make(map[string]*dayCounters)}
}

func (s *MemoryStore) Reserve(_ context.Context, day, address string, amount, userLimit, globalLimit uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	counters := s.dayLocked(day)
	user := counters.user(address)

	if total := counters.global.Total(); total+amount > globalLimit || total+amount < total {
		return &LimitExceededError{Limit: LimitGlobalDaily, LimitValue: globalLimit, CurrentUsage: total, Amount: amount}
	}
	if total := user.Total(); total+amount > userLimit || total+amount < total {
		return &LimitExceededError{Limit: LimitUserDaily, LimitValue: userLimit, CurrentUsage: total, Amount: amount}
	}

	counters.global.Reserved += amount
	user.Reserved += amount
	return nil
}

func (s *MemoryStore) Commit(_ context.Context, day, address string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	counters, ok := s.days[day]
	if !ok {
		// the day rolled over and was pruned
		return nil
	}
	user := counters.user(address)
	take(&counters.global, amount)
	take(user, amount)
	counters.global.Committed += amount
	user.Committed += amount
	return nil
}

func (s *MemoryStore) Release(_ context.Context, day, address string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	counters, ok := s.days[day]
	if !ok {
		return nil
	}
	take(&counters.global, amount)
	take(counters.user(address), amount)
	return nil
}

func (s *MemoryStore) Usage(_ context.Context, day, address string) (relayer.SafetyUsage, relayer.SafetyUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counters, ok := s.days[day]
	if !ok {
		return relayer.SafetyUsage{}, relayer.SafetyUsage{}, nil
	}
	var user relayer.SafetyUsage
	if u, ok := counters.users[address]; ok {
		user = *u
	}
	return counters.global, user, nil
}

// Days returns the number of days currently held
func (s *MemoryStore) Days() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.days)
}

func (s *MemoryStore) dayLocked(day string) *dayCounters {
	counters, ok := s.days[day]
	if ok {
		return counters
	}
	// ISO dates order lexically
	for d := range s.days {
		if d < day {
			delete(s.days, d)
		}
	}
	counters = &dayCounters{users: make(map[string]*relayer.SafetyUsage)}
	s.days[day] = counters
	return counters
}

func (c *dayCounters) user(address string) *relayer.SafetyUsage {
	u, ok := c.users[address]
	if !ok {
		u = &relayer.SafetyUsage{}
		c.users[address] = u
	}
	return u
}

func take(u *relayer.SafetyUsage, amount uint64) {
	if u.Reserved < amount {
		u.Reserved = 0
		return
	}
	u.Reserved -= amount
}
