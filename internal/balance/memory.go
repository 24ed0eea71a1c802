// internal/balance/memory.go
package balance

import (
	"context"
	"sync"
)

// MemoryLedger is an in-process Ledger for tests and single-node dev runs.
type MemoryLedger struct {
	mu      sync.Mutex
	balance int64
}

func NewMemoryLedger(initial int64) *MemoryLedger {
	return &MemoryLedger{balance: initial}
}

func (l *MemoryLedger) CurrentBalance(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, nil
}

func (l *MemoryLedger) Debit(ctx context.Context, amount int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount > l.balance {
		return false, nil
	}
	l.balance -= amount
	return true, nil
}

var _ Ledger = (*MemoryLedger)(nil)
