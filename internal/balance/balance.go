// internal/balance/balance.go
package balance

import "context"

// Ledger is the church's prepaid messaging credit. Balances are integer
// credit units. Debit must be atomic per accepted send so concurrent passes
// cannot overspend.
type Ledger interface {
	CurrentBalance(ctx context.Context) (int64, error)
	Debit(ctx context.Context, amount int64) (bool, error)
}
