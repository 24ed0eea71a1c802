// internal/balance/redis.go
package balance

import (
	"context"

	"github.com/go-redis/redis/v8"
)

const balanceKey = "comms:balance"

// debitScript decrements the balance only when it fully covers the amount.
var debitScript = redis.NewScript(`
local balance = redis.call('GET', KEYS[1])
if not balance then return 0 end
local bal = tonumber(balance)
local req = tonumber(ARGV[1])
if req > bal then return 0 end
redis.call('DECRBY', KEYS[1], req)
return 1
`)

// RedisLedger keeps the credit balance in Redis; the Lua check-and-decrement
// makes each debit atomic across processes.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) CurrentBalance(ctx context.Context) (int64, error) {
	bal, err := l.client.Get(ctx, balanceKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bal, nil
}

func (l *RedisLedger) Debit(ctx context.Context, amount int64) (bool, error) {
	ok, err := debitScript.Run(ctx, l.client, []string{balanceKey}, amount).Int()
	if err != nil {
		return false, err
	}
	return ok == 1, nil
}

// TopUp credits the balance; used by the balance top-up flow and the seeder.
func (l *RedisLedger) TopUp(ctx context.Context, amount int64) error {
	return l.client.IncrBy(ctx, balanceKey, amount).Err()
}

var _ Ledger = (*RedisLedger)(nil)
