package consistency

import (
	"context"
	"fmt"
	"time"

	"github.com/stackvest/strategy-sagas/internal/audit"
)

// completedRetention is how long committed or rolled-back transactions
// are kept before cleanup evicts them.
const completedRetention = 24 * time.Hour

// CleanupExpired evicts idempotent operations past their TTL and
// transactions that reached a terminal state more than 24 hours ago.
// Returns the number of operations and transactions removed.
func (c *Coordinator) CleanupExpired(ctx context.Context) (ops, txs int) {
	c.mu.Lock()
	now := c.now()

	for key, op := range c.ops {
		if now.After(op.ExpiresAt) {
			delete(c.ops, key)
			ops++
		}
	}

	for id, tx := range c.txs {
		if tx.CompletedAt != nil && now.Sub(*tx.CompletedAt) > completedRetention {
			delete(c.txs, id)
			txs++
		}
	}
	c.mu.Unlock()

	c.auditLog.Record(ctx, audit.Entry{
		Source:  source,
		Action:  audit.ActionCleanupRun,
		Details: fmt.Sprintf("evicted %d operation(s), %d transaction(s)", ops, txs),
	})
	return ops, txs
}
