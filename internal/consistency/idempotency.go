package consistency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stackvest/strategy-sagas/internal/audit"
	"github.com/stackvest/strategy-sagas/internal/pkg/cache"
	"github.com/stackvest/strategy-sagas/internal/pkg/fault"
)

// OpStore mirrors idempotent-operation records into shared storage so
// retries landing on another instance still see the cached outcome.
// Mirror failures are logged, never surfaced: the in-memory map is the
// source of truth for this instance.
type OpStore interface {
	Put(ctx context.Context, op Operation, ttl time.Duration) error
}

// RedisOpStore mirrors operations into redis through the shared cache.
type RedisOpStore struct {
	cache cache.Cache
}

// NewRedisOpStore wraps a cache as an operation mirror.
func NewRedisOpStore(c cache.Cache) *RedisOpStore {
	return &RedisOpStore{cache: c}
}

func (s *RedisOpStore) Put(ctx context.Context, op Operation, ttl time.Duration) error {
	b, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation %q: %w", op.Key, err)
	}
	key := s.cache.GenerateKey("idempotent-op", op.Key)
	return s.cache.Set(ctx, key, string(b), ttl)
}

// ExecuteIdempotent collapses retried calls under one idempotency key
// into at most one effect.
//
// Outcomes for an existing record under the same key:
//   - same payload hash, completed and unexpired: the cached result.
//   - same payload hash, still pending: an in-flight internal error.
//   - same payload hash, failed or expired: a fresh attempt.
//   - different payload hash (or target/method): invalid-input, since
//     that is a key collision, never a retry.
func (c *Coordinator) ExecuteIdempotent(ctx context.Context, key, target, method, payload string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", fault.InvalidInput("idempotency key is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	hash := hashPayload(payload)

	c.mu.Lock()
	now := c.now()
	if op, ok := c.ops[key]; ok {
		if op.Status != OpExpired && now.After(op.ExpiresAt) {
			op.Status = OpExpired
		}

		if op.Target != target || op.Method != method || op.PayloadHash != hash {
			c.mu.Unlock()
			c.auditLog.Record(ctx, audit.Entry{
				Source:  source,
				Action:  audit.ActionIdempotentConflict,
				Details: fmt.Sprintf("key=%s existing=%s.%s attempted=%s.%s", key, op.Target, op.Method, target, method),
			})
			return "", fault.InvalidInput("idempotency key %q reused with a different payload", key)
		}

		switch op.Status {
		case OpCompleted:
			result := op.Result
			c.mu.Unlock()
			c.auditLog.Record(ctx, audit.Entry{
				Source:  source,
				Action:  audit.ActionIdempotentHit,
				Details: fmt.Sprintf("key=%s %s.%s", key, target, method),
			})
			return result, nil
		case OpPending:
			c.mu.Unlock()
			return "", fault.Internal("operation %q is still in flight", key)
		}
		// Failed or expired: fall through to a fresh attempt.
	}

	c.ops[key] = &Operation{
		Key:         key,
		Target:      target,
		Method:      method,
		PayloadHash: hash,
		Status:      OpPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	c.mu.Unlock()

	result, err := c.caller.Invoke(ctx, target, method, payload)

	// Re-validate on resume: cleanup may have evicted the record while
	// the call was in flight. Only our own pending record is updated.
	c.mu.Lock()
	op, ok := c.ops[key]
	if ok && op.Status == OpPending && op.PayloadHash == hash {
		if err != nil {
			op.Status = OpFailed
		} else {
			op.Status = OpCompleted
			op.Result = result
		}
	}
	var mirrored *Operation
	if ok {
		copied := *op
		mirrored = &copied
	}
	c.mu.Unlock()

	if err != nil {
		return "", fault.Internal("idempotent %s.%s under key %q: %w", target, method, key, err)
	}

	c.auditLog.Record(ctx, audit.Entry{
		Source:  source,
		Action:  audit.ActionIdempotentExecuted,
		Details: fmt.Sprintf("key=%s %s.%s", key, target, method),
	})

	if c.opStore != nil && mirrored != nil {
		if storeErr := c.opStore.Put(ctx, *mirrored, ttl); storeErr != nil {
			c.auditLog.Record(ctx, audit.Entry{
				Source:  source,
				Action:  audit.ActionIdempotentExecuted,
				Details: fmt.Sprintf("key=%s mirror failed: %v", key, storeErr),
			})
		}
	}

	return result, nil
}

// Operation returns a snapshot of one cached operation.
func (c *Coordinator) Operation(key string) (Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.ops[key]
	if !ok {
		return Operation{}, fault.NotFound("no idempotent operation under key %q", key)
	}
	return *op, nil
}

func hashPayload(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
