// Package consistency implements the distributed-transaction engine:
// two-phase commit with compensating actions, an idempotent-operation
// cache, and cross-service state checkpoints with conflict resolution.
// Any component needing stronger atomicity than the saga alone provides
// wraps its calls in a transaction here.
package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackvest/strategy-sagas/internal/audit"
	"github.com/stackvest/strategy-sagas/internal/pkg/fault"
)

const source = "consistency-coordinator"

// Caller dispatches one enveloped remote call. *comms.Communicator
// satisfies it; tests inject recorders.
type Caller interface {
	Invoke(ctx context.Context, target, method, payload string) (string, error)
}

// Participant is one cooperating service in a two-phase commit. The
// transaction snapshot carries the forward actions the participant is
// expected to apply on Commit.
type Participant interface {
	Prepare(ctx context.Context, tx Transaction) error
	Commit(ctx context.Context, tx Transaction) error
}

// StubParticipant always succeeds. It stands in for collaborators that
// have no real prepare/commit endpoint yet; production wiring replaces
// it with genuine service clients.
type StubParticipant struct{}

func (StubParticipant) Prepare(context.Context, Transaction) error { return nil }
func (StubParticipant) Commit(context.Context, Transaction) error  { return nil }

// Coordinator owns the transaction, operation and checkpoint stores.
// A single mutex serializes state mutation; remote rounds run outside
// the lock and every resume re-validates its preconditions.
type Coordinator struct {
	mu           sync.Mutex
	txs          map[string]*Transaction
	ops          map[string]*Operation
	checkpoints  map[string]Checkpoint
	participants map[string]Participant

	caller   Caller
	auditLog *audit.Log
	opStore  OpStore
	now      func() time.Time

	defaultTxTTL time.Duration
}

// Config tunes coordinator defaults.
type Config struct {
	// DefaultTxTTL is the deadline applied to transactions begun
	// without an explicit TTL. Zero means 5 minutes.
	DefaultTxTTL time.Duration
}

// New builds a coordinator over the given caller and audit log.
func New(caller Caller, auditLog *audit.Log, cfg Config) *Coordinator {
	if cfg.DefaultTxTTL <= 0 {
		cfg.DefaultTxTTL = 5 * time.Minute
	}
	return &Coordinator{
		txs:          make(map[string]*Transaction),
		ops:          make(map[string]*Operation),
		checkpoints:  make(map[string]Checkpoint),
		participants: make(map[string]Participant),
		caller:       caller,
		auditLog:     auditLog,
		now:          func() time.Time { return time.Now().UTC() },
		defaultTxTTL: cfg.DefaultTxTTL,
	}
}

// WithClock overrides the timestamp source. Tests only.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// WithOpStore attaches a write-through mirror for idempotent
// operations (e.g. redis), giving retries cross-instance visibility.
func (c *Coordinator) WithOpStore(store OpStore) *Coordinator {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opStore = store
	return c
}

// RegisterParticipant installs the participant client for one service
// name. Transactions naming an unregistered participant fail prepare.
func (c *Coordinator) RegisterParticipant(name string, p Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participants[name] = p
}

// Begin allocates a new pending transaction with an absolute deadline.
func (c *Coordinator) Begin(ctx context.Context, userID, planID string, participants []string, ttl time.Duration) Transaction {
	if ttl <= 0 {
		ttl = c.defaultTxTTL
	}

	c.mu.Lock()
	now := c.now()
	tx := &Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		PlanID:       planID,
		State:        TxPending,
		Participants: append([]string(nil), participants...),
		StartedAt:    now,
		Deadline:     now.Add(ttl),
	}
	c.txs[tx.ID] = tx
	snap := tx.snapshot()
	c.mu.Unlock()

	c.auditLog.Record(ctx, audit.Entry{
		Source:        source,
		Action:        audit.ActionTxBegun,
		UserID:        userID,
		TransactionID: tx.ID,
		Details:       fmt.Sprintf("participants=%v deadline=%s", participants, tx.Deadline.Format(time.RFC3339)),
	})
	return snap
}

// AddAction appends a forward action and its paired compensation.
// Rejected unless the transaction is still pending.
func (c *Coordinator) AddAction(txID string, forward, compensating Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, ok := c.txs[txID]
	if !ok {
		return fault.NotFound("transaction %q not found", txID)
	}
	if tx.State != TxPending {
		return fault.InvalidInput("transaction %q is %s, actions can only be added while pending", txID, tx.State)
	}

	tx.Actions = append(tx.Actions, forward)
	tx.Compensations = append(tx.Compensations, compensating)
	return nil
}

// Transaction returns a snapshot of one transaction.
func (c *Coordinator) Transaction(txID string) (Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, ok := c.txs[txID]
	if !ok {
		return Transaction{}, fault.NotFound("transaction %q not found", txID)
	}
	return tx.snapshot(), nil
}

// Commit drives the two-phase protocol: a prepare round against every
// participant, then, only if all prepared, a commit round. Any
// failure in either round triggers a full rollback before the error is
// surfaced. A transaction past its deadline is rolled back
// unconditionally.
func (c *Coordinator) Commit(ctx context.Context, txID string) (Transaction, error) {
	c.mu.Lock()
	tx, ok := c.txs[txID]
	if !ok {
		c.mu.Unlock()
		return Transaction{}, fault.NotFound("transaction %q not found", txID)
	}
	if tx.State != TxPending {
		snap := tx.snapshot()
		c.mu.Unlock()
		return snap, fault.InvalidInput("transaction %q already %s", txID, tx.State)
	}
	expired := c.now().After(tx.Deadline)
	snap := tx.snapshot()
	c.mu.Unlock()

	if expired {
		rolled, _ := c.Rollback(ctx, txID)
		return rolled, fault.Internal("transaction %q deadline expired before commit", txID)
	}

	// Prepare round. Runs without the lock; participants are remote.
	for _, name := range snap.Participants {
		p := c.participant(name)
		if p == nil {
			return c.failCommit(ctx, txID,
				fault.Internal("participant %q not registered", name))
		}
		if err := p.Prepare(ctx, snap); err != nil {
			c.auditLog.Record(ctx, audit.Entry{
				Source:        source,
				Action:        audit.ActionPrepareFailed,
				UserID:        snap.UserID,
				TransactionID: txID,
				Details:       fmt.Sprintf("%s: %v", name, err),
			})
			return c.failCommit(ctx, txID,
				fault.Internal("prepare failed on %q: %w", name, err))
		}
	}

	// Re-validate: the transaction may have been rolled back (or its
	// deadline enforced) while the prepare round was in flight.
	c.mu.Lock()
	tx, ok = c.txs[txID]
	if !ok || tx.State != TxPending {
		state := TxState("gone")
		if ok {
			state = tx.State
		}
		c.mu.Unlock()
		return Transaction{}, fault.InvalidInput("transaction %q became %s during prepare", txID, state)
	}
	snap = tx.snapshot()
	c.mu.Unlock()

	// Commit round.
	for _, name := range snap.Participants {
		p := c.participant(name)
		if err := p.Commit(ctx, snap); err != nil {
			c.auditLog.Record(ctx, audit.Entry{
				Source:        source,
				Action:        audit.ActionCommitFailed,
				UserID:        snap.UserID,
				TransactionID: txID,
				Details:       fmt.Sprintf("%s: %v", name, err),
			})
			return c.failCommit(ctx, txID,
				fault.Internal("commit failed on %q: %w", name, err))
		}
	}

	c.mu.Lock()
	tx, ok = c.txs[txID]
	if !ok || tx.State != TxPending {
		c.mu.Unlock()
		return Transaction{}, fault.InvalidInput("transaction %q changed state during commit round", txID)
	}
	completed := c.now()
	tx.State = TxCommitted
	tx.CompletedAt = &completed
	snap = tx.snapshot()
	c.mu.Unlock()

	c.auditLog.Record(ctx, audit.Entry{
		Source:        source,
		Action:        audit.ActionTxCommitted,
		UserID:        snap.UserID,
		TransactionID: txID,
		Details:       fmt.Sprintf("%d action(s) across %d participant(s)", len(snap.Actions), len(snap.Participants)),
	})
	return snap, nil
}

// failCommit rolls the transaction back and returns err to the caller.
func (c *Coordinator) failCommit(ctx context.Context, txID string, err error) (Transaction, error) {
	rolled, rbErr := c.Rollback(ctx, txID)
	if rbErr != nil {
		slog.ErrorContext(ctx, "rollback after failed commit also failed",
			"transaction_id", txID, "commit_error", err, "rollback_error", rbErr)
	}
	return rolled, err
}

// Rollback executes every compensating action in the reverse order the
// forward actions were added. One compensation's failure is audited and
// the sweep continues: partial rollback is an explicit limitation, and
// the audit trail is the only record of which compensations failed.
func (c *Coordinator) Rollback(ctx context.Context, txID string) (Transaction, error) {
	c.mu.Lock()
	tx, ok := c.txs[txID]
	if !ok {
		c.mu.Unlock()
		return Transaction{}, fault.NotFound("transaction %q not found", txID)
	}
	if tx.State != TxPending {
		snap := tx.snapshot()
		c.mu.Unlock()
		return snap, fault.InvalidInput("transaction %q already %s", txID, tx.State)
	}
	snap := tx.snapshot()
	c.mu.Unlock()

	for i := len(snap.Compensations) - 1; i >= 0; i-- {
		comp := snap.Compensations[i]
		_, err := c.caller.Invoke(ctx, comp.Target, comp.Method, comp.Payload)
		entry := audit.Entry{
			Source:        source,
			UserID:        snap.UserID,
			TransactionID: txID,
		}
		if err != nil {
			entry.Action = audit.ActionCompensationError
			entry.Details = fmt.Sprintf("%s.%s (%s): %v", comp.Target, comp.Method, comp.Description, err)
			slog.ErrorContext(ctx, "compensating action failed, continuing sweep",
				"transaction_id", txID, "target", comp.Target, "method", comp.Method, "error", err)
		} else {
			entry.Action = audit.ActionCompensationRun
			entry.Details = fmt.Sprintf("%s.%s (%s)", comp.Target, comp.Method, comp.Description)
		}
		c.auditLog.Record(ctx, entry)
	}

	c.mu.Lock()
	tx, ok = c.txs[txID]
	if !ok {
		c.mu.Unlock()
		return Transaction{}, fault.NotFound("transaction %q vanished during rollback", txID)
	}
	if tx.State == TxPending {
		completed := c.now()
		tx.State = TxRolledBack
		tx.CompletedAt = &completed
	}
	snap = tx.snapshot()
	c.mu.Unlock()

	c.auditLog.Record(ctx, audit.Entry{
		Source:        source,
		Action:        audit.ActionTxRolledBack,
		UserID:        snap.UserID,
		TransactionID: txID,
		Details:       fmt.Sprintf("%d compensation(s) swept", len(snap.Compensations)),
	})
	return snap, nil
}

func (c *Coordinator) participant(name string) Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participants[name]
}
