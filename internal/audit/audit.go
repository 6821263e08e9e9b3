// Package audit defines the append-only audit trail every orchestration
// component writes to.
//
// The trail serves two purposes:
//
//  1. Observability: the gateway and the health monitor read recent
//     entries to answer "what did the orchestrator just do, and for
//     whom".
//
//  2. Forensics: rollback sweeps and failure handlers record every
//     attempt, including the ones that failed, so a partial rollback
//     is visible after the fact even though the caller only sees a
//     single error value.
package audit

import (
	"context"
	"sync"
	"time"
)

// Action tags every recorded entry. The set is closed: monitoring code
// matches on these constants, so new tags must be added here.
type Action string

const (
	ActionCallStarted   Action = "CALL_STARTED"
	ActionCallSucceeded Action = "CALL_SUCCEEDED"
	ActionCallFailed    Action = "CALL_FAILED"

	ActionFlowStarted   Action = "FLOW_STARTED"
	ActionFlowAdvanced  Action = "FLOW_ADVANCED"
	ActionFlowCompleted Action = "FLOW_COMPLETED"

	ActionPhaseStarted   Action = "PHASE_STARTED"
	ActionPhaseSucceeded Action = "PHASE_SUCCEEDED"
	ActionPhaseFailed    Action = "PHASE_FAILED"

	ActionFailureHandled     Action = "FAILURE_HANDLED"
	ActionExecutionCancelled Action = "EXECUTION_CANCELLED"
	ActionPlanReset          Action = "PLAN_RESET"

	ActionTxBegun           Action = "TX_BEGUN"
	ActionTxCommitted       Action = "TX_COMMITTED"
	ActionTxRolledBack      Action = "TX_ROLLED_BACK"
	ActionPrepareFailed     Action = "PREPARE_FAILED"
	ActionCommitFailed      Action = "COMMIT_FAILED"
	ActionCompensationRun   Action = "COMPENSATION_EXECUTED"
	ActionCompensationError Action = "COMPENSATION_FAILED"

	ActionIdempotentHit      Action = "IDEMPOTENT_HIT"
	ActionIdempotentExecuted Action = "IDEMPOTENT_EXECUTED"
	ActionIdempotentConflict Action = "IDEMPOTENT_CONFLICT"

	ActionCheckpointCreated Action = "CHECKPOINT_CREATED"
	ActionStateSynchronized Action = "STATE_SYNCHRONIZED"
	ActionCleanupRun        Action = "CLEANUP_RUN"

	ActionEventPublished Action = "EVENT_PUBLISHED"
)

// Entry is one immutable row in the audit trail.
type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	Action        Action    `json:"action"`
	UserID        string    `json:"user_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Details       string    `json:"details"`
}

// Repository is the port for durable audit storage. The in-memory Log
// tees entries into it when one is attached; nil means memory only.
type Repository interface {
	// Save appends one entry. The table is append-only, never an upsert.
	Save(ctx context.Context, e Entry) error
}

// Log is a capacity-bounded FIFO buffer of audit entries. Once the cap
// is exceeded the oldest entry is evicted. Safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	repo     Repository
	now      func() time.Time
}

const defaultCapacity = 1000

// NewLog allocates a log holding at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Log{
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithRepository attaches a durable repository; every subsequent Record
// is also persisted. A persistence failure never fails the Record.
func (l *Log) WithRepository(repo Repository) *Log {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.repo = repo
	return l
}

// WithClock overrides the timestamp source. Tests only.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// Record appends an entry, evicting the oldest one if the log is full.
func (l *Log) Record(ctx context.Context, e Entry) {
	l.mu.Lock()
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if len(l.entries) >= l.capacity {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, e)
	repo := l.repo
	l.mu.Unlock()

	if repo != nil {
		// Best effort: the in-memory trail is the source of truth for
		// monitoring; durable storage failures must not fail the caller.
		_ = repo.Save(ctx, e)
	}
}

// Trail returns at most limit of the most recent entries, oldest first.
func (l *Log) Trail(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return tail(l.entries, limit)
}

// UserTrail returns at most limit of the most recent entries recorded
// for the given user, oldest first.
func (l *Log) UserTrail(userID string, limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	matched := make([]Entry, 0, limit)
	for _, e := range l.entries {
		if e.UserID == userID {
			matched = append(matched, e)
		}
	}
	return tail(matched, limit)
}

// Since returns every entry recorded at or after the cutoff, oldest
// first. The health monitor uses it to count trailing-hour outcomes.
func (l *Log) Since(cutoff time.Time) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0)
	for _, e := range l.entries {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the current number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func tail(entries []Entry, limit int) []Entry {
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]Entry, limit)
	copy(out, entries[len(entries)-limit:])
	return out
}
