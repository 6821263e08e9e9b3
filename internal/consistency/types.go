package consistency

import "time"

// TxState is the lifecycle state of a distributed transaction.
// Transitions: pending → committed or pending → rolled_back, exactly
// once; the record is immutable afterward.
type TxState string

const (
	TxPending    TxState = "pending"
	TxCommitted  TxState = "committed"
	TxRolledBack TxState = "rolled_back"
	TxFailed     TxState = "failed"
)

// Action is one forward effect inside a transaction, or the
// compensating inverse of one. Payloads are free-text blobs keyed by a
// method name; the clients layer owns the typed view.
type Action struct {
	Target      string `json:"target"`
	Method      string `json:"method"`
	Payload     string `json:"payload"`
	Description string `json:"description,omitempty"`
}

// Transaction is one all-or-nothing unit of work. Actions and
// Compensations are always the same length and index-aligned: the
// compensation at index i undoes the action at index i.
type Transaction struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	PlanID        string     `json:"plan_id,omitempty"`
	State         TxState    `json:"state"`
	Participants  []string   `json:"participants"`
	Actions       []Action   `json:"actions"`
	Compensations []Action   `json:"compensations"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Deadline      time.Time  `json:"deadline"`
}

func (t *Transaction) snapshot() Transaction {
	out := *t
	out.Participants = append([]string(nil), t.Participants...)
	out.Actions = append([]Action(nil), t.Actions...)
	out.Compensations = append([]Action(nil), t.Compensations...)
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

// OpStatus is the lifecycle state of one idempotent operation.
type OpStatus string

const (
	OpPending   OpStatus = "pending"
	OpCompleted OpStatus = "completed"
	OpFailed    OpStatus = "failed"
	OpExpired   OpStatus = "expired"
)

// Operation is the cached record of one logical effect, uniquely
// identified by its idempotency key.
type Operation struct {
	Key         string    `json:"key"`
	Target      string    `json:"target"`
	Method      string    `json:"method"`
	PayloadHash string    `json:"payload_hash"`
	Result      string    `json:"result,omitempty"`
	Status      OpStatus  `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Checkpoint is a versioned fingerprint of one service's state.
// Versions increase strictly per service.
type Checkpoint struct {
	Service   string    `json:"service"`
	StateHash string    `json:"state_hash"`
	Timestamp time.Time `json:"timestamp"`
	Version   uint64    `json:"version"`
}

// SyncStatus is the outcome of a state synchronization pass.
type SyncStatus string

const (
	// SyncSynchronized means no conflicts remained after the pass.
	SyncSynchronized SyncStatus = "synchronized"
	// SyncResolved means conflicts were found and resolved automatically.
	SyncResolved SyncStatus = "resolved"
	// SyncConflict means the conflict set was too large for the
	// automatic tiers and manual resolution is required.
	SyncConflict SyncStatus = "conflict"
)

// SyncResult reports one synchronization pass across services.
type SyncResult struct {
	Status      SyncStatus            `json:"status"`
	Winner      string                `json:"winner,omitempty"`
	Conflicting []string              `json:"conflicting,omitempty"`
	Checkpoints map[string]Checkpoint `json:"checkpoints"`
}
