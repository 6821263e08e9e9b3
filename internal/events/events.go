// Package events implements the publish/subscribe backbone for typed
// domain events. Delivery is synchronous to every current subscriber;
// one failing subscriber never breaks delivery to the rest.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the closed set of domain events.
type Type string

const (
	TypeAccountRegistered     Type = "account_registered"
	TypeWalletLinked          Type = "wallet_linked"
	TypeDepositDetected       Type = "deposit_detected"
	TypePlanRecommended       Type = "plan_recommended"
	TypePlanApproved          Type = "plan_approved"
	TypeExecutionStarted      Type = "execution_started"
	TypeExecutionCompleted    Type = "execution_completed"
	TypeRiskThresholdBreached Type = "risk_threshold_breached"
)

// Event is one typed domain fact.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Source     string    `json:"source"`
	UserID     string    `json:"user_id,omitempty"`
	PlanID     string    `json:"plan_id,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Handler reacts to one delivered event. A returned error is logged,
// not propagated.
type Handler func(ctx context.Context, e Event) error

// Bus is an in-memory publish/subscribe bus with bounded history.
// Safe for concurrent use.
type Bus struct {
	mu          sync.Mutex
	subscribers map[Type][]Handler
	history     []Event
	capacity    int
}

const defaultHistory = 500

// NewBus allocates a bus retaining at most capacity events of history.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultHistory
	}
	return &Bus{
		subscribers: make(map[Type][]Handler),
		capacity:    capacity,
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], h)
}

// Publish appends the event to history and delivers it to every current
// subscriber of its type. Each handler runs isolated: a panic or error
// is logged and the remaining handlers still receive the event.
func (b *Bus) Publish(ctx context.Context, e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	b.mu.Lock()
	if len(b.history) >= b.capacity {
		b.history = b.history[1:]
	}
	b.history = append(b.history, e)
	// Copy the handler slice so delivery runs without the bus lock:
	// handlers may publish follow-up events or subscribe.
	handlers := make([]Handler, len(b.subscribers[e.Type]))
	copy(handlers, b.subscribers[e.Type])
	b.mu.Unlock()

	for _, h := range handlers {
		b.deliver(ctx, h, e)
	}
	return e
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event handler panicked",
				"event_type", e.Type, "event_id", e.ID, "panic", r)
		}
	}()
	if err := h(ctx, e); err != nil {
		slog.ErrorContext(ctx, "event handler failed",
			"event_type", e.Type, "event_id", e.ID, "error", err)
	}
}

// History returns at most limit of the most recent events of the given
// type, oldest first. An empty type matches every event.
func (b *Bus) History(t Type, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	matched := make([]Event, 0)
	for _, e := range b.history {
		if t == "" || e.Type == t {
			matched = append(matched, e)
		}
	}
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	out := make([]Event, limit)
	copy(out, matched[len(matched)-limit:])
	return out
}
