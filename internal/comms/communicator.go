// Package comms wraps every remote call to a collaborator service
// behind a uniform envelope: target, method, payload, protocol class,
// correlation id, timeout and retry budget. Every attempt and outcome
// lands in the audit log, and failures come back as typed CallResults
// rather than propagated errors.
//
// The package also owns the execution-flow registry (flow.go): the
// per-plan saga step tracker the coordinator advances as phases finish.
package comms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackvest/strategy-sagas/internal/audit"
	"github.com/stackvest/strategy-sagas/internal/events"
	"github.com/stackvest/strategy-sagas/internal/pkg/fault"
)

// Protocol classifies how a call is carried.
type Protocol string

const (
	ProtocolRequestResponse Protocol = "request_response"
	ProtocolFireAndForget   Protocol = "fire_and_forget"
	ProtocolEventRouted     Protocol = "event_routed"
)

// CallStatus is the typed outcome of one call.
type CallStatus string

const (
	CallSuccess        CallStatus = "success"
	CallError          CallStatus = "error"
	CallTimeout        CallStatus = "timeout"
	CallRetryExhausted CallStatus = "retry_exhausted"
)

// Envelope describes one outgoing call. Zero Timeout and MaxRetries
// fall back to the communicator defaults.
type Envelope struct {
	Target        string
	Method        string
	Payload       string
	Protocol      Protocol
	CorrelationID string
	Timeout       time.Duration
	MaxRetries    int
}

// CallResult is the uniform result of a call. Callers must treat
// timeout and retry_exhausted as definite failures, never as pending.
type CallResult struct {
	Status        CallStatus
	CorrelationID string
	Payload       string
	Err           error
}

// OK reports whether the call succeeded.
func (r CallResult) OK() bool { return r.Status == CallSuccess }

// Invoker dispatches one named method on a collaborator service.
type Invoker func(ctx context.Context, method, payload string) (string, error)

// Communicator is the agent-side boundary to all collaborator services.
// Safe for concurrent use; the single mutex reproduces the one-writer
// discipline the orchestration state relies on.
type Communicator struct {
	mu       sync.Mutex
	invokers map[string]Invoker
	flows    map[string]*Flow

	auditLog *audit.Log
	bus      *events.Bus
	now      func() time.Time

	defaultTimeout time.Duration
	defaultRetries int
}

// Config tunes communicator defaults.
type Config struct {
	// DefaultTimeout bounds each call attempt. Zero means 5s.
	DefaultTimeout time.Duration
	// DefaultRetries is the number of attempts after the first failure.
	// Zero means 2.
	DefaultRetries int
}

// New builds a communicator over the given audit log and event bus.
func New(auditLog *audit.Log, bus *events.Bus, cfg Config) *Communicator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Second
	}
	if cfg.DefaultRetries <= 0 {
		cfg.DefaultRetries = 2
	}
	return &Communicator{
		invokers:       make(map[string]Invoker),
		flows:          make(map[string]*Flow),
		auditLog:       auditLog,
		bus:            bus,
		now:            func() time.Time { return time.Now().UTC() },
		defaultTimeout: cfg.DefaultTimeout,
		defaultRetries: cfg.DefaultRetries,
	}
}

// WithClock overrides the timestamp source. Tests only.
func (c *Communicator) WithClock(now func() time.Time) *Communicator {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Register installs the invoker for one target service name.
func (c *Communicator) Register(target string, inv Invoker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invokers[target] = inv
}

// Call performs one enveloped call: correlation id, audit of the
// attempt, per-attempt timeout, retry budget, audit of the outcome.
// It never propagates an error; the CallResult carries the status.
func (c *Communicator) Call(ctx context.Context, env Envelope) CallResult {
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.NewString()
	}
	if env.Timeout <= 0 {
		env.Timeout = c.defaultTimeout
	}
	if env.MaxRetries <= 0 {
		env.MaxRetries = c.defaultRetries
	}
	if env.Protocol == "" {
		env.Protocol = ProtocolRequestResponse
	}

	c.mu.Lock()
	inv := c.invokers[env.Target]
	c.mu.Unlock()

	c.auditLog.Record(ctx, audit.Entry{
		Source:        "agent-communicator",
		Action:        audit.ActionCallStarted,
		TransactionID: env.CorrelationID,
		Details:       fmt.Sprintf("%s.%s protocol=%s", env.Target, env.Method, env.Protocol),
	})

	if inv == nil {
		err := fmt.Errorf("no invoker registered for service %q", env.Target)
		c.auditFailure(ctx, env, err)
		return CallResult{Status: CallError, CorrelationID: env.CorrelationID, Err: err}
	}

	var lastErr error
	timedOut := false
	permanent := false
	attempts := 0
	for attempt := 0; attempt <= env.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, env.Timeout)
		payload, err := c.invoke(attemptCtx, inv, env.Method, env.Payload)
		cancel()
		attempts++

		if err == nil {
			c.auditLog.Record(ctx, audit.Entry{
				Source:        "agent-communicator",
				Action:        audit.ActionCallSucceeded,
				TransactionID: env.CorrelationID,
				Details:       fmt.Sprintf("%s.%s attempt=%d", env.Target, env.Method, attempts),
			})
			return CallResult{Status: CallSuccess, CorrelationID: env.CorrelationID, Payload: payload}
		}

		lastErr = err
		timedOut = errors.Is(err, context.DeadlineExceeded)
		// Invalid input, not-found and unauthorized are permanent:
		// repeating the identical call cannot change the answer.
		if fault.KindOf(err) != fault.KindInternal {
			permanent = true
			break
		}
		if ctx.Err() != nil {
			// The caller's context is gone; retrying cannot help.
			break
		}
	}

	c.auditFailure(ctx, env, lastErr)

	switch {
	case timedOut:
		return CallResult{Status: CallTimeout, CorrelationID: env.CorrelationID, Err: lastErr}
	case !permanent && attempts > env.MaxRetries:
		return CallResult{Status: CallRetryExhausted, CorrelationID: env.CorrelationID, Err: lastErr}
	default:
		return CallResult{Status: CallError, CorrelationID: env.CorrelationID, Err: lastErr}
	}
}

// invoke shields the communicator from a panicking invoker.
func (c *Communicator) invoke(ctx context.Context, inv Invoker, method, payload string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invoker panicked: %v", r)
		}
	}()
	return inv(ctx, method, payload)
}

func (c *Communicator) auditFailure(ctx context.Context, env Envelope, err error) {
	c.auditLog.Record(ctx, audit.Entry{
		Source:        "agent-communicator",
		Action:        audit.ActionCallFailed,
		TransactionID: env.CorrelationID,
		Details:       fmt.Sprintf("%s.%s: %v", env.Target, env.Method, err),
	})
	slog.ErrorContext(ctx, "service call failed",
		"target", env.Target, "method", env.Method,
		"correlation_id", env.CorrelationID, "error", err)
}

// Invoke adapts Call for consumers that want a plain (payload, error)
// pair, e.g. the consistency coordinator's compensation sweep.
func (c *Communicator) Invoke(ctx context.Context, target, method, payload string) (string, error) {
	res := c.Call(ctx, Envelope{Target: target, Method: method, Payload: payload})
	if !res.OK() {
		return "", res.Err
	}
	return res.Payload, nil
}

// SubscribeToEvents registers a handler on the shared bus.
func (c *Communicator) SubscribeToEvents(t events.Type, h events.Handler) {
	c.bus.Subscribe(t, h)
}

// PublishEvent stamps the source, publishes, and audits the emission.
func (c *Communicator) PublishEvent(ctx context.Context, e events.Event, source string) events.Event {
	e.Source = source
	published := c.bus.Publish(ctx, e)
	c.auditLog.Record(ctx, audit.Entry{
		Source:  source,
		Action:  audit.ActionEventPublished,
		UserID:  e.UserID,
		Details: string(e.Type),
	})
	return published
}

// AuditTrail returns the most recent n audit entries, oldest first.
func (c *Communicator) AuditTrail(n int) []audit.Entry {
	return c.auditLog.Trail(n)
}

// UserAuditTrail returns the most recent n entries for one user.
func (c *Communicator) UserAuditTrail(userID string, n int) []audit.Entry {
	return c.auditLog.UserTrail(userID, n)
}

// Audit exposes the underlying log for components that record their own
// entries (coordinator phases, consistency transitions).
func (c *Communicator) Audit() *audit.Log { return c.auditLog }

// Bus exposes the underlying event bus.
func (c *Communicator) Bus() *events.Bus { return c.bus }
