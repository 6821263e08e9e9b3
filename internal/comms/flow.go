package comms

import (
	"time"

	"github.com/stackvest/strategy-sagas/internal/pkg/fault"
)

// Step is one stage of the canonical execution pipeline.
type Step string

const (
	StepValidate        Step = "validate"
	StepCheckFunds      Step = "check_funds"
	StepConstructTx     Step = "construct_tx"
	StepSignTx          Step = "sign_tx"
	StepBroadcastTx     Step = "broadcast_tx"
	StepReconcileLedger Step = "reconcile_ledger"
	StepNotifyUser      Step = "notify_user"
)

// nextStep is the fixed total-order transition table. The terminal step
// maps to itself.
var nextStep = map[Step]Step{
	StepValidate:        StepCheckFunds,
	StepCheckFunds:      StepConstructTx,
	StepConstructTx:     StepSignTx,
	StepSignTx:          StepBroadcastTx,
	StepBroadcastTx:     StepReconcileLedger,
	StepReconcileLedger: StepNotifyUser,
	StepNotifyUser:      StepNotifyUser,
}

// CanonicalSteps is the full ordered pipeline, first to terminal.
var CanonicalSteps = []Step{
	StepValidate,
	StepCheckFunds,
	StepConstructTx,
	StepSignTx,
	StepBroadcastTx,
	StepReconcileLedger,
	StepNotifyUser,
}

// FlowStatus is the lifecycle state of one in-flight saga.
type FlowStatus string

const (
	FlowPending    FlowStatus = "pending"
	FlowInProgress FlowStatus = "in_progress"
	FlowCompleted  FlowStatus = "completed"
	FlowFailed     FlowStatus = "failed"
	FlowCancelled  FlowStatus = "cancelled"
)

// Flow tracks one saga execution. Invariant: CurrentStep is always the
// successor (per nextStep) of the last entry in StepsCompleted.
type Flow struct {
	PlanID         string     `json:"plan_id"`
	UserID         string     `json:"user_id"`
	CurrentStep    Step       `json:"current_step"`
	StepsCompleted []Step     `json:"steps_completed"`
	StartedAt      time.Time  `json:"started_at"`
	Status         FlowStatus `json:"status"`
}

func (f *Flow) snapshot() Flow {
	out := *f
	out.StepsCompleted = make([]Step, len(f.StepsCompleted))
	copy(out.StepsCompleted, f.StepsCompleted)
	return out
}

// StartExecutionFlow registers a new flow at the first canonical step.
// Restarting a plan's flow replaces the previous one.
func (c *Communicator) StartExecutionFlow(planID, userID string) Flow {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := &Flow{
		PlanID:      planID,
		UserID:      userID,
		CurrentStep: StepValidate,
		StartedAt:   c.now(),
		Status:      FlowInProgress,
	}
	c.flows[planID] = f
	return f.snapshot()
}

// AdvanceExecutionFlow records that completed finished and moves the
// flow to its successor step. The flow is looked up fresh on every call
// (not captured beforehand) so concurrent advances on the same plan id
// serialize on the current registry state rather than a stale copy.
func (c *Communicator) AdvanceExecutionFlow(planID string, completed Step) (Flow, error) {
	next, ok := nextStep[completed]
	if !ok {
		return Flow{}, fault.InvalidInput("unknown execution step %q", completed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flows[planID]
	if !ok {
		return Flow{}, fault.NotFound("no execution flow for plan %q", planID)
	}

	f.StepsCompleted = append(f.StepsCompleted, completed)
	f.CurrentStep = next
	if next == StepNotifyUser {
		f.Status = FlowCompleted
	}
	return f.snapshot(), nil
}

// FailExecutionFlow marks a flow failed. Unknown plans return not-found.
func (c *Communicator) FailExecutionFlow(planID string) (Flow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flows[planID]
	if !ok {
		return Flow{}, fault.NotFound("no execution flow for plan %q", planID)
	}
	f.Status = FlowFailed
	return f.snapshot(), nil
}

// Flow returns a snapshot of one plan's flow.
func (c *Communicator) Flow(planID string) (Flow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flows[planID]
	if !ok {
		return Flow{}, fault.NotFound("no execution flow for plan %q", planID)
	}
	return f.snapshot(), nil
}

// Flows returns a snapshot of every registered flow.
func (c *Communicator) Flows() []Flow {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Flow, 0, len(c.flows))
	for _, f := range c.flows {
		out = append(out, f.snapshot())
	}
	return out
}
