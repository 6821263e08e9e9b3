// Package coordinator drives the "execute an investment strategy plan"
// saga through its fixed sequence of remote phases. A phase failure
// aborts the saga immediately with no automatic compensation; cleanup is
// an explicit, supervisor-triggered path (HandleExecutionFailure).
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/stackvest/strategy-sagas/internal/audit"
	"github.com/stackvest/strategy-sagas/internal/clients"
	"github.com/stackvest/strategy-sagas/internal/comms"
	"github.com/stackvest/strategy-sagas/internal/events"
	"github.com/stackvest/strategy-sagas/internal/pkg/fault"
)

const source = "execution-coordinator"

// Coordinator orchestrates strategy-plan execution over the
// agent communicator.
type Coordinator struct {
	comm           *comms.Communicator
	now            func() time.Time
	stallThreshold time.Duration
}

// New builds a coordinator. stallThreshold bounds how long an
// in-progress flow may run before the health monitor reports it as
// stalled; zero means 10 minutes.
func New(comm *comms.Communicator, stallThreshold time.Duration) *Coordinator {
	if stallThreshold <= 0 {
		stallThreshold = 10 * time.Minute
	}
	return &Coordinator{
		comm:           comm,
		now:            func() time.Time { return time.Now().UTC() },
		stallThreshold: stallThreshold,
	}
}

// WithClock overrides the timestamp source. Tests only.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// phase is one remote call plus the flow steps it completes.
type phase struct {
	name  string
	steps []comms.Step
	call  func(ctx context.Context) comms.CallResult
}

// ExecuteStrategyPlan runs the five phases in strict order: validate
// plan, check portfolio, execute transaction, update portfolio, notify
// completion. On the first failing phase it marks the flow failed and
// returns; compensation never runs automatically. After a fully
// successful run it evaluates risk once and publishes one
// risk_threshold_breached event per returned protective intent.
func (c *Coordinator) ExecuteStrategyPlan(ctx context.Context, plan clients.Plan) (comms.Flow, error) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return comms.Flow{}, fault.InvalidInput("encode plan %q: %w", plan.ID, err)
	}

	flow := c.comm.StartExecutionFlow(plan.ID, plan.UserID)
	c.comm.PublishEvent(ctx, events.Event{
		Type:   events.TypeExecutionStarted,
		UserID: plan.UserID,
		PlanID: plan.ID,
	}, source)

	var txIDs []string

	phases := []phase{
		{
			name:  "validate_plan",
			steps: []comms.Step{comms.StepValidate},
			call: func(ctx context.Context) comms.CallResult {
				return c.comm.CallStrategy(ctx, comms.MethodValidatePlan, string(planJSON))
			},
		},
		{
			name:  "check_portfolio",
			steps: []comms.Step{comms.StepCheckFunds},
			call: func(ctx context.Context) comms.CallResult {
				payload := fmt.Sprintf(`{"user_id":%q}`, plan.UserID)
				return c.comm.CallPortfolio(ctx, comms.MethodGetPortfolio, payload)
			},
		},
		{
			// The execution service runs the whole construct/sign/
			// broadcast pipeline in one call; the flow records each
			// pipeline stage as completed.
			name:  "execute_transaction",
			steps: []comms.Step{comms.StepConstructTx, comms.StepSignTx, comms.StepBroadcastTx},
			call: func(ctx context.Context) comms.CallResult {
				res := c.comm.CallExecution(ctx, comms.MethodExecutePlan, string(planJSON))
				if res.OK() {
					var out struct {
						TxIDs []string `json:"tx_ids"`
					}
					if err := json.Unmarshal([]byte(res.Payload), &out); err == nil {
						txIDs = out.TxIDs
					}
				}
				return res
			},
		},
		{
			name:  "update_portfolio",
			steps: []comms.Step{comms.StepReconcileLedger},
			call: func(ctx context.Context) comms.CallResult {
				rec := clients.TxRecord{
					PlanID:     plan.ID,
					AmountSats: plan.AmountSats,
					ExecutedAt: c.now(),
				}
				if len(txIDs) > 0 {
					rec.TxID = txIDs[0]
				}
				payload, _ := json.Marshal(struct {
					UserID string           `json:"user_id"`
					Record clients.TxRecord `json:"record"`
				}{UserID: plan.UserID, Record: rec})
				return c.comm.CallPortfolio(ctx, comms.MethodRecordTransaction, string(payload))
			},
		},
		{
			name:  "notify_completion",
			steps: []comms.Step{comms.StepNotifyUser},
			call: func(ctx context.Context) comms.CallResult {
				payload := fmt.Sprintf(`{"user_id":%q,"message":"strategy plan %s executed"}`, plan.UserID, plan.ID)
				return c.comm.CallAccount(ctx, comms.MethodNotifyUser, payload)
			},
		},
	}

	for _, p := range phases {
		c.audit(ctx, audit.ActionPhaseStarted, plan, p.name)

		res := p.call(ctx)
		if !res.OK() {
			c.audit(ctx, audit.ActionPhaseFailed, plan,
				fmt.Sprintf("%s: status=%s err=%v", p.name, res.Status, res.Err))
			if failed, ferr := c.comm.FailExecutionFlow(plan.ID); ferr == nil {
				flow = failed
			}
			return flow, fault.Internal("phase %s failed (%s): %w", p.name, res.Status, res.Err)
		}

		for _, step := range p.steps {
			advanced, err := c.comm.AdvanceExecutionFlow(plan.ID, step)
			if err != nil {
				// The flow vanished mid-saga (e.g. restarted under the
				// same plan id). Treat as a phase failure.
				c.audit(ctx, audit.ActionPhaseFailed, plan,
					fmt.Sprintf("%s: advance %s: %v", p.name, step, err))
				return flow, fault.Internal("phase %s: advance flow: %w", p.name, err)
			}
			flow = advanced
		}

		c.audit(ctx, audit.ActionPhaseSucceeded, plan, p.name)
	}

	c.audit(ctx, audit.ActionFlowCompleted, plan,
		fmt.Sprintf("plan %s executed, %d transaction(s)", plan.ID, len(txIDs)))

	c.evaluateRisk(ctx, plan)

	c.comm.PublishEvent(ctx, events.Event{
		Type:    events.TypeExecutionCompleted,
		UserID:  plan.UserID,
		PlanID:  plan.ID,
		Payload: fmt.Sprintf(`{"tx_count":%d}`, len(txIDs)),
	}, source)

	return flow, nil
}

// evaluateRisk runs the post-completion risk check. Its failure never
// fails the saga: the execution already happened.
func (c *Coordinator) evaluateRisk(ctx context.Context, plan clients.Plan) {
	payload := fmt.Sprintf(`{"user_id":%q}`, plan.UserID)
	res := c.comm.CallRisk(ctx, comms.MethodEvaluatePortfolio, payload)
	if !res.OK() {
		slog.ErrorContext(ctx, "post-execution risk evaluation failed",
			"plan_id", plan.ID, "user_id", plan.UserID, "error", res.Err)
		return
	}

	var out struct {
		Intents []clients.ProtectiveIntent `json:"intents"`
	}
	if err := json.Unmarshal([]byte(res.Payload), &out); err != nil {
		slog.ErrorContext(ctx, "malformed risk evaluation result",
			"plan_id", plan.ID, "error", err)
		return
	}

	for _, intent := range out.Intents {
		detail, _ := json.Marshal(intent)
		c.comm.PublishEvent(ctx, events.Event{
			Type:    events.TypeRiskThresholdBreached,
			UserID:  plan.UserID,
			PlanID:  plan.ID,
			Payload: string(detail),
		}, source)
	}
}

// HandleExecutionFailure is the explicit best-effort cleanup path:
// cancel the in-flight execution, then reset the plan on the strategy
// service. Every attempt is audited; failures are logged, not
// escalated, so this method never returns an error.
func (c *Coordinator) HandleExecutionFailure(ctx context.Context, planID, userID string, cause error) {
	plan := clients.Plan{ID: planID, UserID: userID}
	c.audit(ctx, audit.ActionFailureHandled, plan, fmt.Sprintf("failure handler invoked: %v", cause))

	cancelPayload := fmt.Sprintf(`{"plan_id":%q}`, planID)
	res := c.comm.CallExecution(ctx, comms.MethodCancelExecution, cancelPayload)
	c.audit(ctx, audit.ActionExecutionCancelled, plan,
		fmt.Sprintf("cancel execution: status=%s", res.Status))
	if !res.OK() {
		slog.ErrorContext(ctx, "failed to cancel execution after saga failure",
			"plan_id", planID, "cause", cause, "cancel_error", res.Err)
	}

	resetPayload := fmt.Sprintf(`{"user_id":%q,"plan_id":%q}`, userID, planID)
	res = c.comm.CallStrategy(ctx, comms.MethodCancelPlan, resetPayload)
	c.audit(ctx, audit.ActionPlanReset, plan,
		fmt.Sprintf("reset plan status: status=%s", res.Status))
	if !res.OK() {
		slog.ErrorContext(ctx, "failed to reset plan status after saga failure",
			"plan_id", planID, "cause", cause, "reset_error", res.Err)
	}
}

func (c *Coordinator) audit(ctx context.Context, action audit.Action, plan clients.Plan, details string) {
	c.comm.Audit().Record(ctx, audit.Entry{
		Source:        source,
		Action:        action,
		UserID:        plan.UserID,
		TransactionID: plan.ID,
		Details:       details,
	})
}
