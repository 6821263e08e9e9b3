package comms

import (
	"context"
	"encoding/json"

	"github.com/stackvest/strategy-sagas/internal/clients"
	"github.com/stackvest/strategy-sagas/internal/pkg/fault"
)

// Method names accepted by the service invokers. Payloads are JSON
// documents; results are JSON or empty.
const (
	MethodValidatePlan      = "validate_plan"
	MethodCancelPlan        = "cancel_plan"
	MethodGetPortfolio      = "get_portfolio"
	MethodRecordTransaction = "record_transaction"
	MethodExecutePlan       = "execute_plan"
	MethodCancelExecution   = "cancel_execution"
	MethodGetTxStatus       = "get_tx_status"
	MethodEvaluatePortfolio = "evaluate_portfolio"
	MethodNotifyUser        = "notify_user"
)

// RegisterClients installs one invoker per collaborator service,
// dispatching envelope method names onto the typed client ports.
func (c *Communicator) RegisterClients(set clients.Set) {
	c.Register(clients.ServiceStrategy, strategyInvoker(set.Strategy))
	c.Register(clients.ServicePortfolio, portfolioInvoker(set.Portfolio))
	c.Register(clients.ServiceExecution, executionInvoker(set.Execution))
	c.Register(clients.ServiceRisk, riskInvoker(set.Risk))
	c.Register(clients.ServiceAccount, accountInvoker(set.Account))
}

// CallStrategy calls the strategy service through the envelope path.
func (c *Communicator) CallStrategy(ctx context.Context, method, payload string) CallResult {
	return c.Call(ctx, Envelope{Target: clients.ServiceStrategy, Method: method, Payload: payload})
}

// CallPortfolio calls the portfolio/ledger service.
func (c *Communicator) CallPortfolio(ctx context.Context, method, payload string) CallResult {
	return c.Call(ctx, Envelope{Target: clients.ServicePortfolio, Method: method, Payload: payload})
}

// CallExecution calls the transaction-execution service.
func (c *Communicator) CallExecution(ctx context.Context, method, payload string) CallResult {
	return c.Call(ctx, Envelope{Target: clients.ServiceExecution, Method: method, Payload: payload})
}

// CallRisk calls the risk service.
func (c *Communicator) CallRisk(ctx context.Context, method, payload string) CallResult {
	return c.Call(ctx, Envelope{Target: clients.ServiceRisk, Method: method, Payload: payload})
}

// CallAccount calls the user/account service. Notifications are
// fire-and-forget at the protocol level but still audited.
func (c *Communicator) CallAccount(ctx context.Context, method, payload string) CallResult {
	return c.Call(ctx, Envelope{
		Target:   clients.ServiceAccount,
		Method:   method,
		Payload:  payload,
		Protocol: ProtocolFireAndForget,
	})
}

func strategyInvoker(svc clients.Strategy) Invoker {
	return func(ctx context.Context, method, payload string) (string, error) {
		switch method {
		case MethodValidatePlan:
			var plan clients.Plan
			if err := decode(payload, &plan); err != nil {
				return "", err
			}
			return "", svc.ValidatePlan(ctx, plan)
		case MethodCancelPlan:
			var req struct {
				UserID string `json:"user_id"`
				PlanID string `json:"plan_id"`
			}
			if err := decode(payload, &req); err != nil {
				return "", err
			}
			return "", svc.CancelPlan(ctx, req.UserID, req.PlanID)
		default:
			return "", fault.InvalidInput("strategy service has no method %q", method)
		}
	}
}

func portfolioInvoker(svc clients.Portfolio) Invoker {
	return func(ctx context.Context, method, payload string) (string, error) {
		switch method {
		case MethodGetPortfolio:
			var req struct {
				UserID string `json:"user_id"`
			}
			if err := decode(payload, &req); err != nil {
				return "", err
			}
			view, err := svc.GetPortfolio(ctx, req.UserID)
			if err != nil {
				return "", err
			}
			return encode(view)
		case MethodRecordTransaction:
			var req struct {
				UserID string           `json:"user_id"`
				Record clients.TxRecord `json:"record"`
			}
			if err := decode(payload, &req); err != nil {
				return "", err
			}
			return "", svc.RecordTransaction(ctx, req.UserID, req.Record)
		default:
			return "", fault.InvalidInput("portfolio service has no method %q", method)
		}
	}
}

func executionInvoker(svc clients.Execution) Invoker {
	return func(ctx context.Context, method, payload string) (string, error) {
		switch method {
		case MethodExecutePlan:
			var plan clients.Plan
			if err := decode(payload, &plan); err != nil {
				return "", err
			}
			txIDs, err := svc.ExecutePlan(ctx, plan)
			if err != nil {
				return "", err
			}
			return encode(struct {
				TxIDs []string `json:"tx_ids"`
			}{TxIDs: txIDs})
		case MethodCancelExecution:
			var req struct {
				PlanID string `json:"plan_id"`
			}
			if err := decode(payload, &req); err != nil {
				return "", err
			}
			return "", svc.CancelExecution(ctx, req.PlanID)
		case MethodGetTxStatus:
			var req struct {
				TxID string `json:"tx_id"`
			}
			if err := decode(payload, &req); err != nil {
				return "", err
			}
			st, err := svc.TxStatus(ctx, req.TxID)
			if err != nil {
				return "", err
			}
			return encode(st)
		default:
			return "", fault.InvalidInput("execution service has no method %q", method)
		}
	}
}

func riskInvoker(svc clients.Risk) Invoker {
	return func(ctx context.Context, method, payload string) (string, error) {
		switch method {
		case MethodEvaluatePortfolio:
			var req struct {
				UserID string `json:"user_id"`
			}
			if err := decode(payload, &req); err != nil {
				return "", err
			}
			intents, err := svc.EvaluatePortfolio(ctx, req.UserID)
			if err != nil {
				return "", err
			}
			return encode(struct {
				Intents []clients.ProtectiveIntent `json:"intents"`
			}{Intents: intents})
		default:
			return "", fault.InvalidInput("risk service has no method %q", method)
		}
	}
}

func accountInvoker(svc clients.Account) Invoker {
	return func(ctx context.Context, method, payload string) (string, error) {
		switch method {
		case MethodNotifyUser:
			var req struct {
				UserID  string `json:"user_id"`
				Message string `json:"message"`
			}
			if err := decode(payload, &req); err != nil {
				return "", err
			}
			return "", svc.NotifyUser(ctx, req.UserID, req.Message)
		default:
			return "", fault.InvalidInput("account service has no method %q", method)
		}
	}
}

func decode(payload string, v any) error {
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fault.InvalidInput("malformed payload: %w", err)
	}
	return nil
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fault.Internal("encode result: %w", err)
	}
	return string(b), nil
}
