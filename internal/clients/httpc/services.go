package httpc

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/stackvest/strategy-sagas/internal/clients"
)

// Compile-time port assertions.
var (
	_ clients.Strategy  = (*StrategyClient)(nil)
	_ clients.Portfolio = (*PortfolioClient)(nil)
	_ clients.Execution = (*ExecutionClient)(nil)
	_ clients.Risk      = (*RiskClient)(nil)
	_ clients.Account   = (*AccountClient)(nil)
)

// StrategyClient talks to the strategy service.
type StrategyClient struct{ c *Client }

func NewStrategy(base string, timeout time.Duration) *StrategyClient {
	return &StrategyClient{c: New(base, timeout)}
}

func (s *StrategyClient) ValidatePlan(ctx context.Context, plan clients.Plan) error {
	return s.c.post(ctx, "/v1/plans/validate", plan, nil)
}

func (s *StrategyClient) CancelPlan(ctx context.Context, userID, planID string) error {
	body := map[string]string{"user_id": userID, "plan_id": planID}
	return s.c.post(ctx, "/v1/plans/cancel", body, nil)
}

// PortfolioClient talks to the portfolio/ledger service.
type PortfolioClient struct{ c *Client }

func NewPortfolio(base string, timeout time.Duration) *PortfolioClient {
	return &PortfolioClient{c: New(base, timeout)}
}

func (p *PortfolioClient) GetPortfolio(ctx context.Context, userID string) (clients.PortfolioView, error) {
	var view clients.PortfolioView
	err := p.c.get(ctx, "/v1/portfolios/"+url.PathEscape(userID), &view)
	return view, err
}

func (p *PortfolioClient) RecordTransaction(ctx context.Context, userID string, rec clients.TxRecord) error {
	return p.c.post(ctx, fmt.Sprintf("/v1/portfolios/%s/transactions", url.PathEscape(userID)), rec, nil)
}

// ExecutionClient talks to the transaction-execution service.
type ExecutionClient struct{ c *Client }

func NewExecution(base string, timeout time.Duration) *ExecutionClient {
	return &ExecutionClient{c: New(base, timeout)}
}

func (e *ExecutionClient) ExecutePlan(ctx context.Context, plan clients.Plan) ([]string, error) {
	var res struct {
		TxIDs []string `json:"tx_ids"`
	}
	if err := e.c.post(ctx, "/v1/executions", plan, &res); err != nil {
		return nil, err
	}
	return res.TxIDs, nil
}

func (e *ExecutionClient) CancelExecution(ctx context.Context, planID string) error {
	return e.c.post(ctx, fmt.Sprintf("/v1/executions/%s/cancel", url.PathEscape(planID)), nil, nil)
}

func (e *ExecutionClient) TxStatus(ctx context.Context, txID string) (clients.TxStatus, error) {
	var st clients.TxStatus
	err := e.c.get(ctx, "/v1/transactions/"+url.PathEscape(txID), &st)
	return st, err
}

// RiskClient talks to the risk service.
type RiskClient struct{ c *Client }

func NewRisk(base string, timeout time.Duration) *RiskClient {
	return &RiskClient{c: New(base, timeout)}
}

func (r *RiskClient) EvaluatePortfolio(ctx context.Context, userID string) ([]clients.ProtectiveIntent, error) {
	var res struct {
		Intents []clients.ProtectiveIntent `json:"intents"`
	}
	if err := r.c.post(ctx, fmt.Sprintf("/v1/risk/%s/evaluate", url.PathEscape(userID)), nil, &res); err != nil {
		return nil, err
	}
	return res.Intents, nil
}

// AccountClient talks to the user/account service.
type AccountClient struct{ c *Client }

func NewAccount(base string, timeout time.Duration) *AccountClient {
	return &AccountClient{c: New(base, timeout)}
}

func (a *AccountClient) NotifyUser(ctx context.Context, userID, message string) error {
	body := map[string]string{"user_id": userID, "message": message}
	return a.c.post(ctx, "/v1/notifications", body, nil)
}
