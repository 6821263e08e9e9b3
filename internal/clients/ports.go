// Package clients defines the narrow contracts this orchestration core
// consumes from its five collaborator services, plus the domain types
// crossing those boundaries. Implementations are injected: httpc holds
// the network adapters, fake the in-memory ones.
package clients

import "context"

// Strategy is the strategy service boundary.
type Strategy interface {
	ValidatePlan(ctx context.Context, plan Plan) error
	CancelPlan(ctx context.Context, userID, planID string) error
}

// Portfolio is the portfolio/ledger service boundary.
type Portfolio interface {
	GetPortfolio(ctx context.Context, userID string) (PortfolioView, error)
	RecordTransaction(ctx context.Context, userID string, rec TxRecord) error
}

// Execution is the transaction-execution service boundary. ExecutePlan
// runs the whole construct/sign/broadcast pipeline and returns the
// resulting transaction ids.
type Execution interface {
	ExecutePlan(ctx context.Context, plan Plan) ([]string, error)
	CancelExecution(ctx context.Context, planID string) error
	TxStatus(ctx context.Context, txID string) (TxStatus, error)
}

// Risk is the risk service boundary.
type Risk interface {
	EvaluatePortfolio(ctx context.Context, userID string) ([]ProtectiveIntent, error)
}

// Account is the user/account service boundary.
type Account interface {
	NotifyUser(ctx context.Context, userID, message string) error
}

// Set bundles one client per collaborator for injection.
type Set struct {
	Strategy  Strategy
	Portfolio Portfolio
	Execution Execution
	Risk      Risk
	Account   Account
}

// Canonical service names used in envelopes, audit entries and
// participant registries.
const (
	ServiceStrategy  = "strategy"
	ServicePortfolio = "portfolio"
	ServiceExecution = "execution"
	ServiceRisk      = "risk"
	ServiceAccount   = "account"
)
