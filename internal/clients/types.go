package clients

import "time"

// Plan is the investment strategy plan the saga executes.
type Plan struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Strategy    string  `json:"strategy"`
	AmountSats  int64   `json:"amount_sats"`
	RiskProfile string  `json:"risk_profile"`
	Status      string  `json:"status"`
	Score       float64 `json:"score,omitempty"`
}

// PortfolioView is the ledger service's snapshot of one user's holdings.
type PortfolioView struct {
	UserID          string `json:"user_id"`
	BalanceSats     int64  `json:"balance_sats"`
	AvailableSats   int64  `json:"available_sats"`
	OpenPositions   int    `json:"open_positions"`
	LastReconciled  string `json:"last_reconciled,omitempty"`
}

// TxRecord is one executed transaction reported back to the ledger.
type TxRecord struct {
	TxID       string    `json:"tx_id"`
	PlanID     string    `json:"plan_id"`
	AmountSats int64     `json:"amount_sats"`
	ExecutedAt time.Time `json:"executed_at"`
}

// TxStatus is the execution service's view of one broadcast transaction.
type TxStatus struct {
	TxID          string `json:"tx_id"`
	Confirmations int    `json:"confirmations"`
	State         string `json:"state"`
}

// ProtectiveIntent is one action the risk service wants taken after a
// threshold breach (e.g. stop-loss, rebalance).
type ProtectiveIntent struct {
	Kind      string `json:"kind"`
	PlanID    string `json:"plan_id,omitempty"`
	Threshold string `json:"threshold"`
	Detail    string `json:"detail,omitempty"`
}
