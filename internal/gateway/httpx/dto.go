package httpx

import (
	"github.com/stackvest/strategy-sagas/internal/audit"
	"github.com/stackvest/strategy-sagas/internal/comms"
)

type ExecutePlanRequest struct {
	PlanID      string `json:"plan_id"`
	UserID      string `json:"user_id"`
	Strategy    string `json:"strategy"`
	AmountSats  int64  `json:"amount_sats"`
	RiskProfile string `json:"risk_profile"`
}

type FlowResponse struct {
	PlanID         string       `json:"plan_id"`
	UserID         string       `json:"user_id"`
	CurrentStep    comms.Step   `json:"current_step"`
	StepsCompleted []comms.Step `json:"steps_completed"`
	Status         string       `json:"status"`
	StartedAt      string       `json:"started_at"`
}

type AuditTrailResponse struct {
	Entries []audit.Entry `json:"entries"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
