// Package httpx is the orchestrator's HTTP surface: triggering plan
// execution, inspecting flows, reading the audit trail and the health
// report.
package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stackvest/strategy-sagas/internal/clients"
	"github.com/stackvest/strategy-sagas/internal/comms"
	"github.com/stackvest/strategy-sagas/internal/coordinator"
	"github.com/stackvest/strategy-sagas/internal/gateway/httpx/middlewares"
	"github.com/stackvest/strategy-sagas/internal/pkg/fault"
)

const defaultTrailLimit = 50

// Handler exposes the coordinator over HTTP.
type Handler struct {
	coord *coordinator.Coordinator
	comm  *comms.Communicator
}

// NewHandler builds the gateway handler.
func NewHandler(coord *coordinator.Coordinator, comm *comms.Communicator) *Handler {
	return &Handler{coord: coord, comm: comm}
}

// ExecutePlan validates the request and launches the saga in a
// detached context, so the flow keeps running after the 202 response.
func (h *Handler) ExecutePlan(w http.ResponseWriter, r *http.Request) {
	var req ExecutePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.PlanID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "plan_id and user_id are required")
		return
	}

	plan := clients.Plan{
		ID:          req.PlanID,
		UserID:      req.UserID,
		Strategy:    req.Strategy,
		AmountSats:  req.AmountSats,
		RiskProfile: req.RiskProfile,
	}

	requestID := middlewares.RequestID(r.Context())
	idempKey := middlewares.IdempotencyKey(r.Context())
	slog.InfoContext(r.Context(), "executing strategy plan",
		"request_id", requestID, "idempotency_key", idempKey,
		"plan_id", plan.ID, "user_id", plan.UserID)

	// Register the flow before spawning the saga so the 202 body is the
	// registry's actual snapshot, not a synthesized one.
	flow := h.comm.StartExecutionFlow(plan.ID, plan.UserID)

	// Detach from the request context so sending the response does not
	// cancel the saga, while keeping tracing metadata.
	sagaCtx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := h.coord.ExecuteStrategyPlan(sagaCtx, plan); err != nil {
			slog.ErrorContext(sagaCtx, "strategy plan execution failed",
				"plan_id", plan.ID, "user_id", plan.UserID, "error", err)
			h.coord.HandleExecutionFailure(sagaCtx, plan.ID, plan.UserID, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, mapFlow(flow))
}

// GetFlow returns one plan's flow status.
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	flow, err := h.comm.Flow(planID)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapFlow(flow))
}

// GetAuditTrail returns the most recent audit entries.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AuditTrailResponse{
		Entries: h.comm.AuditTrail(trailLimit(r)),
	})
}

// GetUserAuditTrail returns the most recent entries for one user.
func (h *Handler) GetUserAuditTrail(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	writeJSON(w, http.StatusOK, AuditTrailResponse{
		Entries: h.comm.UserAuditTrail(userID, trailLimit(r)),
	})
}

// GetHealth returns the saga health report.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.MonitorExecutionHealth())
}

func trailLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultTrailLimit
}

func mapFlow(f comms.Flow) FlowResponse {
	steps := f.StepsCompleted
	if steps == nil {
		steps = []comms.Step{}
	}
	res := FlowResponse{
		PlanID:         f.PlanID,
		UserID:         f.UserID,
		CurrentStep:    f.CurrentStep,
		StepsCompleted: steps,
		Status:         string(f.Status),
	}
	if !f.StartedAt.IsZero() {
		res.StartedAt = f.StartedAt.Format(time.RFC3339Nano)
	}
	return res
}

func writeFault(w http.ResponseWriter, err error) {
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case fault.KindUnauthorized:
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case fault.KindInvalidInput:
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		writeError(w, http.StatusBadGateway, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}
