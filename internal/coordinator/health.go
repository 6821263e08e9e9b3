package coordinator

import (
	"time"

	"github.com/stackvest/strategy-sagas/internal/audit"
	"github.com/stackvest/strategy-sagas/internal/comms"
)

// HealthReport summarizes saga execution health for monitoring.
type HealthReport struct {
	ActiveFlows       int      `json:"active_flows"`
	StalledFlows      []string `json:"stalled_flows"`
	CompletedLastHour int      `json:"completed_last_hour"`
	FailedLastHour    int      `json:"failed_last_hour"`
	GeneratedAt       string   `json:"generated_at"`
}

// MonitorExecutionHealth reports active flows, flows in progress longer
// than the stall threshold, and completed/failed saga counts over the
// trailing hour (from audit action tags).
func (c *Coordinator) MonitorExecutionHealth() HealthReport {
	now := c.now()
	report := HealthReport{
		StalledFlows: []string{},
		GeneratedAt:  now.Format(time.RFC3339),
	}

	for _, f := range c.comm.Flows() {
		if f.Status != comms.FlowInProgress {
			continue
		}
		report.ActiveFlows++
		if now.Sub(f.StartedAt) > c.stallThreshold {
			report.StalledFlows = append(report.StalledFlows, f.PlanID)
		}
	}

	for _, e := range c.comm.Audit().Since(now.Add(-time.Hour)) {
		if e.Source != source {
			continue
		}
		switch e.Action {
		case audit.ActionFlowCompleted:
			report.CompletedLastHour++
		case audit.ActionPhaseFailed:
			report.FailedLastHour++
		}
	}

	return report
}
