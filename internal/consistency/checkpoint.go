package consistency

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/stackvest/strategy-sagas/internal/audit"
	"github.com/stackvest/strategy-sagas/internal/pkg/fault"
)

// conflictWindow is the timestamp-proximity heuristic: two services
// whose hashes differ are only flagged as conflicting when their
// checkpoints landed within this window of each other.
const conflictWindow = time.Second

// CreateStateCheckpoint stores a fingerprint of one service's state.
// Versions increase strictly per service.
func (c *Coordinator) CreateStateCheckpoint(ctx context.Context, service, state string) Checkpoint {
	c.mu.Lock()
	prev := c.checkpoints[service]
	cp := Checkpoint{
		Service:   service,
		StateHash: hashPayload(state),
		Timestamp: c.now(),
		Version:   prev.Version + 1,
	}
	c.checkpoints[service] = cp
	c.mu.Unlock()

	c.auditLog.Record(ctx, audit.Entry{
		Source:  source,
		Action:  audit.ActionCheckpointCreated,
		Details: fmt.Sprintf("service=%s version=%d", service, cp.Version),
	})
	return cp
}

// Checkpoint returns the latest checkpoint for one service.
func (c *Coordinator) Checkpoint(service string) (Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.checkpoints[service]
	if !ok {
		return Checkpoint{}, fault.NotFound("no checkpoint for service %q", service)
	}
	return cp, nil
}

// SynchronizeState collects the latest checkpoint of every named
// service (synthesizing a version-0 checkpoint for absentees), detects
// conflicts with the timestamp-proximity heuristic, and resolves:
// latest-timestamp-wins for ≤2 conflicting services, highest-version-
// wins for ≤5, otherwise a conflict result requiring manual resolution.
// Resolution overwrites each losing service's checkpoint with the
// winner's fingerprint.
func (c *Coordinator) SynchronizeState(ctx context.Context, services []string, timeout time.Duration) (SyncResult, error) {
	if len(services) == 0 {
		return SyncResult{}, fault.InvalidInput("no services to synchronize")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.mu.Lock()
	now := c.now()
	collected := make(map[string]Checkpoint, len(services))
	for _, svc := range services {
		cp, ok := c.checkpoints[svc]
		if !ok {
			cp = Checkpoint{
				Service:   svc,
				StateHash: hashPayload(""),
				Timestamp: now,
				Version:   0,
			}
			c.checkpoints[svc] = cp
		}
		collected[svc] = cp
	}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return SyncResult{}, fault.Internal("synchronization cancelled: %w", err)
	}

	conflicting := detectConflicts(services, collected)
	if len(conflicting) == 0 {
		c.auditLog.Record(ctx, audit.Entry{
			Source:  source,
			Action:  audit.ActionStateSynchronized,
			Details: fmt.Sprintf("services=%v conflicts=0", services),
		})
		return SyncResult{Status: SyncSynchronized, Checkpoints: collected}, nil
	}

	var winner Checkpoint
	switch {
	case len(conflicting) <= 2:
		// Latest timestamp wins.
		for _, svc := range conflicting {
			if cp := collected[svc]; winner.Service == "" || cp.Timestamp.After(winner.Timestamp) {
				winner = cp
			}
		}
	case len(conflicting) <= 5:
		// Highest version wins.
		for _, svc := range conflicting {
			if cp := collected[svc]; winner.Service == "" || cp.Version > winner.Version {
				winner = cp
			}
		}
	default:
		c.auditLog.Record(ctx, audit.Entry{
			Source:  source,
			Action:  audit.ActionStateSynchronized,
			Details: fmt.Sprintf("services=%v conflicts=%d: manual resolution required", services, len(conflicting)),
		})
		return SyncResult{
			Status:      SyncConflict,
			Conflicting: conflicting,
			Checkpoints: collected,
		}, nil
	}

	// Overwrite the losers with the winner's fingerprint, bumping each
	// loser's own version so per-service monotonicity holds.
	c.mu.Lock()
	for _, svc := range conflicting {
		if svc == winner.Service {
			continue
		}
		prev := c.checkpoints[svc]
		resolved := Checkpoint{
			Service:   svc,
			StateHash: winner.StateHash,
			Timestamp: winner.Timestamp,
			Version:   prev.Version + 1,
		}
		c.checkpoints[svc] = resolved
		collected[svc] = resolved
	}
	collected[winner.Service] = winner
	c.mu.Unlock()

	c.auditLog.Record(ctx, audit.Entry{
		Source:  source,
		Action:  audit.ActionStateSynchronized,
		Details: fmt.Sprintf("services=%v conflicts=%d winner=%s", services, len(conflicting), winner.Service),
	})
	return SyncResult{
		Status:      SyncResolved,
		Winner:      winner.Service,
		Conflicting: conflicting,
		Checkpoints: collected,
	}, nil
}

// detectConflicts returns the sorted set of services involved in at
// least one conflicting pair: differing hashes with timestamps inside
// the proximity window.
func detectConflicts(services []string, collected map[string]Checkpoint) []string {
	inConflict := make(map[string]bool)
	for i := 0; i < len(services); i++ {
		for j := i + 1; j < len(services); j++ {
			a, b := collected[services[i]], collected[services[j]]
			if a.StateHash == b.StateHash {
				continue
			}
			gap := a.Timestamp.Sub(b.Timestamp)
			if gap < 0 {
				gap = -gap
			}
			if gap <= conflictWindow {
				inConflict[a.Service] = true
				inConflict[b.Service] = true
			}
		}
	}

	out := make([]string, 0, len(inConflict))
	for svc := range inConflict {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}
