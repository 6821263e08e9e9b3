package consistency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvest/strategy-sagas/internal/pkg/fault"
)

func TestCreateStateCheckpointIncrementsVersion(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	cp1 := coord.CreateStateCheckpoint(ctx, "portfolio", `{"balance":1000}`)
	cp2 := coord.CreateStateCheckpoint(ctx, "portfolio", `{"balance":900}`)

	assert.Equal(t, uint64(1), cp1.Version)
	assert.Equal(t, uint64(2), cp2.Version)
	assert.NotEqual(t, cp1.StateHash, cp2.StateHash)

	latest, err := coord.Checkpoint("portfolio")
	require.NoError(t, err)
	assert.Equal(t, cp2, latest)
}

func TestCheckpointUnknownServiceIsNotFound(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	_, err := coord.Checkpoint("nobody")
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestSynchronizeStateNoPriorCheckpoints(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	res, err := coord.SynchronizeState(context.Background(), []string{"strategy", "portfolio", "execution"}, 0)

	require.NoError(t, err)
	assert.Equal(t, SyncSynchronized, res.Status)
	assert.Empty(t, res.Conflicting)
	require.Len(t, res.Checkpoints, 3)
	// Absent services got identical version-0 fingerprints.
	for _, cp := range res.Checkpoints {
		assert.Equal(t, uint64(0), cp.Version)
		assert.Equal(t, res.Checkpoints["strategy"].StateHash, cp.StateHash)
	}
}

func TestSynchronizeStateRequiresServices(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	_, err := coord.SynchronizeState(context.Background(), nil, 0)
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(err))
}

func TestSynchronizeStateMatchingHashesAreNotConflicts(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.CreateStateCheckpoint(ctx, "a", "same state")
	coord.CreateStateCheckpoint(ctx, "b", "same state")

	res, err := coord.SynchronizeState(ctx, []string{"a", "b"}, 0)
	require.NoError(t, err)
	assert.Equal(t, SyncSynchronized, res.Status)
}

func TestSynchronizeStateDistantTimestampsAreNotConflicts(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	coord.WithClock(func() time.Time { return current })

	coord.CreateStateCheckpoint(ctx, "a", "state one")
	current = base.Add(time.Minute)
	coord.CreateStateCheckpoint(ctx, "b", "state two")

	res, err := coord.SynchronizeState(ctx, []string{"a", "b"}, 0)
	require.NoError(t, err)
	// Differing hashes a minute apart fall outside the proximity window.
	assert.Equal(t, SyncSynchronized, res.Status)
}

func TestSynchronizeStateTwoWayConflictLatestTimestampWins(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	coord.WithClock(func() time.Time { return current })

	coord.CreateStateCheckpoint(ctx, "a", "state one")
	current = base.Add(500 * time.Millisecond)
	winner := coord.CreateStateCheckpoint(ctx, "b", "state two")

	res, err := coord.SynchronizeState(ctx, []string{"a", "b"}, 0)

	require.NoError(t, err)
	assert.Equal(t, SyncResolved, res.Status)
	assert.Equal(t, "b", res.Winner)
	assert.Equal(t, []string{"a", "b"}, res.Conflicting)

	// The loser now carries the winner's fingerprint at a bumped version.
	resolved, err := coord.Checkpoint("a")
	require.NoError(t, err)
	assert.Equal(t, winner.StateHash, resolved.StateHash)
	assert.Equal(t, uint64(2), resolved.Version)
}

func TestSynchronizeStateMidSizeConflictHighestVersionWins(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	coord.WithClock(func() time.Time { return base })

	// "c" has the highest version but not the latest timestamp.
	coord.CreateStateCheckpoint(ctx, "c", "old")
	coord.CreateStateCheckpoint(ctx, "c", "older")
	coord.CreateStateCheckpoint(ctx, "c", "state c")
	coord.CreateStateCheckpoint(ctx, "a", "state a")
	coord.CreateStateCheckpoint(ctx, "b", "state b")

	res, err := coord.SynchronizeState(ctx, []string{"a", "b", "c"}, 0)

	require.NoError(t, err)
	assert.Equal(t, SyncResolved, res.Status)
	assert.Equal(t, "c", res.Winner)
	assert.Equal(t, []string{"a", "b", "c"}, res.Conflicting)
}

func TestSynchronizeStateLargeConflictRequiresManualResolution(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	coord.WithClock(func() time.Time { return base })

	services := make([]string, 6)
	for i := range services {
		services[i] = fmt.Sprintf("svc-%d", i)
		coord.CreateStateCheckpoint(ctx, services[i], fmt.Sprintf("state %d", i))
	}

	res, err := coord.SynchronizeState(ctx, services, 0)

	require.NoError(t, err)
	assert.Equal(t, SyncConflict, res.Status)
	assert.Len(t, res.Conflicting, 6)
	assert.Empty(t, res.Winner)

	// Manual resolution required: nothing was overwritten.
	for i, svc := range services {
		cp, err := coord.Checkpoint(svc)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), cp.Version, "service %d", i)
	}
}
