package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEvictsOldestAtCapacity(t *testing.T) {
	log := NewLog(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		log.Record(ctx, Entry{
			Source:  "test",
			Action:  ActionCallStarted,
			Details: fmt.Sprintf("entry-%d", i),
		})
	}

	require.Equal(t, 3, log.Len())

	trail := log.Trail(0)
	require.Len(t, trail, 3)
	assert.Equal(t, "entry-2", trail[0].Details)
	assert.Equal(t, "entry-4", trail[2].Details)
}

func TestTrailReturnsMostRecentInChronologicalOrder(t *testing.T) {
	log := NewLog(10)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	log.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	for i := 0; i < 6; i++ {
		log.Record(ctx, Entry{Source: "test", Action: ActionCallStarted, Details: fmt.Sprintf("e%d", i)})
	}

	trail := log.Trail(4)
	require.Len(t, trail, 4)
	assert.Equal(t, "e2", trail[0].Details)
	assert.Equal(t, "e5", trail[3].Details)
	for i := 1; i < len(trail); i++ {
		assert.True(t, trail[i].Timestamp.After(trail[i-1].Timestamp))
	}
}

func TestUserTrailFiltersAndLimits(t *testing.T) {
	log := NewLog(20)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		log.Record(ctx, Entry{Source: "test", Action: ActionPhaseStarted, UserID: "u1", Details: fmt.Sprintf("u1-%d", i)})
		log.Record(ctx, Entry{Source: "test", Action: ActionPhaseStarted, UserID: "u2", Details: fmt.Sprintf("u2-%d", i)})
	}

	trail := log.UserTrail("u1", 3)
	require.Len(t, trail, 3)
	for _, e := range trail {
		assert.Equal(t, "u1", e.UserID)
	}
	assert.Equal(t, "u1-1", trail[0].Details)
	assert.Equal(t, "u1-3", trail[2].Details)
}

func TestUserTrailUnknownUserIsEmpty(t *testing.T) {
	log := NewLog(5)
	log.Record(context.Background(), Entry{Source: "test", Action: ActionCallStarted, UserID: "u1"})

	assert.Empty(t, log.UserTrail("nobody", 10))
}

func TestSinceFiltersByCutoff(t *testing.T) {
	log := NewLog(10)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	log.WithClock(func() time.Time { return current })

	log.Record(ctx, Entry{Source: "test", Action: ActionCallStarted, Details: "old"})
	current = base.Add(2 * time.Hour)
	log.Record(ctx, Entry{Source: "test", Action: ActionCallStarted, Details: "new"})

	recent := log.Since(base.Add(time.Hour))
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].Details)
}

type failingRepo struct{}

func (failingRepo) Save(context.Context, Entry) error {
	return fmt.Errorf("disk full")
}

func TestRepositoryFailureDoesNotFailRecord(t *testing.T) {
	log := NewLog(5).WithRepository(failingRepo{})
	log.Record(context.Background(), Entry{Source: "test", Action: ActionCallStarted})

	assert.Equal(t, 1, log.Len())
}
