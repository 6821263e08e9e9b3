package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvest/strategy-sagas/internal/audit"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSaveAndRecent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []audit.Entry{
		{Timestamp: base, Source: "execution-coordinator", Action: audit.ActionFlowStarted, UserID: "u1", TransactionID: "p1", Details: "first"},
		{Timestamp: base.Add(time.Second), Source: "execution-coordinator", Action: audit.ActionPhaseStarted, UserID: "u1", TransactionID: "p1", Details: "second"},
		{Timestamp: base.Add(2 * time.Second), Source: "consistency-coordinator", Action: audit.ActionTxBegun, UserID: "u2", TransactionID: "t1", Details: "third"},
	}
	for _, e := range entries {
		require.NoError(t, repo.Save(ctx, e))
	}

	got, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Chronological order, full roundtrip of every column.
	assert.Equal(t, entries[0], got[0])
	assert.Equal(t, entries[1], got[1])
	assert.Equal(t, entries[2], got[2])
}

func TestRecentHonorsLimit(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Save(ctx, audit.Entry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Source:    "test",
			Action:    audit.ActionCallStarted,
		}))
	}

	got, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, base.Add(3*time.Second), got[0].Timestamp)
	assert.Equal(t, base.Add(4*time.Second), got[1].Timestamp)
}

func TestRecentOrdersByInsertionWithinSameSecond(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	// Go trims trailing fraction zeros when formatting, so "…:00Z" would
	// sort lexicographically after "…:00.5Z". Insertion order must win.
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, audit.Entry{
		Timestamp: base, Source: "test", Action: audit.ActionCallStarted, Details: "whole second",
	}))
	require.NoError(t, repo.Save(ctx, audit.Entry{
		Timestamp: base.Add(500 * time.Millisecond), Source: "test", Action: audit.ActionCallStarted, Details: "fractional",
	}))

	got, err := repo.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fractional", got[0].Details)
}

func TestRecentByUserFilters(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, userID := range []string{"u1", "u2", "u1"} {
		require.NoError(t, repo.Save(ctx, audit.Entry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Source:    "test",
			Action:    audit.ActionCallStarted,
			UserID:    userID,
		}))
	}

	got, err := repo.RecentByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, "u1", e.UserID)
	}

	empty, err := repo.RecentByUser(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLogTeesIntoRepository(t *testing.T) {
	repo := openTestRepo(t)
	log := audit.NewLog(10).WithRepository(repo)

	log.Record(context.Background(), audit.Entry{
		Source: "test", Action: audit.ActionFlowCompleted, UserID: "u1",
	})

	got, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, audit.ActionFlowCompleted, got[0].Action)
}
