package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lesson-notes-sync/internal/clock"
	"lesson-notes-sync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLeaseRepo(t *testing.T) (repository.LeaseRepository, *clock.Manual) {
	t.Helper()

	db, err := repository.OpenLocalStore(filepath.Join(t.TempDir(), "lease.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := clock.NewManual(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	return repository.NewLeaseRepository(db, clk), clk
}

func TestLeaseKeeper_RenewsWhileHeld(t *testing.T) {
	repo, clk := newTestLeaseRepo(t)
	ctx := context.Background()

	owner := NewLeaseKeeper(repo, "lesson-1", "editor-a", 30*time.Second, clk)
	require.NoError(t, owner.Acquire(ctx))

	rival := NewLeaseKeeper(repo, "lesson-1", "editor-b", 30*time.Second, clk)
	assert.ErrorIs(t, rival.Acquire(ctx), repository.ErrLeaseHeld)

	clk.Advance(2 * time.Minute)
	assert.True(t, owner.Held())
	assert.ErrorIs(t, rival.Acquire(ctx), repository.ErrLeaseHeld, "renewals keep the lease alive past its ttl")

	require.NoError(t, owner.Release(ctx))
	assert.False(t, owner.Held())
	assert.NoError(t, rival.Acquire(ctx))
	require.NoError(t, rival.Release(ctx))
}

func TestLeaseKeeper_ReportsLoss(t *testing.T) {
	repo, clk := newTestLeaseRepo(t)
	ctx := context.Background()

	owner := NewLeaseKeeper(repo, "lesson-1", "editor-a", 30*time.Second, clk)
	require.NoError(t, owner.Acquire(ctx))

	require.NoError(t, repo.Release(ctx, "lesson-1", "editor-a"))
	_, err := repo.Acquire(ctx, "lesson-1", "editor-b", time.Minute)
	require.NoError(t, err)

	clk.Advance(10 * time.Second)

	select {
	case <-owner.Lost():
	default:
		t.Fatal("expected the keeper to report the lost lease")
	}
	assert.False(t, owner.Held())
	assert.Equal(t, 0, clk.Pending(), "no renewals after the lease is lost")
}
