package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lesson-notes-sync/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLeases(t *testing.T) (LeaseRepository, *clock.Manual) {
	t.Helper()

	db, err := OpenLocalStore(filepath.Join(t.TempDir(), "lease.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewLeaseRepository(db, clk), clk
}

func TestLease_ExclusiveUntilExpiry(t *testing.T) {
	leases, clk := newTestLeases(t)
	ctx := context.Background()

	lease, err := leases.Acquire(ctx, "lesson-1", "tab-a", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "tab-a", lease.OwnerID)

	_, err = leases.Acquire(ctx, "lesson-1", "tab-b", 30*time.Second)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	_, err = leases.Acquire(ctx, "lesson-1", "tab-a", 30*time.Second)
	assert.NoError(t, err, "owner may re-acquire")

	clk.Advance(31 * time.Second)

	lease, err = leases.Acquire(ctx, "lesson-1", "tab-b", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "tab-b", lease.OwnerID)

	assert.ErrorIs(t, leases.Renew(ctx, "lesson-1", "tab-a", 30*time.Second), ErrLeaseLost)
}

func TestLease_RenewExtends(t *testing.T) {
	leases, clk := newTestLeases(t)
	ctx := context.Background()

	_, err := leases.Acquire(ctx, "lesson-1", "tab-a", 30*time.Second)
	require.NoError(t, err)

	clk.Advance(20 * time.Second)
	require.NoError(t, leases.Renew(ctx, "lesson-1", "tab-a", 30*time.Second))

	clk.Advance(20 * time.Second)
	_, err = leases.Acquire(ctx, "lesson-1", "tab-b", 30*time.Second)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	got, err := leases.Get(ctx, "lesson-1")
	require.NoError(t, err)
	assert.Equal(t, "tab-a", got.OwnerID)
}

func TestLease_Release(t *testing.T) {
	leases, _ := newTestLeases(t)
	ctx := context.Background()

	_, err := leases.Acquire(ctx, "lesson-1", "tab-a", time.Minute)
	require.NoError(t, err)

	require.NoError(t, leases.Release(ctx, "lesson-1", "tab-b"))
	got, err := leases.Get(ctx, "lesson-1")
	require.NoError(t, err)
	require.NotNil(t, got, "a non-owner release is ignored")

	require.NoError(t, leases.Release(ctx, "lesson-1", "tab-a"))
	got, err = leases.Get(ctx, "lesson-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
