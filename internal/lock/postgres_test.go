package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestPool(t *testing.T) *pgxpool.Pool {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Test database not configured")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresLockerExclusive(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()
	locker := NewPostgresLocker(pool, "discount-monitor:test-run")

	lease, err := locker.Acquire(ctx)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lease.Release(ctx))

	again, err := locker.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestPostgresLockerFailedUnlockDropsSession(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()
	locker := NewPostgresLocker(pool, "discount-monitor:test-failed-unlock")

	lease, err := locker.Acquire(ctx)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, lease.Release(cancelled))

	require.Eventually(t, func() bool {
		again, err := locker.Acquire(ctx)
		if err != nil {
			return false
		}
		return again.Release(ctx) == nil
	}, 5*time.Second, 50*time.Millisecond, "closed session must not keep the lock")
}

func TestAdvisoryKeyStable(t *testing.T) {
	assert.Equal(t, advisoryKey("discount-monitor:scrape-run"), advisoryKey("discount-monitor:scrape-run"))
	assert.NotEqual(t, advisoryKey("a"), advisoryKey("b"))
}
