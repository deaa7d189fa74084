package lock

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLocker holds a session-level advisory lock on a connection taken out
// of the pool for the lifetime of the lease.
type PostgresLocker struct {
	pool *pgxpool.Pool
	key  string
	id   int64
}

func NewPostgresLocker(pool *pgxpool.Pool, key string) *PostgresLocker {
	return &PostgresLocker{pool: pool, key: key, id: advisoryKey(key)}
}

func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

func (l *PostgresLocker) Acquire(ctx context.Context) (Lease, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for run lock: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		holder := l.holder(ctx, conn)
		conn.Release()
		return nil, &HeldError{Key: l.key, Holder: holder}
	}

	return &postgresLease{conn: conn, id: l.id, owner: OwnerToken()}, nil
}

// holder names the backend pid holding the lock, when it can be seen.
func (l *PostgresLocker) holder(ctx context.Context, conn *pgxpool.Conn) string {
	var pid int32
	err := conn.QueryRow(ctx, `
		SELECT pid FROM pg_locks
		WHERE locktype = 'advisory'
		  AND classid::bigint = $1
		  AND objid::bigint = $2
		  AND objsubid = 1
		  AND granted
		LIMIT 1`,
		int64(uint64(l.id)>>32), int64(uint64(l.id)&0xffffffff),
	).Scan(&pid)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("postgres backend pid %d", pid)
}

type postgresLease struct {
	conn  *pgxpool.Conn
	id    int64
	owner string
}

func (l *postgresLease) Owner() string {
	return l.owner
}

// Release unlocks and hands the connection back. If the unlock cannot be
// confirmed the connection is closed instead, which ends the session and
// drops the lock with it.
func (l *postgresLease) Release(ctx context.Context) error {
	defer l.conn.Release()

	var ok bool
	if err := l.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", l.id).Scan(&ok); err != nil {
		_ = l.conn.Conn().Close(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}
