package connector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// --- Stub Driver ---
//
// A minimal database/sql driver: connections that can begin, commit, and
// roll back transactions, and nothing else. Enough to exercise pool and
// adapter behavior without a server.

type stubDriver struct{}

func (stubDriver) Open(string) (driver.Conn, error) { return &stubConn{}, nil }

type stubConn struct{}

func (*stubConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("stub driver does not prepare statements")
}
func (*stubConn) Close() error              { return nil }
func (*stubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

func init() {
	sql.Register("loomstub", stubDriver{})
}

func openStubDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("loomstub", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- Test Cases ---

// TestPool_AcquireAndTransact checks the full unit of work: check out a
// connection, begin, commit, and hand the connection back.
func TestPool_AcquireAndTransact(t *testing.T) {
	pool := NewPool(openStubDB(t), PoolConfig{})
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	require.NotNil(t, tx.Queryable())
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, conn.Release())
}

// TestPool_RollbackPath mirrors the commit test for rollback.
func TestPool_RollbackPath(t *testing.T) {
	pool := NewPool(openStubDB(t), PoolConfig{})
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, conn.Release())
}

// TestPool_AcquireTimeout: with every connection checked out, Acquire must
// fail with ErrAcquireTimeout once its own deadline passes.
func TestPool_AcquireTimeout(t *testing.T) {
	db := openStubDB(t)
	db.SetMaxOpenConns(1)
	pool := NewPool(db, PoolConfig{AcquireTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	held, err := pool.Acquire(ctx)
	require.NoError(t, err)

	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, ErrAcquireTimeout)

	require.NoError(t, held.Release())

	// With the connection back, acquisition succeeds again.
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Release())
}

// TestPool_CallerCancellationIsNotATimeout: a canceled caller context is
// reported as a plain acquisition failure, not an ErrAcquireTimeout.
func TestPool_CallerCancellationIsNotATimeout(t *testing.T) {
	pool := NewPool(openStubDB(t), PoolConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pool.Acquire(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAcquireTimeout)
}
