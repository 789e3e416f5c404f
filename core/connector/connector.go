// Package connector defines the boundary between the transaction engine and
// the database driver layer. The engine only ever sees checked-out
// connections and the native transactions begun on them; pooling policy and
// driver specifics live behind these interfaces.
package connector

import (
	"context"
	"database/sql"
)

// Queryable is the connection-like view the query-execution core runs
// operations against. Both a plain connection and an open transaction
// satisfy it. Implementations of the query core must not retain a Queryable
// beyond a single call.
type Queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TxOptions carries the per-transaction settings forwarded to the driver.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// Tx is a native database transaction begun on a checked-out connection.
// Its validity is tied to that connection; callers must not use it after
// the connection has been released.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Queryable returns the view of this transaction the query core expects.
	Queryable() Queryable
}

// Conn is a connection checked out of a pool for exclusive use.
type Conn interface {
	// Begin starts a native transaction on this connection.
	Begin(ctx context.Context, opts TxOptions) (Tx, error)
	// Release returns the connection to its pool. It must be called exactly
	// once, after any transaction begun on the connection has finished.
	Release() error
}

// Acquirer hands out exclusively-owned connections. The production
// implementation is Pool; tests substitute fakes.
type Acquirer interface {
	Acquire(ctx context.Context) (Conn, error)
}
