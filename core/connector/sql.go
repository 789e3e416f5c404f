package connector

import (
	"context"
	"database/sql"
)

// SQLConn adapts a database/sql connection to the Conn interface. The
// underlying *sql.Conn is exclusively owned until Release returns it to the
// driver pool.
type SQLConn struct {
	conn *sql.Conn
}

// NewSQLConn wraps an already checked-out *sql.Conn.
func NewSQLConn(conn *sql.Conn) *SQLConn {
	return &SQLConn{conn: conn}
}

// Begin starts a driver-level transaction on this connection.
func (c *SQLConn) Begin(ctx context.Context, opts TxOptions) (Tx, error) {
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: opts.Isolation,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return nil, err
	}
	return &SQLTx{tx: tx}, nil
}

// Release returns the connection to the driver pool.
func (c *SQLConn) Release() error {
	return c.conn.Close()
}

// SQLTx adapts *sql.Tx to the Tx interface.
type SQLTx struct {
	tx *sql.Tx
}

// Commit commits the underlying transaction. database/sql commits without a
// context; the parameter exists for interface symmetry and future drivers.
func (t *SQLTx) Commit(_ context.Context) error {
	return t.tx.Commit()
}

// Rollback rolls back the underlying transaction.
func (t *SQLTx) Rollback(_ context.Context) error {
	return t.tx.Rollback()
}

// Queryable exposes the transaction as the connection-like view the query
// core executes against. *sql.Tx satisfies Queryable directly.
func (t *SQLTx) Queryable() Queryable {
	return t.tx
}
