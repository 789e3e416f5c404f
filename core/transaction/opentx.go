package transaction

import (
	"context"
	"fmt"

	"github.com/loomdb/loom/core/connector"
)

// OpenTx owns one checked-out connection and the native transaction begun
// on it. The two are created together, used together, and released together
// as a single unit; neither is ever handed out separately. Exactly one
// actor owns an OpenTx at a time.
type OpenTx struct {
	conn     connector.Conn
	tx       connector.Tx
	released bool
}

// beginOpenTx starts a native transaction on a freshly acquired connection.
// If the transaction cannot be started the connection is returned to the
// pool before the error is reported.
func beginOpenTx(ctx context.Context, conn connector.Conn, opts connector.TxOptions) (*OpenTx, error) {
	tx, err := conn.Begin(ctx, opts)
	if err != nil {
		if relErr := conn.Release(); relErr != nil {
			err = fmt.Errorf("%w (additionally failed to release connection: %v)", err, relErr)
		}
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return &OpenTx{conn: conn, tx: tx}, nil
}

// queryable exposes the open transaction as the connection-like view the
// query core expects. Callers must not retain it past a single execution.
func (o *OpenTx) queryable() connector.Queryable {
	return o.tx.Queryable()
}

func (o *OpenTx) commit(ctx context.Context) error {
	return o.tx.Commit(ctx)
}

func (o *OpenTx) rollback(ctx context.Context) error {
	return o.tx.Rollback(ctx)
}

// release returns the connection to the pool. Idempotent so the actor can
// install it as a deferred safety net without double-releasing on the
// normal path.
func (o *OpenTx) release() error {
	if o.released {
		return nil
	}
	o.released = true
	return o.conn.Release()
}
