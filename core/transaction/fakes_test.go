package transaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/loomdb/loom/core/connector"
	"github.com/loomdb/loom/core/executor"
)

// --- Test Fakes ---
//
// The fakes record every database-visible event so tests can assert the
// engine's contracts: per-transaction operation order, no concurrent
// execution on one transaction, commit/rollback issued at most once, and
// the connection released exactly once.

// fakeTx is a fake native transaction. It doubles as the Queryable handed
// to the executor, which lets the recording executor find it again.
type fakeTx struct {
	mu          sync.Mutex
	ops         []string
	commits     int
	rollbacks   int
	commitErr   error
	rollbackErr error

	inFlight int32 // guards against concurrent execution on one transaction
}

func (t *fakeTx) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errors.New("fakeTx does not execute SQL")
}

func (t *fakeTx) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("fakeTx does not execute SQL")
}

func (t *fakeTx) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.commitErr != nil {
		return t.commitErr
	}
	t.commits++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rollbackErr != nil {
		return t.rollbackErr
	}
	t.rollbacks++
	return nil
}

func (t *fakeTx) Queryable() connector.Queryable {
	return t
}

func (t *fakeTx) recordedOps() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ops...)
}

func (t *fakeTx) counts() (commits, rollbacks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commits, t.rollbacks
}

// fakeConn is a fake checked-out connection owning one fakeTx.
type fakeConn struct {
	tx       *fakeTx
	beginErr error
	releases int32
}

func (c *fakeConn) Begin(context.Context, connector.TxOptions) (connector.Tx, error) {
	if c.beginErr != nil {
		return nil, c.beginErr
	}
	return c.tx, nil
}

func (c *fakeConn) Release() error {
	atomic.AddInt32(&c.releases, 1)
	return nil
}

func (c *fakeConn) releaseCount() int {
	return int(atomic.LoadInt32(&c.releases))
}

// fakeSource hands out fresh fake connections and remembers them.
type fakeSource struct {
	mu         sync.Mutex
	conns      []*fakeConn
	acquireErr error
}

func (s *fakeSource) Acquire(context.Context) (connector.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	conn := &fakeConn{tx: &fakeTx{}}
	s.conns = append(s.conns, conn)
	return conn, nil
}

func (s *fakeSource) conn(i int) *fakeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[i]
}

// recordingExecutor appends each operation name to the fakeTx it is handed
// and trips if two operations ever run concurrently on the same
// transaction.
type recordingExecutor struct {
	execErr    error
	violations int32
}

func (e *recordingExecutor) ExecuteOne(_ context.Context, _ executor.Schema, q connector.Queryable, op executor.Operation) (*executor.Response, error) {
	tx := q.(*fakeTx)
	if !atomic.CompareAndSwapInt32(&tx.inFlight, 0, 1) {
		atomic.AddInt32(&e.violations, 1)
	}
	tx.mu.Lock()
	tx.ops = append(tx.ops, op.Name)
	tx.mu.Unlock()
	atomic.StoreInt32(&tx.inFlight, 0)

	if e.execErr != nil {
		return nil, e.execErr
	}
	return &executor.Response{Data: json.RawMessage(`{}`)}, nil
}

func (e *recordingExecutor) ExecuteMany(ctx context.Context, schema executor.Schema, q connector.Queryable, ops []executor.Operation) ([]executor.BatchItem, error) {
	items := make([]executor.BatchItem, 0, len(ops))
	for _, op := range ops {
		resp, err := e.ExecuteOne(ctx, schema, q, op)
		items = append(items, executor.BatchItem{Response: resp, Err: err})
	}
	return items, nil
}

func op(name string) executor.Operation {
	return executor.Operation{Name: name}
}
