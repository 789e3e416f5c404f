// Package executor defines the boundary to the query-execution core: the
// subsystem that compiles a logical operation to SQL and runs it. The
// transaction engine only threads operations through to it, one at a time
// per transaction.
package executor

import (
	"context"
	"encoding/json"

	"github.com/loomdb/loom/core/connector"
)

// Schema is the parsed datamodel handle the query core executes against.
// Its contents are owned by the schema subsystem; the engine treats it as
// opaque and merely threads it through.
type Schema any

// Operation is one logical query to run. The engine never inspects Args;
// the query core owns compilation.
type Operation struct {
	// Name identifies the logical operation, e.g. "findMany" or "createOne".
	Name string `json:"name"`
	// Args is the serialized operation payload.
	Args json.RawMessage `json:"args,omitempty"`
}

// Response is the result of one successfully executed operation.
type Response struct {
	Data json.RawMessage `json:"data"`
}

// BatchItem is the per-operation outcome of a batch. Exactly one of
// Response and Err is set.
type BatchItem struct {
	Response *Response
	Err      error
}

// Executor runs compiled operations against a connection-like view.
// Implementations must not retain the Queryable beyond the call.
type Executor interface {
	// ExecuteOne compiles and runs a single operation.
	ExecuteOne(ctx context.Context, schema Schema, q connector.Queryable, op Operation) (*Response, error)
	// ExecuteMany compiles and runs a sequence of operations, returning one
	// outcome per operation in order. A failed operation does not abort the
	// remainder; its slot carries the error.
	ExecuteMany(ctx context.Context, schema Schema, q connector.Queryable, ops []Operation) ([]BatchItem, error)
}
