package transaction

import (
	"context"

	"github.com/loomdb/loom/core/executor"
)

// Client is the caller-facing handle to one transaction actor. It is cheap,
// safe for concurrent use, and holds only the mailbox sender, the stop
// signal, and the transaction id. Every method is a blocking request/
// response round trip: the request carries a private single-use reply
// channel and the call waits on it.
type Client struct {
	id      ID
	mailbox chan<- request
	stopped <-chan struct{}
}

// ID returns the transaction identifier this client addresses.
func (c *Client) ID() ID {
	return c.id
}

// Execute runs a single operation inside the transaction.
func (c *Client) Execute(ctx context.Context, op executor.Operation) (*executor.Response, error) {
	resp, err := c.roundTrip(ctx, request{kind: reqSingle, op: op})
	if err != nil {
		return nil, err
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return resp.single, nil
}

// ExecuteBatch runs a sequence of operations inside the transaction,
// returning one outcome per operation in submission order.
func (c *Client) ExecuteBatch(ctx context.Context, ops []executor.Operation) ([]executor.BatchItem, error) {
	resp, err := c.roundTrip(ctx, request{kind: reqBatch, ops: ops})
	if err != nil {
		return nil, err
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return resp.batch, nil
}

// Commit commits the transaction.
func (c *Client) Commit(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, request{kind: reqCommit})
	if err != nil {
		return err
	}
	return resp.err
}

// Rollback rolls the transaction back.
func (c *Client) Rollback(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, request{kind: reqRollback})
	if err != nil {
		return err
	}
	return resp.err
}

// roundTrip enqueues a request and blocks on its private reply channel. A
// full mailbox applies natural backpressure: the send blocks until the
// actor drains a slot. If the actor has already stopped, or stops with the
// request still queued, the caller gets a ClosedError instead of hanging.
func (c *Client) roundTrip(ctx context.Context, req request) (response, error) {
	req.resp = make(chan response, 1)

	select {
	case c.mailbox <- req:
	case <-c.stopped:
		return response{}, actorGoneError()
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	select {
	case resp := <-req.resp:
		return resp, nil
	case <-c.stopped:
		// The actor may have replied in the same instant it stopped; prefer
		// the reply if it is there.
		select {
		case resp := <-req.resp:
			return resp, nil
		default:
			return response{}, actorGoneError()
		}
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// actorGoneError is the generic closed error used when the actor is
// unreachable and the true terminal state is unknowable from the client's
// position.
func actorGoneError() error {
	return &ClosedError{Reason: "transaction actor is no longer running"}
}
