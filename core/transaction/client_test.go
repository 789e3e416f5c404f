package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestClient_ActorGoneOnSend: a client whose actor has already stopped gets
// a ClosedError immediately instead of blocking on the mailbox.
func TestClient_ActorGoneOnSend(t *testing.T) {
	mailbox := make(chan request) // unbuffered: a send would block forever
	stopped := make(chan struct{})
	close(stopped)
	client := &Client{id: NewID(), mailbox: mailbox, stopped: stopped}

	_, err := client.Execute(context.Background(), op("findMany"))
	requireClosedWith(t, err, "transaction actor is no longer running")
}

// TestClient_ActorGoneWithRequestQueued: a request that was accepted into
// the mailbox but never processed (the actor stopped first) resolves to a
// ClosedError rather than hanging.
func TestClient_ActorGoneWithRequestQueued(t *testing.T) {
	mailbox := make(chan request, 1)
	stopped := make(chan struct{})
	client := &Client{id: NewID(), mailbox: mailbox, stopped: stopped}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(stopped)
	}()

	err := client.Commit(context.Background())
	requireClosedWith(t, err, "transaction actor is no longer running")
}

// TestClient_ContextCancellation: a caller can give up waiting; the reply
// slot stays valid for the actor's single buffered send.
func TestClient_ContextCancellation(t *testing.T) {
	mailbox := make(chan request, 1)
	stopped := make(chan struct{})
	client := &Client{id: NewID(), mailbox: mailbox, stopped: stopped}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.Rollback(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The actor's reply must still not block even though the caller left.
	req := <-mailbox
	req.reply(response{})
}
