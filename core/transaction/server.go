package transaction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/loomdb/loom/core/executor"
)

// phase is the supervisory state of the actor's run loop. The same select
// loop runs in both phases; only the body differs.
type phase int

const (
	// phaseActive processes operations against the live transaction until a
	// terminal request or the transaction timeout, whichever comes first.
	phaseActive phase = iota
	// phaseEvicting answers from the cached terminal state, never touching
	// the database, until the eviction timer elapses.
	phaseEvicting
)

// teardownTimeout bounds rollback attempts made after the engine context is
// already canceled.
const teardownTimeout = 5 * time.Second

// server is the per-transaction actor. It exclusively owns one cachedTx and
// is the single consumer of the transaction's mailbox, so operations on one
// transaction never execute concurrently against the database.
type server struct {
	id      ID
	cached  cachedTx
	mailbox <-chan request
	stopped chan struct{} // closed when run returns; clients watch it
	done    chan<- ID     // reaper notification

	exec   executor.Executor
	schema executor.Schema

	timeout    time.Duration // active phase, hard deadline from start
	evictAfter time.Duration // eviction phase duration

	logger  *zap.Logger
	metrics *Metrics
}

// run drives the transaction through its two phases and reports to the
// reaper on the way out. It is the only goroutine that touches the cachedTx.
func (s *server) run(ctx context.Context) {
	defer func() {
		// The pooled connection must go back exactly once, even if the actor
		// panicked mid-operation. The normal paths release it on the terminal
		// transition, which makes this a no-op. A transaction that is somehow
		// still open here (e.g. its commit failed and nobody called again)
		// gets a last rollback attempt before the connection goes back.
		if open := s.cached.open; open != nil {
			if s.cached.status == StatusOpen {
				ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
				if err := open.rollback(ctx); err != nil {
					s.logger.Warn("final rollback failed", zap.Error(err))
				}
				cancel()
			}
			if err := open.release(); err != nil {
				s.logger.Warn("failed to release connection", zap.Error(err))
			}
		}
		close(s.stopped)
		s.done <- s.id
	}()

	ph := phaseActive
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Engine shutdown. Roll back anything still open and exit without
			// an eviction phase; the registry is going away with us.
			if s.cached.status == StatusOpen {
				s.abort()
			}
			return

		case req := <-s.mailbox:
			var terminal bool
			switch ph {
			case phaseActive:
				terminal = s.handleActive(ctx, req)
			case phaseEvicting:
				s.handleEvicting(ctx, req)
			}
			if terminal {
				ph = phaseEvicting
				rearm(timer, s.evictAfter)
			}

		case <-timer.C:
			if ph == phaseEvicting {
				return
			}
			s.logger.Info("transaction timed out, rolling back",
				zap.Duration("timeout", s.timeout))
			if err := s.rollbackOpen(ctx, StatusExpired); err != nil {
				s.logger.Warn("rollback on timeout failed", zap.Error(err))
			}
			ph = phaseEvicting
			rearm(timer, s.evictAfter)
		}
	}
}

// handleActive processes one request against the live transaction. The
// return value reports whether the request was terminal, i.e. whether the
// active phase is over.
func (s *server) handleActive(ctx context.Context, req request) bool {
	switch req.kind {
	case reqSingle:
		open, err := s.cached.asOpen()
		if err != nil {
			req.reply(response{err: err})
			return false
		}
		start := time.Now()
		res, err := s.exec.ExecuteOne(ctx, s.schema, open.queryable(), req.op)
		s.metrics.observeOperation(ctx, time.Since(start))
		req.reply(response{single: res, err: err})
		return false

	case reqBatch:
		open, err := s.cached.asOpen()
		if err != nil {
			req.reply(response{err: err})
			return false
		}
		start := time.Now()
		items, err := s.exec.ExecuteMany(ctx, s.schema, open.queryable(), req.ops)
		s.metrics.observeOperation(ctx, time.Since(start))
		req.reply(response{batch: items, err: err})
		return false

	case reqCommit:
		req.reply(response{err: s.commit(ctx)})
		return true

	case reqRollback:
		req.reply(response{err: s.rollbackOpen(ctx, StatusRolledBack)})
		return true
	}

	req.reply(response{err: &UnknownError{Reason: "unrecognized request kind"}})
	return false
}

// handleEvicting answers from the cached state without touching the
// database. A non-terminal cached state here is a bug in the active phase;
// it is recovered with a forced rollback and reported, never swallowed.
func (s *server) handleEvicting(ctx context.Context, req request) {
	if s.cached.status == StatusOpen {
		s.logger.Error("transaction still open after termination, forcing rollback",
			zap.String("request", req.kind.String()))
		if err := s.rollbackOpen(ctx, StatusRolledBack); err != nil {
			s.logger.Error("forced rollback failed", zap.Error(err))
		}
		req.reply(response{err: &UnknownError{
			Reason: "transaction was not closed when it should have been; it has been rolled back",
		}})
		return
	}
	req.reply(response{err: &ClosedError{Reason: s.cached.status.String()}})
}

// commit issues the database commit if the transaction is still open. On
// success the connection is released and the state becomes Committed. On a
// non-open state this is a no-op, so a database commit is never issued
// twice. A failed commit leaves the state open; the eviction phase's forced
// rollback is the backstop.
func (s *server) commit(ctx context.Context) error {
	if s.cached.status != StatusOpen {
		return nil
	}
	open := s.cached.open
	if err := open.commit(ctx); err != nil {
		s.logger.Warn("commit failed", zap.Error(err))
		return err
	}
	if err := open.release(); err != nil {
		s.logger.Warn("failed to release connection", zap.Error(err))
	}
	s.settle(ctx, StatusCommitted)
	return nil
}

// rollbackOpen rolls the open transaction back and records the given
// terminal status. A no-op when the state is already terminal.
func (s *server) rollbackOpen(ctx context.Context, terminal Status) error {
	if s.cached.status != StatusOpen {
		return nil
	}
	open := s.cached.open
	if err := open.rollback(ctx); err != nil {
		return err
	}
	if err := open.release(); err != nil {
		s.logger.Warn("failed to release connection", zap.Error(err))
	}
	s.settle(ctx, terminal)
	return nil
}

// abort tears down an open transaction during engine shutdown. The engine
// context is already canceled, so the rollback runs under its own deadline.
func (s *server) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	open := s.cached.open
	if err := open.rollback(ctx); err != nil {
		s.logger.Warn("rollback on shutdown failed", zap.Error(err))
	}
	if err := open.release(); err != nil {
		s.logger.Warn("failed to release connection", zap.Error(err))
	}
	s.settle(ctx, StatusAborted)
}

// settle records the terminal transition.
func (s *server) settle(ctx context.Context, terminal Status) {
	s.cached.finish(terminal)
	s.metrics.transactionClosed(ctx, terminal)
	s.logger.Info("transaction closed", zap.String("state", terminal.String()))
}

// rearm restarts a timer that may or may not have fired or been drained.
func rearm(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
