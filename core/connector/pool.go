package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrAcquireTimeout is returned when a connection could not be checked out
// of the pool within the configured acquisition timeout.
var ErrAcquireTimeout = errors.New("timed out acquiring a connection from the pool")

const defaultAcquireTimeout = 10 * time.Second

// Pool hands out exclusively-owned connections from a *sql.DB. The database/
// sql pool does the actual connection management; Pool bounds how long an
// acquisition may wait and normalizes the timeout error.
type Pool struct {
	db             *sql.DB
	acquireTimeout time.Duration
	logger         *zap.Logger
}

// PoolConfig configures a Pool. Zero values fall back to defaults.
type PoolConfig struct {
	// AcquireTimeout bounds how long Acquire waits for a free connection.
	AcquireTimeout time.Duration
	Logger         *zap.Logger
}

// NewPool wraps an opened *sql.DB. Connection limits (max open, max idle,
// lifetimes) are configured on the *sql.DB by the caller.
func NewPool(db *sql.DB, cfg PoolConfig) *Pool {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pool{
		db:             db,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         cfg.Logger,
	}
}

// Acquire checks a connection out of the pool. The returned connection is
// exclusively owned by the caller until Release.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	conn, err := p.db.Conn(acquireCtx)
	if err != nil {
		// Distinguish our own acquisition deadline from a caller cancellation.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			p.logger.Warn("connection acquisition timed out",
				zap.Duration("acquire_timeout", p.acquireTimeout))
			return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, p.acquireTimeout)
		}
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return NewSQLConn(conn), nil
}

// Close closes the underlying *sql.DB and every idle connection in it.
func (p *Pool) Close() error {
	return p.db.Close()
}
