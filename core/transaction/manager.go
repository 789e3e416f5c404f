package transaction

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/loomdb/loom/core/connector"
	"github.com/loomdb/loom/core/executor"
)

const (
	// DefaultEvictAfter is how long a closed transaction keeps answering
	// with its terminal state before being forgotten. Overridable via
	// ManagerConfig (wired to LOOM_ITX_EVICTION_SECONDS by pkg/config).
	DefaultEvictAfter = 300 * time.Second

	// defaultMailboxCapacity bounds each transaction's inbound queue.
	// Producers block when it is full, which is the backpressure mechanism.
	defaultMailboxCapacity = 100

	// defaultTimeout is the active-phase deadline used when StartOptions
	// does not supply one.
	defaultTimeout = 5 * time.Second
)

// ManagerConfig configures a Manager. Zero values fall back to defaults.
type ManagerConfig struct {
	// EvictAfter is the eviction-phase duration for every transaction.
	EvictAfter time.Duration
	// MailboxCapacity is the per-transaction mailbox size.
	MailboxCapacity int
	// DefaultTimeout is the active-phase deadline applied when a caller
	// does not supply one.
	DefaultTimeout time.Duration

	Logger *zap.Logger
	Meter  metric.Meter
	Tracer trace.Tracer
}

// StartOptions are the per-transaction settings supplied at Start.
type StartOptions struct {
	// ID lets the caller supply its own token. A fresh one is generated
	// when empty.
	ID ID
	// Timeout bounds the active phase. It is a hard deadline measured from
	// Start; executing operations does not renew it.
	Timeout time.Duration

	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// Manager is the process-wide transaction registry. It owns the map from
// transaction id to client handle, spawns one actor per transaction, and
// runs the background reaper that forgets transactions once their actors
// report completion. Construct one Manager at process start and share it.
type Manager struct {
	mu      sync.RWMutex
	clients map[ID]*Client
	closed  bool

	source connector.Acquirer
	exec   executor.Executor
	schema executor.Schema

	evictAfter     time.Duration
	mailboxCap     int
	defaultTimeout time.Duration

	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *Metrics

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan ID
	actors   sync.WaitGroup
	reaperWG sync.WaitGroup
}

// NewManager builds a Manager and starts its reaper.
func NewManager(source connector.Acquirer, exec executor.Executor, schema executor.Schema, cfg ManagerConfig) (*Manager, error) {
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = DefaultEvictAfter
	}
	if cfg.MailboxCapacity <= 0 {
		cfg.MailboxCapacity = defaultMailboxCapacity
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Meter == nil {
		cfg.Meter = metricnoop.NewMeterProvider().Meter("")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracenoop.NewTracerProvider().Tracer("")
	}

	metrics, err := NewMetrics(cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to register transaction metrics: %w", err)
	}

	m := &Manager{
		clients:        make(map[ID]*Client),
		source:         source,
		exec:           exec,
		schema:         schema,
		evictAfter:     cfg.EvictAfter,
		mailboxCap:     cfg.MailboxCapacity,
		defaultTimeout: cfg.DefaultTimeout,
		logger:         cfg.Logger,
		tracer:         cfg.Tracer,
		metrics:        metrics,
		done:           make(chan ID, 16),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.reaperWG.Add(1)
	go m.runReaper()

	return m, nil
}

// runReaper removes a registry entry for every done notice. An actor sends
// its notice only after it has fully stopped, so an entry is never removed
// while the actor could still answer.
func (m *Manager) runReaper() {
	defer m.reaperWG.Done()
	for id := range m.done {
		m.mu.Lock()
		delete(m.clients, id)
		m.mu.Unlock()
		m.logger.Debug("transaction deregistered", zap.String("txn_id", id.String()))
	}
}

// Start opens a new interactive transaction: acquires a connection, begins
// a native transaction on it, spawns the actor, and registers the client
// handle. The returned id is the bearer token for all subsequent calls.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (ID, error) {
	id := opts.ID
	if id == "" {
		id = NewID()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	ctx, span := m.tracer.Start(ctx, "itx.start",
		trace.WithAttributes(attribute.String("txn_id", id.String())))
	defer span.End()

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return "", ErrManagerClosed
	}
	if _, dup := m.clients[id]; dup {
		m.mu.RUnlock()
		return "", fmt.Errorf("%w: %s", ErrAlreadyStarted, id)
	}
	m.mu.RUnlock()

	conn, err := m.source.Acquire(ctx)
	if err != nil {
		return "", err
	}
	otx, err := beginOpenTx(ctx, conn, connector.TxOptions{
		Isolation: opts.Isolation,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return "", err
	}

	mailbox := make(chan request, m.mailboxCap)
	stopped := make(chan struct{})
	srv := &server{
		id:         id,
		cached:     cachedTx{status: StatusOpen, open: otx},
		mailbox:    mailbox,
		stopped:    stopped,
		done:       m.done,
		exec:       m.exec,
		schema:     m.schema,
		timeout:    timeout,
		evictAfter: m.evictAfter,
		logger:     m.logger.With(zap.String("txn_id", id.String())),
		metrics:    m.metrics,
	}
	client := &Client{id: id, mailbox: mailbox, stopped: stopped}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.discard(otx)
		return "", ErrManagerClosed
	}
	if _, dup := m.clients[id]; dup {
		m.mu.Unlock()
		m.discard(otx)
		return "", fmt.Errorf("%w: %s", ErrAlreadyStarted, id)
	}
	m.clients[id] = client
	m.actors.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.actors.Done()
		srv.run(m.ctx)
	}()

	m.metrics.transactionStarted(ctx)
	m.logger.Info("transaction started",
		zap.String("txn_id", id.String()),
		zap.Duration("timeout", timeout))
	return id, nil
}

// discard tears down an OpenTx that lost the registration race.
func (m *Manager) discard(otx *OpenTx) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := otx.rollback(ctx); err != nil {
		m.logger.Warn("failed to roll back unregistered transaction", zap.Error(err))
	}
	if err := otx.release(); err != nil {
		m.logger.Warn("failed to release connection", zap.Error(err))
	}
}

// Execute runs a single operation inside the identified transaction.
func (m *Manager) Execute(ctx context.Context, id ID, op executor.Operation) (*executor.Response, error) {
	ctx, span := m.tracer.Start(ctx, "itx.execute",
		trace.WithAttributes(attribute.String("txn_id", id.String())))
	defer span.End()

	client, err := m.client(id)
	if err != nil {
		return nil, err
	}
	return client.Execute(ctx, op)
}

// ExecuteBatch runs a sequence of operations inside the identified
// transaction.
func (m *Manager) ExecuteBatch(ctx context.Context, id ID, ops []executor.Operation) ([]executor.BatchItem, error) {
	ctx, span := m.tracer.Start(ctx, "itx.execute_batch",
		trace.WithAttributes(attribute.String("txn_id", id.String())))
	defer span.End()

	client, err := m.client(id)
	if err != nil {
		return nil, err
	}
	return client.ExecuteBatch(ctx, ops)
}

// Commit commits the identified transaction.
func (m *Manager) Commit(ctx context.Context, id ID) error {
	ctx, span := m.tracer.Start(ctx, "itx.commit",
		trace.WithAttributes(attribute.String("txn_id", id.String())))
	defer span.End()

	client, err := m.client(id)
	if err != nil {
		return err
	}
	return client.Commit(ctx)
}

// Rollback rolls the identified transaction back.
func (m *Manager) Rollback(ctx context.Context, id ID) error {
	ctx, span := m.tracer.Start(ctx, "itx.rollback",
		trace.WithAttributes(attribute.String("txn_id", id.String())))
	defer span.End()

	client, err := m.client(id)
	if err != nil {
		return err
	}
	return client.Rollback(ctx)
}

// client looks up the handle for an id. After a transaction's eviction
// window, its entry is gone and the id is indistinguishable from one that
// never existed.
func (m *Manager) client(id ID) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// Close shuts the engine down: no new transactions are accepted, every live
// actor is signaled to stop, and transactions still open when the signal
// arrives are rolled back and report Aborted. Close waits for the actors
// and the reaper to finish, bounded by ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	finished := make(chan struct{})
	go func() {
		m.actors.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}

	close(m.done)
	m.reaperWG.Wait()
	m.logger.Info("transaction manager stopped")
	return nil
}
