// loom_tx_probe is a manual end-to-end harness for the interactive
// transaction engine. It opens a MySQL DSN, starts a batch of concurrent
// interactive transactions, pushes rate-limited statements through each,
// and commits them. Use it to eyeball engine behavior against a real
// database; the unit tests cover the semantics.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/loomdb/loom/core/connector"
	"github.com/loomdb/loom/core/executor"
	"github.com/loomdb/loom/core/transaction"
	"github.com/loomdb/loom/pkg/config"
	"github.com/loomdb/loom/pkg/logger"
	"github.com/loomdb/loom/pkg/telemetry"
)

// rawSQLExecutor is the harness stand-in for the query-execution core: it
// treats the operation payload as a literal SQL statement.
type rawSQLExecutor struct{}

func (rawSQLExecutor) ExecuteOne(ctx context.Context, _ executor.Schema, q connector.Queryable, op executor.Operation) (*executor.Response, error) {
	var stmt string
	if err := json.Unmarshal(op.Args, &stmt); err != nil {
		return nil, fmt.Errorf("operation %q payload is not a SQL string: %w", op.Name, err)
	}
	res, err := q.ExecContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	data, _ := json.Marshal(map[string]int64{"rows_affected": affected})
	return &executor.Response{Data: data}, nil
}

func (e rawSQLExecutor) ExecuteMany(ctx context.Context, schema executor.Schema, q connector.Queryable, ops []executor.Operation) ([]executor.BatchItem, error) {
	items := make([]executor.BatchItem, 0, len(ops))
	for _, op := range ops {
		resp, err := e.ExecuteOne(ctx, schema, q, op)
		items = append(items, executor.BatchItem{Response: resp, Err: err})
	}
	return items, nil
}

func sqlOp(stmt string) executor.Operation {
	args, _ := json.Marshal(stmt)
	return executor.Operation{Name: "rawSQL", Args: args}
}

func main() {
	dsn := flag.String("dsn", os.Getenv("LOOM_PROBE_DSN"), "MySQL DSN to probe against")
	txns := flag.Int("txns", 2, "number of concurrent transactions")
	ops := flag.Int("ops", 10, "operations per transaction")
	opsPerSec := flag.Float64("rate", 50, "operation rate limit per transaction")
	timeout := flag.Duration("timeout", 30*time.Second, "active-phase timeout per transaction")
	flag.Parse()

	// .env is optional; flags and real env win.
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *dsn == "" {
		log.Fatal("no DSN given; pass -dsn or set LOOM_PROBE_DSN")
	}

	tel, telShutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		log.Fatal("failed to initialize telemetry", zap.Error(err))
	}

	db, err := sql.Open("mysql", *dsn)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	db.SetMaxOpenConns(*txns + 2)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("database unreachable", zap.Error(err))
	}

	pool := connector.NewPool(db, connector.PoolConfig{
		AcquireTimeout: cfg.ITX.AcquireTimeout,
		Logger:         log,
	})
	mgr, err := transaction.NewManager(pool, rawSQLExecutor{}, nil, transaction.ManagerConfig{
		EvictAfter:      cfg.ITX.EvictAfter,
		MailboxCapacity: cfg.ITX.MailboxCapacity,
		DefaultTimeout:  cfg.ITX.DefaultTimeout,
		Logger:          log,
		Meter:           tel.Meter,
		Tracer:          tel.Tracer,
	})
	if err != nil {
		log.Fatal("failed to build transaction manager", zap.Error(err))
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *txns; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			probeOneTransaction(ctx, log.With(zap.Int("probe", n)), mgr, *ops, *opsPerSec, *timeout)
		}(i)
	}
	wg.Wait()
	log.Info("probe finished",
		zap.Int("transactions", *txns),
		zap.Int("ops_per_transaction", *ops),
		zap.Duration("elapsed", time.Since(start)))

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := mgr.Close(shutdownCtx); err != nil {
		log.Warn("manager shutdown incomplete", zap.Error(err))
	}
	if err := telShutdown(shutdownCtx); err != nil {
		log.Warn("telemetry shutdown incomplete", zap.Error(err))
	}
	if err := pool.Close(); err != nil {
		log.Warn("pool close failed", zap.Error(err))
	}
}

func probeOneTransaction(ctx context.Context, log *zap.Logger, mgr *transaction.Manager, ops int, opsPerSec float64, timeout time.Duration) {
	id, err := mgr.Start(ctx, transaction.StartOptions{Timeout: timeout})
	if err != nil {
		log.Error("failed to start transaction", zap.Error(err))
		return
	}
	log.Info("transaction started", zap.String("txn_id", id.String()))

	limiter := rate.NewLimiter(rate.Limit(opsPerSec), 1)
	for i := 0; i < ops; i++ {
		if err := limiter.Wait(ctx); err != nil {
			log.Error("rate limiter interrupted", zap.Error(err))
			break
		}
		if _, err := mgr.Execute(ctx, id, sqlOp("SELECT 1")); err != nil {
			log.Error("operation failed", zap.Int("op", i), zap.Error(err))
			break
		}
	}

	if err := mgr.Commit(ctx, id); err != nil {
		log.Error("commit failed", zap.Error(err))
		return
	}
	log.Info("transaction committed", zap.String("txn_id", id.String()))
}
