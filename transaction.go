package orm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/medatechnology/sequel/observability"
)

// Transaction states returned by Transaction.Finished.
const (
	TxActive     = ""
	TxCommitted  = "commit"
	TxRolledBack = "rollback"
)

// TransactionOptions configures a transaction. Empty fields fall back to
// Options.IsolationLevel and Options.TransactionType.
type TransactionOptions struct {
	IsolationLevel IsolationLevel
	Type           TransactionType
	ReadOnly       bool
}

// Transaction is a database transaction bound to one DB.
type Transaction struct {
	db    *DB
	id    string
	conn  TxConnection
	opts  TransactionOptions
	start time.Time

	mu          sync.Mutex
	finished    string
	afterCommit []func()
}

type txContextKey struct{}

// WithTransaction returns a context carrying tx. Queries and model operations run with
// that context join the transaction.
func WithTransaction(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TransactionFromContext returns the transaction carried by ctx, or nil.
func TransactionFromContext(ctx context.Context) *Transaction {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txContextKey{}).(*Transaction)
	return tx
}

// BeginTransaction starts an unmanaged transaction. The caller must Commit or Rollback.
func (db *DB) BeginTransaction(ctx context.Context, opts *TransactionOptions) (*Transaction, error) {
	conn, err := db.connection(ctx)
	if err != nil {
		return nil, WrapTransactionError(err, "BEGIN")
	}

	o := TransactionOptions{}
	if opts != nil {
		o = *opts
	}
	if o.IsolationLevel == IsolationDefault {
		o.IsolationLevel = db.opts.IsolationLevel
	}
	if o.Type == "" {
		o.Type = db.opts.TransactionType
	}

	txConn, err := conn.Begin(ctx, o)
	if err != nil {
		return nil, WrapTransactionError(db.convertError(err, "BEGIN"), "BEGIN")
	}
	tx := &Transaction{
		db:    db,
		id:    uuid.NewString(),
		conn:  txConn,
		opts:  o,
		start: time.Now(),
	}
	db.logger.Debug("transaction started",
		String("transaction", tx.id),
		String("isolation", string(o.IsolationLevel)),
		String("type", string(o.Type)),
		Bool("read_only", o.ReadOnly))
	return tx, nil
}

// Transaction runs fn in a managed transaction: it commits when fn returns nil and rolls
// back when fn returns an error or panics (the panic is re-raised). The context passed to
// fn carries the transaction. If ctx already carries a transaction of this DB, fn joins it.
//
//	err := db.Transaction(ctx, func(ctx context.Context, tx *orm.Transaction) error {
//		_, err := users.Create(ctx, map[string]interface{}{"email": "a@b.c"})
//		return err
//	}, nil)
func (db *DB) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error, opts *TransactionOptions) (err error) {
	if outer := TransactionFromContext(ctx); outer != nil && outer.db == db && outer.Finished() == TxActive {
		return fn(ctx, outer)
	}

	tx, err := db.BeginTransaction(ctx, opts)
	if err != nil {
		return err
	}
	txCtx := WithTransaction(ctx, tx)
	if !db.opts.DisableTracing {
		var span trace.Span
		txCtx, span = observability.StartTransactionSpan(txCtx, db.dialect.Name(), db.opts.Database, tx.id)
		defer func() { observability.EndSpan(span, err) }()
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				db.logger.Error("rollback after panic failed", String("transaction", tx.id), Error(rbErr))
			}
			err = fmt.Errorf("panic: %v", p)
			panic(p)
		}
	}()

	if err = fn(txCtx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			db.logger.Error("rollback failed", String("transaction", tx.id), Error(rbErr))
		}
		return err
	}
	return tx.Commit(ctx)
}

// ID is a random UUID identifying the transaction in logs and traces.
func (t *Transaction) ID() string { return t.id }

// Options returns the effective options of the transaction.
func (t *Transaction) Options() TransactionOptions { return t.opts }

// Finished returns TxActive, TxCommitted or TxRolledBack.
func (t *Transaction) Finished() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// AfterCommit registers fn to run after a successful commit.
func (t *Transaction) AfterCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.afterCommit = append(t.afterCommit, fn)
}

// Query runs a statement inside the transaction.
func (t *Transaction) Query(ctx context.Context, query string, opts QueryOptions) (QueryResult, error) {
	opts.Transaction = t
	return t.db.Query(ctx, query, opts)
}

// Commit commits the transaction. A failed commit rolls back.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.finished != TxActive {
		state := t.finished
		t.mu.Unlock()
		return WrapTransactionError(fmt.Errorf("%w: %s", ErrTransactionFinished, state), "COMMIT")
	}
	err := t.conn.Commit(ctx)
	if err != nil {
		if rbErr := t.conn.Rollback(ctx); rbErr != nil {
			t.db.logger.Debug("rollback after failed commit", String("transaction", t.id), Error(rbErr))
		}
		t.finished = TxRolledBack
	} else {
		t.finished = TxCommitted
	}
	hooks := t.afterCommit
	t.afterCommit = nil
	t.mu.Unlock()

	if err != nil {
		t.observe("failed")
		return WrapTransactionError(t.db.convertError(err, "COMMIT"), "COMMIT")
	}
	t.observe(TxCommitted)
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// Rollback aborts the transaction. Rolling back twice is a no-op, after commit it fails.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	switch t.finished {
	case TxRolledBack:
		t.mu.Unlock()
		return nil
	case TxCommitted:
		t.mu.Unlock()
		return WrapTransactionError(fmt.Errorf("%w: %s", ErrTransactionFinished, TxCommitted), "ROLLBACK")
	}
	t.finished = TxRolledBack
	t.afterCommit = nil
	err := t.conn.Rollback(ctx)
	t.mu.Unlock()

	t.observe(TxRolledBack)
	if err != nil {
		return WrapTransactionError(t.db.convertError(err, "ROLLBACK"), "ROLLBACK")
	}
	return nil
}

func (t *Transaction) usable() error {
	if state := t.Finished(); state != TxActive {
		return WrapTransactionError(fmt.Errorf("%w: %s", ErrTransactionFinished, state), "QUERY")
	}
	return nil
}

func (t *Transaction) observe(outcome string) {
	t.db.logger.Debug("transaction finished",
		String("transaction", t.id),
		String("outcome", outcome),
		Duration("elapsed", time.Since(t.start)))
	if !t.db.opts.DisableMetrics {
		observability.ObserveTransaction(t.db.dialect.Name(), outcome)
	}
}
