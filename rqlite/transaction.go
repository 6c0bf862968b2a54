package rqlite

import (
	"context"
	"fmt"
	"sync"

	orm "github.com/medatechnology/sequel"
)

// Tx is an rqlite transaction. rqlite has no server side transaction state: writes
// are buffered and sent in a single atomic request on Commit, reads go straight to
// the cluster and do not see the buffered writes.
type Tx struct {
	conn     *Conn
	readOnly bool

	mu         sync.Mutex
	statements []orm.ParametereizedSQL
	done       bool
}

// Query runs a read against the cluster. Writes, RETURNING included, are rejected:
// they would run at once instead of with the buffered batch.
func (t *Tx) Query(ctx context.Context, query string, args []interface{}) (orm.DBRecords, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if !isReadStatement(query) {
		return nil, ErrRQLiteWriteInTxQuery
	}
	return t.conn.Query(ctx, query, args)
}

// Exec buffers a write. The result is empty until the transaction commits.
func (t *Tx) Exec(ctx context.Context, query string, args []interface{}) (orm.BasicSQLResult, error) {
	if t.readOnly && !isReadStatement(query) {
		return orm.BasicSQLResult{Error: ErrRQLiteReadOnlyTx}, ErrRQLiteReadOnlyTx
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return orm.BasicSQLResult{Error: orm.ErrTransactionFinished}, orm.ErrTransactionFinished
	}
	t.statements = append(t.statements, orm.ParametereizedSQL{Query: query, Values: args})
	return orm.BasicSQLResult{Deferred: true}, nil
}

// Pending returns the number of buffered statements.
func (t *Tx) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.statements)
}

// Commit sends the buffered writes in one request, all of them apply or none does.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return orm.ErrTransactionFinished
	}
	t.done = true
	if len(t.statements) == 0 {
		return nil
	}
	statements := t.statements
	t.statements = nil
	if _, err := t.conn.ExecMany(ctx, statements); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback discards the buffered writes. Rolling back a finished transaction is not
// an error.
func (t *Tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.statements = nil
	return nil
}

func (t *Tx) checkOpen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return orm.ErrTransactionFinished
	}
	return nil
}
