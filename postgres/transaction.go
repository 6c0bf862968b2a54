package postgres

import (
	"context"
	"database/sql"
	"errors"

	orm "github.com/medatechnology/sequel"
)

// Tx is a PostgreSQL transaction. It implements orm.TxConnection.
type Tx struct {
	tx *sql.Tx
}

// Query runs a statement returning rows inside the transaction.
func (t *Tx) Query(ctx context.Context, query string, args []interface{}) (orm.DBRecords, error) {
	return queryRecords(ctx, t.tx, query, args)
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args []interface{}) (orm.BasicSQLResult, error) {
	return execResult(ctx, t.tx, query, args)
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

// Rollback aborts the transaction. Rolling back a finished transaction is not an error.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
