package orm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/medatechnology/sequel/observability"
)

// QueryType selects how a statement is executed and which QueryResult fields are filled.
type QueryType string

const (
	QuerySelect     QueryType = "SELECT"
	QueryInsert     QueryType = "INSERT"
	QueryUpdate     QueryType = "UPDATE"
	QueryBulkUpdate QueryType = "BULKUPDATE"
	QueryDelete     QueryType = "DELETE"
	QueryBulkDelete QueryType = "BULKDELETE"
	QueryUpsert     QueryType = "UPSERT"
	QueryRaw        QueryType = "RAW"
	QueryShowTables QueryType = "SHOWTABLES"
	QueryDescribe   QueryType = "DESCRIBE"
	QueryVersion    QueryType = "VERSION"
)

// QueryOptions tune a single statement. Replacements and Bind are mutually exclusive.
type QueryOptions struct {
	Type QueryType // inferred from the statement when empty

	// Replacements fill `?` (slice) or `:name` (map) markers.
	Replacements interface{}
	// Bind fills `$1..$n` (slice) or `$name` (map) markers.
	Bind interface{}

	Plain       bool // SELECT returns only the first row, ErrSQLNoRows when there is none
	Transaction *Transaction
	Logging     Logger
	Benchmark   *bool
	Retry       *RetryOptions
	Timeout     time.Duration
}

// QueryResult carries the outcome of a statement. Which fields are set depends on Type:
//
//	SELECT                          Rows
//	INSERT, UPSERT                  RowsAffected, LastInsertID, Rows with RETURNING
//
// Deferred is set for writes a dialect queues until commit (rqlite transactions),
// their RowsAffected and LastInsertID stay zero.
//
//	UPDATE, DELETE and bulk forms   RowsAffected, Rows with RETURNING
//	RAW                             Rows when the statement returns rows, else RowsAffected
//	SHOWTABLES                      Tables
//	DESCRIBE                        Columns
//	VERSION                         Version
type QueryResult struct {
	Type         QueryType
	Rows         DBRecords
	RowsAffected int
	LastInsertID int
	Deferred     bool
	Tables       []string
	Columns      map[string]ColumnDescription
	Version      string
	Timing       time.Duration
}

var returningRegex = regexp.MustCompile(`(?i)\bRETURNING\b`)

// Query runs a statement and shapes the result by query type.
//
//	res, err := db.Query(ctx, "SELECT * FROM users WHERE role = :role", orm.QueryOptions{
//		Replacements: map[string]interface{}{"role": "admin"},
//	})
func (db *DB) Query(ctx context.Context, query string, opts QueryOptions) (QueryResult, error) {
	qt := opts.Type
	if qt == "" {
		qt = InferQueryType(query)
	}
	if opts.Replacements != nil && opts.Bind != nil {
		return QueryResult{}, WrapErrorWithQuery(
			fmt.Errorf("%w: replacements and bind cannot be used together", ErrInvalidReplacement),
			string(qt), "", query)
	}

	var args []interface{}
	var err error
	switch {
	case opts.Replacements != nil:
		query, args, err = db.gen.ApplyReplacements(query, opts.Replacements)
	case opts.Bind != nil:
		query, args, err = db.gen.ApplyBind(query, opts.Bind)
	}
	if err != nil {
		return QueryResult{}, WrapErrorWithQuery(err, string(qt), "", query)
	}

	res, err := db.execute(ctx, qt, query, args, opts)
	if err != nil {
		return res, WrapErrorWithQuery(err, string(qt), "", query)
	}
	if qt == QuerySelect && opts.Plain {
		if len(res.Rows) == 0 {
			return res, WrapErrorWithQuery(ErrSQLNoRows, string(qt), "", query)
		}
		res.Rows = res.Rows[:1]
	}
	return res, nil
}

// Select runs a SELECT and returns its rows.
func (db *DB) Select(ctx context.Context, query string, opts QueryOptions) (DBRecords, error) {
	opts.Type = QuerySelect
	res, err := db.Query(ctx, query, opts)
	return res.Rows, err
}

// SelectOne runs a SELECT that must return exactly one row.
func (db *DB) SelectOne(ctx context.Context, query string, opts QueryOptions) (DBRecord, error) {
	opts.Type = QuerySelect
	opts.Plain = false
	res, err := db.Query(ctx, query, opts)
	if err != nil {
		return DBRecord{}, err
	}
	switch len(res.Rows) {
	case 0:
		return DBRecord{}, WrapErrorWithQuery(ErrSQLNoRows, "SELECT", "", query)
	case 1:
		return res.Rows[0], nil
	}
	return DBRecord{}, WrapErrorWithQuery(ErrSQLMoreThanOneRow, "SELECT", "", query)
}

// Exec runs a statement that returns no rows.
func (db *DB) Exec(ctx context.Context, query string, opts QueryOptions) (BasicSQLResult, error) {
	res, err := db.Query(ctx, query, opts)
	out := BasicSQLResult{
		Error:        err,
		Timing:       res.Timing.Seconds(),
		RowsAffected: res.RowsAffected,
		LastInsertID: res.LastInsertID,
		Deferred:     res.Deferred,
	}
	return out, err
}

// QueryInto runs a SELECT and maps every row onto T.
//
//	users, err := orm.QueryInto[User](ctx, db, "SELECT * FROM users", orm.QueryOptions{})
func QueryInto[T any](ctx context.Context, db *DB, query string, opts QueryOptions) ([]T, error) {
	rows, err := db.Select(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return RecordsToStructs[T](rows), nil
}

// InferQueryType guesses the type from the leading keyword of the statement.
func InferQueryType(query string) QueryType {
	switch leadingKeyword(query) {
	case "SELECT", "WITH":
		return QuerySelect
	case "INSERT":
		upper := strings.ToUpper(query)
		if strings.Contains(upper, "ON CONFLICT") || strings.Contains(upper, "ON DUPLICATE KEY") {
			return QueryUpsert
		}
		return QueryInsert
	case "REPLACE", "UPSERT":
		return QueryUpsert
	case "UPDATE":
		return QueryUpdate
	case "DELETE":
		return QueryDelete
	}
	return QueryRaw
}

// leadingKeyword returns the first word of the statement, upper cased, skipping comments.
func leadingKeyword(query string) string {
	for _, chunk := range splitSQL(query) {
		if chunk.literal {
			if strings.HasPrefix(chunk.text, "--") || strings.HasPrefix(chunk.text, "/*") {
				continue
			}
			return ""
		}
		text := strings.TrimLeft(chunk.text, " \t\r\n(")
		if text == "" {
			continue
		}
		end := strings.IndexFunc(text, func(r rune) bool {
			return !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
		})
		if end < 0 {
			end = len(text)
		}
		return strings.ToUpper(text[:end])
	}
	return ""
}

// returnsRows reports whether the statement must go through Executor.Query.
func returnsRows(qt QueryType, query string) bool {
	switch qt {
	case QuerySelect, QueryShowTables, QueryDescribe, QueryVersion:
		return true
	case QueryRaw:
		switch leadingKeyword(query) {
		case "SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "VALUES", "TABLE":
			return true
		}
	}
	for _, chunk := range splitSQL(query) {
		if !chunk.literal && returningRegex.MatchString(chunk.text) {
			return true
		}
	}
	return false
}

// execute runs an already bound statement on the transaction in opts or ctx, or on the
// pool. Retries only happen outside transactions.
func (db *DB) execute(ctx context.Context, qt QueryType, query string, args []interface{}, opts QueryOptions) (QueryResult, error) {
	tx := opts.Transaction
	if tx == nil {
		if ctxTx := TransactionFromContext(ctx); ctxTx != nil && ctxTx.db == db {
			tx = ctxTx
		}
	}

	var exec Executor
	if tx != nil {
		if err := tx.usable(); err != nil {
			return QueryResult{Type: qt}, err
		}
		exec = tx.conn
	} else {
		conn, err := db.connection(ctx)
		if err != nil {
			return QueryResult{Type: qt}, err
		}
		exec = conn
	}

	logger := db.logger
	if opts.Logging != nil {
		logger = opts.Logging
	}
	benchmark := db.opts.Benchmark
	if opts.Benchmark != nil {
		benchmark = *opts.Benchmark
	}
	timeout := db.opts.QueryTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	retry := db.opts.Retry
	if opts.Retry != nil {
		retry = *opts.Retry
	}

	var span trace.Span
	if !db.opts.DisableTracing {
		ctx, span = observability.StartQuerySpan(ctx, db.dialect.Name(), db.opts.Database, string(qt), query)
	}

	attempt := func() (QueryResult, error) {
		qctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return db.run(qctx, exec, qt, query, args)
	}

	start := time.Now()
	var res QueryResult
	var err error
	if tx != nil || retry.Max <= 0 {
		res, err = attempt()
	} else {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = retry.InitialInterval
		b.MaxInterval = retry.MaxInterval
		tries := 0
		err = backoff.Retry(func() error {
			r, e := attempt()
			if e == nil {
				res = r
				return nil
			}
			if !db.shouldRetry(e, retry) {
				return backoff.Permanent(e)
			}
			tries++
			if tries <= retry.Max {
				logger.Warn("retrying statement", String("type", string(qt)), Int("attempt", tries), Error(e))
				if !db.opts.DisableMetrics {
					observability.ObserveRetry(db.dialect.Name())
				}
			}
			return e
		}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retry.Max)), ctx))
	}
	elapsed := time.Since(start)
	res.Type = qt
	res.Timing = elapsed

	if err != nil {
		err = db.convertError(err, query)
	}

	if !db.opts.DisableMetrics {
		observability.ObserveQuery(db.dialect.Name(), string(qt), elapsed, err)
	}
	if span != nil {
		observability.EndSpan(span, err, attribute.Int("db.rows_affected", res.RowsAffected))
	}

	fields := []Field{String("type", string(qt)), String("sql", query), Int("args", len(args))}
	if tx != nil {
		fields = append(fields, String("transaction", tx.id))
	}
	if benchmark {
		fields = append(fields, Duration("elapsed", elapsed))
	}
	if err != nil {
		logger.Error("statement failed", append(fields, Error(err))...)
		return res, err
	}
	logger.Debug("statement executed", fields...)
	return res, nil
}

// run executes once and shapes the result.
func (db *DB) run(ctx context.Context, exec Executor, qt QueryType, query string, args []interface{}) (QueryResult, error) {
	res := QueryResult{Type: qt}
	if returnsRows(qt, query) {
		rows, err := exec.Query(ctx, query, args)
		if err != nil {
			return res, err
		}
		res.Rows = rows
		switch qt {
		case QueryInsert, QueryUpsert, QueryUpdate, QueryBulkUpdate, QueryDelete, QueryBulkDelete:
			res.RowsAffected = len(rows)
		case QueryShowTables:
			res.Tables = tableNames(rows)
		case QueryDescribe:
			if db.gen.DescribeColumns != nil {
				res.Columns = db.gen.DescribeColumns(rows)
			}
		case QueryVersion:
			if len(rows) > 0 {
				res.Version = fmt.Sprint(columnValue(rows[0], "version", "server_version"))
			}
		}
		return res, nil
	}

	r, err := exec.Exec(ctx, query, args)
	if err == nil {
		err = r.Error
	}
	if err != nil {
		return res, err
	}
	res.RowsAffected = r.RowsAffected
	res.LastInsertID = r.LastInsertID
	res.Deferred = r.Deferred
	return res, nil
}

// shouldRetry matches the raw error against Retry.Match and the dialect classification.
func (db *DB) shouldRetry(err error, retry RetryOptions) bool {
	if errors.Is(err, context.Canceled) || IsORMError(err) {
		return false
	}
	msg := err.Error()
	for _, m := range retry.Match {
		if m != "" && strings.Contains(msg, m) {
			return true
		}
	}
	return db.dialect.IsRetryable(err)
}

func (db *DB) convertError(err error, query string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &DatabaseError{Kind: ErrTimeout, SQL: query, Err: err}
	}
	converted := db.dialect.ConvertError(err)
	var dbErr *DatabaseError
	if errors.As(converted, &dbErr) && dbErr.SQL == "" {
		dbErr.SQL = query
	}
	return converted
}

// tableNames takes the table name column of every row.
func tableNames(rows DBRecords) []string {
	tables := make([]string, 0, len(rows))
	for _, r := range rows {
		if v := columnValue(r, "table_name", "name", "tbl_name"); v != nil {
			tables = append(tables, fmt.Sprint(v))
		}
	}
	return tables
}

// columnValue returns the only column of rec, or the first of names that exists.
func columnValue(rec DBRecord, names ...string) interface{} {
	if len(rec.Data) == 1 {
		for _, v := range rec.Data {
			return v
		}
	}
	for _, n := range names {
		if v, ok := rec.Data[n]; ok {
			return v
		}
	}
	return nil
}

// toInt converts the numeric shapes drivers return into an int.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	case []byte:
		i, _ := strconv.Atoi(string(n))
		return i
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}
