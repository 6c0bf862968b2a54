package orm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// fakeConns maps DialectOptions["conn"] to the connection a test prepared.
var fakeConns sync.Map

var (
	errFakeUnique = errors.New("UNIQUE constraint failed: users.email")
	errFakeBusy   = errors.New("database is busy")
)

func init() {
	RegisterDialect("fake", &fakeDialect{name: "fake", gen: fakeGenerator()})
	RegisterDialect("fakepg", &fakeDialect{name: "fakepg", gen: fakePGGenerator()})
}

type fakeCall struct {
	query string
	args  []interface{}
	tx    bool
}

// fakeConn records every statement. Query returns queryFn's rows (none by default), Exec
// returns execFn's result or one affected row with an increasing insert id.
type fakeConn struct {
	mu        sync.Mutex
	calls     []fakeCall
	nextID    int
	begins    int
	commits   int
	rollbacks int
	closed    bool
	txOpts    TransactionOptions

	queryFn   func(query string, args []interface{}) (DBRecords, error)
	execFn    func(query string, args []interface{}) (BasicSQLResult, error)
	commitErr error
	pingErr   error
}

func (c *fakeConn) record(query string, args []interface{}, tx bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fakeCall{query: query, args: args, tx: tx})
}

func (c *fakeConn) query(query string, args []interface{}, tx bool) (DBRecords, error) {
	c.record(query, args, tx)
	if c.queryFn != nil {
		return c.queryFn(query, args)
	}
	return nil, nil
}

func (c *fakeConn) exec(query string, args []interface{}, tx bool) (BasicSQLResult, error) {
	c.record(query, args, tx)
	if c.execFn != nil {
		return c.execFn(query, args)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return BasicSQLResult{RowsAffected: 1, LastInsertID: c.nextID}, nil
}

func (c *fakeConn) Query(ctx context.Context, query string, args []interface{}) (DBRecords, error) {
	return c.query(query, args, false)
}

func (c *fakeConn) Exec(ctx context.Context, query string, args []interface{}) (BasicSQLResult, error) {
	return c.exec(query, args, false)
}

func (c *fakeConn) Begin(ctx context.Context, opts TransactionOptions) (TxConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.begins++
	c.txOpts = opts
	return &fakeTx{conn: c}, nil
}

func (c *fakeConn) Ping(ctx context.Context) error { return c.pingErr }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Status(ctx context.Context) (NodeStatusStruct, error) {
	return NodeStatusStruct{StatusStruct: StatusStruct{DBMS: "fake", Version: "1.0", Pool: c.PoolStats()}}, nil
}

func (c *fakeConn) PoolStats() PoolStats {
	return PoolStats{MaxOpen: 4, Open: 1, Idle: 1}
}

// statements returns the recorded SQL in order.
func (c *fakeConn) statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.query
	}
	return out
}

func (c *fakeConn) last() fakeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return fakeCall{}
	}
	return c.calls[len(c.calls)-1]
}

type fakeTx struct {
	conn *fakeConn
}

func (t *fakeTx) Query(ctx context.Context, query string, args []interface{}) (DBRecords, error) {
	return t.conn.query(query, args, true)
}

func (t *fakeTx) Exec(ctx context.Context, query string, args []interface{}) (BasicSQLResult, error) {
	return t.conn.exec(query, args, true)
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.commits++
	return t.conn.commitErr
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.rollbacks++
	return nil
}

type fakeDialect struct {
	name string
	gen  *QueryGenerator
}

func (d *fakeDialect) Name() string               { return d.name }
func (d *fakeDialect) Generator() *QueryGenerator { return d.gen }

func (d *fakeDialect) Open(ctx context.Context, opts *Options) (Connection, error) {
	c, ok := fakeConns.Load(opts.DialectOptions["conn"])
	if !ok {
		return nil, fmt.Errorf("no fake connection %q", opts.DialectOptions["conn"])
	}
	return c.(*fakeConn), nil
}

func (d *fakeDialect) ConvertError(err error) error {
	if errors.Is(err, errFakeUnique) {
		return NewDatabaseError(ErrUniqueConstraint, "2067", err)
	}
	return err
}

func (d *fakeDialect) IsRetryable(err error) bool {
	return errors.Is(err, errFakeBusy)
}

func fakeTypeMapper(t DataType) string {
	switch t.Key {
	case KeyString:
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	case KeyDate:
		return "TIMESTAMP"
	case KeyEnum:
		return "TEXT"
	}
	return t.String()
}

// fakeGenerator renders SQLite flavoured SQL with `?` placeholders.
func fakeGenerator() *QueryGenerator {
	return &QueryGenerator{
		Dialect:    "fake",
		TypeMapper: fakeTypeMapper,
		AutoIncrementColumn: func(a *Attribute) string {
			return "INTEGER PRIMARY KEY AUTOINCREMENT"
		},
		ShowTablesSQL: "SELECT name FROM sqlite_master WHERE type = 'table'",
		DescribeTableSQL: func(schema, table string) (string, []interface{}) {
			return fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdentifier(table)), nil
		},
		DescribeColumns: func(rows DBRecords) map[string]ColumnDescription {
			cols := make(map[string]ColumnDescription, len(rows))
			for _, r := range rows {
				cols[fmt.Sprint(r.Data["name"])] = ColumnDescription{
					Type:       fmt.Sprint(r.Data["type"]),
					AllowNull:  toInt(r.Data["notnull"]) == 0,
					PrimaryKey: toInt(r.Data["pk"]) > 0,
				}
			}
			return cols
		},
		VersionSQL: "SELECT sqlite_version() AS version",
	}
}

// fakePGGenerator renders PostgreSQL flavoured SQL with $n placeholders.
func fakePGGenerator() *QueryGenerator {
	g := fakeGenerator()
	g.Dialect = "fakepg"
	g.Placeholder = func(n int) string { return fmt.Sprintf("$%d", n) }
	g.AutoIncrementColumn = func(a *Attribute) string { return "SERIAL PRIMARY KEY" }
	g.SupportsReturning = true
	g.SupportsILike = true
	g.SupportsCascade = true
	g.SupportsTruncate = true
	g.VersionSQL = "SHOW server_version"
	return g
}

// newTestDB opens an instance on a fresh fakeConn registered under the test name.
func newTestDB(t *testing.T, dialect string, configure func(o *Options)) (*DB, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	key := t.Name()
	fakeConns.Store(key, conn)
	t.Cleanup(func() { fakeConns.Delete(key) })

	opts := NewDefaultOptions(dialect)
	opts.Database = "shop"
	opts.Pool.Evict = 0
	opts.Logging = NewNoopLogger()
	opts.WithDialectOption("conn", key)
	if configure != nil {
		configure(opts)
	}
	db, err := NewWithOptions(*opts)
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, conn
}

// rowsFor answers queries containing a marker with fixed rows.
func rowsFor(answers map[string]DBRecords) func(string, []interface{}) (DBRecords, error) {
	return func(query string, args []interface{}) (DBRecords, error) {
		for marker, rows := range answers {
			if strings.Contains(query, marker) {
				return rows, nil
			}
		}
		return nil, nil
	}
}

func record(data map[string]interface{}) DBRecord {
	return DBRecord{Data: data}
}
