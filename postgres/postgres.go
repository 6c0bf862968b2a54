// Package postgres is the PostgreSQL dialect. Importing it registers the dialect
// under the name "postgres":
//
//	import _ "github.com/medatechnology/sequel/postgres"
//
// The default driver is lib/pq. Options.DialectModule "pgx" switches to pgx's
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	orm "github.com/medatechnology/sequel"
)

// DialectName is the name the dialect registers under.
const DialectName = "postgres"

func init() {
	orm.RegisterDialect(DialectName, Dialect{})
}

var generator = NewGenerator()

// Dialect implements orm.Dialect for PostgreSQL.
type Dialect struct{}

func (Dialect) Name() string { return DialectName }
func (Dialect) Generator() *orm.QueryGenerator { return generator }
func (Dialect) ConvertError(err error) error { return ConvertError(err) }
func (Dialect) IsRetryable(err error) bool { return IsRetryable(err) }
func (Dialect) Open(ctx context.Context, opts *orm.Options) (orm.Connection, error) {
	return Connect(ctx, ConfigFromOptions(opts))
}

// Conn is a pooled PostgreSQL connection. It implements orm.Connection.
type Conn struct {
	db     *sql.DB
	config *Config
}

// Connect opens the pool described by config and pings the server.
func Connect(ctx context.Context, config *Config) (*Conn, error) {
	cfg := config.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dsn, err := cfg.ToKeywordDSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DriverName, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Conn{db: db, config: cfg}, nil
}

// DB exposes the underlying pool.
func (c *Conn) DB() *sql.DB { return c.db }

// acquire checks a connection out of the pool, waiting at most AcquireTimeout.
func (c *Conn) acquire(ctx context.Context) (*sql.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, c.config.AcquireTimeout)
	defer cancel()
	sc, err := c.db.Conn(actx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, orm.NewDatabaseError(orm.ErrTimeout, "",
				fmt.Errorf("no pooled connection available after %s: %w", c.config.AcquireTimeout, err))
		}
		return nil, err
	}
	return sc, nil
}

// Query runs a statement that returns rows.
func (c *Conn) Query(ctx context.Context, query string, args []interface{}) (orm.DBRecords, error) {
	sc, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sc.Close()
	return queryRecords(ctx, sc, query, args)
}

// Exec runs a statement that returns no rows.
func (c *Conn) Exec(ctx context.Context, query string, args []interface{}) (orm.BasicSQLResult, error) {
	sc, err := c.acquire(ctx)
	if err != nil {
		return orm.BasicSQLResult{Error: err}, err
	}
	defer sc.Close()
	return execResult(ctx, sc, query, args)
}

// Begin starts a transaction with the requested isolation level and access mode.
func (c *Conn) Begin(ctx context.Context, opts orm.TransactionOptions) (orm.TxConnection, error) {
	level, err := isolationLevel(opts.IsolationLevel)
	if err != nil {
		return nil, err
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: level, ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Ping verifies the server is reachable.
func (c *Conn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the pool.
func (c *Conn) Close() error {
	return c.db.Close()
}

// PoolStats reports database/sql pool statistics.
func (c *Conn) PoolStats() orm.PoolStats {
	s := c.db.Stats()
	return orm.PoolStats{
		MaxOpen:      s.MaxOpenConnections,
		Open:         s.OpenConnections,
		InUse:        s.InUse,
		Idle:         s.Idle,
		WaitCount:    s.WaitCount,
		MaxIdleClose: s.MaxIdleClosed + s.MaxIdleTimeClosed,
	}
}

const statusSQL = `SELECT version() AS version, current_database() AS database, ` +
	`pg_postmaster_start_time() AS start_time, pg_database_size(current_database()) AS db_size, ` +
	`pg_is_in_recovery() AS in_recovery`

// Status reports the server version, uptime and size of the current database. A single
// PostgreSQL server is its own leader.
func (c *Conn) Status(ctx context.Context) (orm.NodeStatusStruct, error) {
	var st orm.NodeStatusStruct
	st.DBMS = "postgresql"
	st.DBMSDriver = c.driverLabel()
	st.URL = fmt.Sprintf("postgres://%s@%s:%d/%s", c.config.User, c.config.Host, c.config.Port, c.config.DBName)
	st.NodeID = fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	st.MaxPool = c.config.MaxOpenConns
	st.Pool = c.PoolStats()

	var (
		version, database string
		start             time.Time
		size              int64
		inRecovery        bool
	)
	err := c.db.QueryRowContext(ctx, statusSQL).Scan(&version, &database, &start, &size, &inRecovery)
	if err != nil {
		return st, fmt.Errorf("failed to read server status: %w", err)
	}
	st.Version = version
	st.Database = database
	st.StartTime = start
	st.Uptime = time.Since(start)
	st.DBSize = size
	st.Nodes = 1
	st.NodeNumber = 1
	st.IsLeader = !inRecovery
	st.Mode = "rw"
	if inRecovery {
		st.Mode = "r"
	} else {
		st.Leader = st.URL
	}
	st.Peers = map[int]orm.StatusStruct{1: st.StatusStruct}
	return st, nil
}

func (c *Conn) driverLabel() string {
	if c.config.DriverName == DriverPGX {
		return "pgx"
	}
	return "lib/pq"
}

// querier is the part of *sql.Conn and *sql.Tx the statements need.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func queryRecords(ctx context.Context, q querier, query string, args []interface{}) (orm.DBRecords, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func execResult(ctx context.Context, q querier, query string, args []interface{}) (orm.BasicSQLResult, error) {
	start := time.Now()
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return orm.BasicSQLResult{Error: err, Timing: time.Since(start).Seconds()}, err
	}
	affected, _ := res.RowsAffected()
	// PostgreSQL has no last insert id; RETURNING is used instead
	return orm.BasicSQLResult{
		RowsAffected: int(affected),
		Timing:       time.Since(start).Seconds(),
	}, nil
}

func isolationLevel(level orm.IsolationLevel) (sql.IsolationLevel, error) {
	switch level {
	case orm.IsolationDefault:
		return sql.LevelDefault, nil
	case orm.IsolationReadUncommitted:
		return sql.LevelReadUncommitted, nil
	case orm.IsolationReadCommitted:
		return sql.LevelReadCommitted, nil
	case orm.IsolationRepeatableRead:
		return sql.LevelRepeatableRead, nil
	case orm.IsolationSerializable:
		return sql.LevelSerializable, nil
	}
	return sql.LevelDefault, fmt.Errorf("%w: isolation level %q", orm.ErrInvalidOptions, level)
}
