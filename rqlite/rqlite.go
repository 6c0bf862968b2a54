// Package rqlite is the rqlite dialect, built on gorqlite. Importing it registers the
// dialect under the name "rqlite":
//
//	import _ "github.com/medatechnology/sequel/rqlite"
//
// rqlite is a distributed database speaking SQLite over HTTP. Every statement is
// its own request, transactions are buffered client side and sent as one atomic
// request on Commit.
package rqlite

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/medatechnology/goutil/simplelog"
	"github.com/rqlite/gorqlite"

	orm "github.com/medatechnology/sequel"
)

// DialectName is the name the dialect registers under.
const DialectName = "rqlite"

func init() {
	orm.RegisterDialect(DialectName, Dialect{})
}

var generator = NewGenerator()

// Dialect implements orm.Dialect for rqlite.
type Dialect struct{}

func (Dialect) Name() string { return DialectName }
func (Dialect) Generator() *orm.QueryGenerator { return generator }
func (Dialect) ConvertError(err error) error { return ConvertError(err) }
func (Dialect) IsRetryable(err error) bool { return IsRetryable(err) }
func (Dialect) Open(ctx context.Context, opts *orm.Options) (orm.Connection, error) {
	return Connect(ctx, ConfigFromOptions(opts))
}

// Conn is a connection to an rqlite cluster. It implements orm.Connection.
type Conn struct {
	conn   *gorqlite.Connection
	status *statusClient
	config *Config

	mu     sync.RWMutex
	closed bool
}

// Connect opens a gorqlite connection and checks that the node is ready.
func Connect(ctx context.Context, config *Config) (*Conn, error) {
	cfg := config.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := gorqlite.Open(cfg.ToURL())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRQLiteConnectionFailed, err)
	}
	if cfg.Consistency != "" {
		level, err := gorqlite.ParseConsistencyLevel(cfg.Consistency)
		if err == nil {
			conn.SetConsistencyLevel(level)
		}
	}

	c := &Conn{conn: conn, status: newStatusClient(cfg), config: cfg}
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Config returns the configuration the connection was opened with.
func (c *Conn) Config() Config { return *c.config }

func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Query runs a statement that returns rows.
func (c *Conn) Query(ctx context.Context, query string, args []interface{}) (orm.DBRecords, error) {
	if c.isClosed() {
		return nil, ErrRQLiteNotConnected
	}
	qr, err := c.conn.QueryOneParameterizedContext(ctx, toStatement(query, args))
	if qr.Err != nil {
		// the statement error, err only counts the failed statements
		err = qr.Err
	}
	if err != nil {
		return nil, WrapRQLiteError(err, "query", query)
	}
	return queryResultToRecords(&qr, getTableNameFromSQL(query))
}

// Exec runs a statement that returns no rows.
func (c *Conn) Exec(ctx context.Context, query string, args []interface{}) (orm.BasicSQLResult, error) {
	if c.isClosed() {
		return orm.BasicSQLResult{Error: ErrRQLiteNotConnected}, ErrRQLiteNotConnected
	}
	wr, err := c.conn.WriteOneParameterizedContext(ctx, toStatement(query, args))
	res := writeResultToBasicSQLResult(wr)
	if wr.Err != nil {
		err = wr.Err
	}
	if err != nil {
		err = WrapRQLiteError(err, "write", query)
		res.Error = err
		return res, err
	}
	return res, nil
}

// ExecMany sends the statements as one atomic request.
func (c *Conn) ExecMany(ctx context.Context, statements []orm.ParametereizedSQL) ([]orm.BasicSQLResult, error) {
	if c.isClosed() {
		return nil, ErrRQLiteNotConnected
	}
	wrs, err := c.conn.WriteParameterizedContext(ctx, toStatements(statements))
	results := writeResultsToBasicSQLResults(wrs)
	if err != nil {
		for _, r := range results {
			// report the statement that failed rather than the generic request error
			if r.Error != nil {
				return results, WrapRQLiteError(r.Error, "write", "")
			}
		}
		return results, WrapRQLiteError(err, "write", "")
	}
	return results, nil
}

// Begin starts a buffered transaction. rqlite runs every request serialized
// through the raft log, so the isolation level and transaction type are not used.
func (c *Conn) Begin(ctx context.Context, opts orm.TransactionOptions) (orm.TxConnection, error) {
	if c.isClosed() {
		return nil, ErrRQLiteNotConnected
	}
	return &Tx{conn: c, readOnly: opts.ReadOnly}, nil
}

// Ping checks /readyz of the configured node, which fails while the cluster has no
// leader.
func (c *Conn) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrRQLiteNotConnected
	}
	if err := c.status.ready(ctx); err != nil {
		if IsConnectionError(err) || IsAuthenticationError(err) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrRQLiteNodeUnavailable, err)
	}
	return nil
}

// Close closes the connection. Closing twice is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.conn.Close()
	c.status.close()
	return nil
}

// PoolStats reports the configured pool size. rqlite pools its SQLite connections on
// the server, the client keeps no pool of its own.
func (c *Conn) PoolStats() orm.PoolStats {
	return orm.PoolStats{MaxOpen: c.config.MaxPool}
}

// Leader returns the address of the cluster leader.
func (c *Conn) Leader(ctx context.Context) (string, error) {
	return c.conn.Leader()
}

// Peers returns the addresses of all nodes of the cluster.
func (c *Conn) Peers(ctx context.Context) ([]string, error) {
	return c.conn.Peers()
}

// Status reads /status of the configured node and completes the leader and peers
// with what gorqlite knows about the cluster.
func (c *Conn) Status(ctx context.Context) (orm.NodeStatusStruct, error) {
	if c.isClosed() {
		return orm.NodeStatusStruct{}, ErrRQLiteNotConnected
	}
	raw, err := c.status.getJSON(ctx, ENDPOINT_STATUS, nil)
	if err != nil {
		return orm.NodeStatusStruct{}, err
	}
	st, err := GetStatusInfoFromResponse(raw)
	if err != nil {
		return st, err
	}
	if st.URL == "" {
		st.URL = c.config.BaseURL()
	}
	if st.MaxPool == 0 {
		st.MaxPool = c.config.MaxPool
	}
	st.Pool = c.PoolStats()

	if st.Leader == "" {
		leader, err := c.conn.Leader()
		if err != nil {
			simplelog.LogErr(err, "error getting leader")
		} else {
			st.Leader = leader
		}
	}
	if len(st.Peers) <= 1 {
		if raw, err := c.status.getJSON(ctx, ENDPOINT_NODES, nil); err != nil {
			simplelog.LogErr(err, "error getting nodes")
		} else if peers := GetPeersFromNodesResponse(raw); len(peers) > len(st.Peers) {
			st.Peers = peers
			st.Nodes = len(peers)
		}
	}
	if len(st.Peers) <= 1 {
		peers, err := c.conn.Peers()
		if err != nil {
			simplelog.LogErr(err, "error getting peers")
		} else if len(peers) > len(st.Peers) {
			st.Peers = make(map[int]orm.StatusStruct, len(peers))
			for i, addr := range peers {
				st.Peers[i+1] = orm.StatusStruct{
					URL:        addr,
					DBMS:       st.DBMS,
					DBMSDriver: st.DBMSDriver,
					NodeNumber: i + 1,
					IsLeader:   addr == st.Leader,
				}
			}
			st.Nodes = len(peers)
		}
	}
	return st, nil
}

// GetSchema lists the objects of sqlite_master. hideSQLite drops SQLite's internal
// tables, hideApp the ones whose name starts with "_".
func (c *Conn) GetSchema(ctx context.Context, hideSQLite, hideApp bool) ([]orm.SchemaStruct, error) {
	records, err := c.Query(ctx, "SELECT * FROM "+SCHEMA_TABLE+" ORDER BY type, tbl_name, name", nil)
	if err != nil {
		return nil, err
	}
	schemas := make([]orm.SchemaStruct, 0, len(records))
	for _, r := range records {
		var schema orm.SchemaStruct
		schema.ObjectType, _ = r.Data["type"].(string)
		schema.ObjectName, _ = r.Data["name"].(string)
		schema.TableName, _ = r.Data["tbl_name"].(string)
		schema.SQLCommand, _ = r.Data["sql"].(string)
		if page, ok := r.Data["rootpage"].(int64); ok {
			schema.RootPage = int(page)
		}
		if (hideSQLite && strings.HasPrefix(schema.TableName, PREFIX_SQLITE_TABLE)) ||
			(hideApp && strings.HasPrefix(schema.TableName, PREFIX_APP_TABLE)) {
			continue
		}
		schemas = append(schemas, schema)
	}
	return schemas, nil
}
