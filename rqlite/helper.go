package rqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/medatechnology/goutil/object"
	"github.com/medatechnology/goutil/simplelog"
	"github.com/rqlite/gorqlite"

	orm "github.com/medatechnology/sequel"
)

// gorqlite covers /db/query and /db/execute. The node status is not part of its API,
// so statusClient reads it from the HTTP endpoints directly.
type statusClient struct {
	config *Config
	http   *http.Client
}

func newStatusClient(cfg *Config) *statusClient {
	return &statusClient{
		config: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   cfg.Timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConns:        2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// buildURL creates a complete URL for an endpoint of the configured node
func (s *statusClient) buildURL(endpoint string, params url.Values) string {
	if len(params) == 0 {
		return s.config.BaseURL() + endpoint
	}
	return s.config.BaseURL() + endpoint + "?" + params.Encode()
}

// get sends a GET request and returns the body. Transient failures are retried with
// a constant backoff, authentication failures are not.
func (s *statusClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	target := s.buildURL(endpoint, params)
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if s.config.Username != "" || s.config.Password != "" {
			req.SetBasicAuth(s.config.Username, s.config.Password)
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRQLiteConnectionFailed, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(WrapRQLiteHTTPError(ErrRQLiteUnauthorized, endpoint, resp.StatusCode))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return WrapRQLiteHTTPError(fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, strings.TrimSpace(string(raw))), endpoint, resp.StatusCode)
		}
		body = raw
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(DEFAULT_RETRY_TIMEOUT), uint64(s.config.RetryCount-1)),
		ctx)
	notify := func(err error, wait time.Duration) {
		simplelog.LogErr(err, "rqlite "+endpoint+" request failed, retrying in "+wait.String())
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

// getJSON sends a GET request and decodes the JSON object it returns.
func (s *statusClient) getJSON(ctx context.Context, endpoint string, params url.Values) (map[string]interface{}, error) {
	raw, err := s.get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	body := make(map[string]interface{})
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRQLiteInvalidJSON, err)
	}
	return body, nil
}

// ready asks the node whether it can serve requests, a leader included.
func (s *statusClient) ready(ctx context.Context) error {
	_, err := s.get(ctx, ENDPOINT_READY, nil)
	return err
}

func (s *statusClient) close() {
	s.http.CloseIdleConnections()
}

// GetStatusInfoFromResponse picks the fields the ORM reports out of the (long)
// JSON document rqlite serves on /status.
func GetStatusInfoFromResponse(raw map[string]interface{}) (orm.NodeStatusStruct, error) {
	layout := time.RFC3339Nano
	info := orm.NodeStatusStruct{}
	info.Peers = make(map[int]orm.StatusStruct)
	info.DBMS = "rqlite"
	info.DBMSDriver = "gorqlite"
	info.Mode = "rw"

	if build, ok := raw["build"].(map[string]interface{}); ok {
		if version, ok := build["version"].(string); ok {
			info.Version = version
		}
	}

	if store, ok := raw["store"].(map[string]interface{}); ok {
		if nodeID, ok := store["node_id"].(string); ok {
			info.NodeID = nodeID
			info.NodeNumber = object.Int(nodeID, false)
		}
		if addr, ok := store["addr"].(string); ok {
			info.URL = addr
		}

		if sqlite3, ok := store["sqlite3"].(map[string]interface{}); ok {
			if dbSize, ok := sqlite3["db_size"].(float64); ok {
				info.DBSize = int64(dbSize)
			}
			if path, ok := sqlite3["path"].(string); ok {
				info.Database = path
			}
			if connPool, ok := sqlite3["conn_pool_stats"].(map[string]interface{}); ok {
				// the smaller of the read and write pools bounds concurrent statements
				roPool := poolSize(connPool["ro"])
				rwPool := poolSize(connPool["rw"])
				info.MaxPool = roPool
				if rwPool < roPool {
					info.MaxPool = rwPool
				}
			}
		}

		if nodes, ok := store["nodes"].([]interface{}); ok {
			for _, n := range nodes {
				node, ok := n.(map[string]interface{})
				if !ok {
					continue
				}
				peer := orm.StatusStruct{DBMS: "rqlite", DBMSDriver: "gorqlite"}
				if id, ok := node["id"].(string); ok {
					peer.NodeID = id
					peer.NodeNumber = object.Int(id, false)
				}
				if addr, ok := node["addr"].(string); ok {
					peer.URL = addr
				}
				if peer.NodeID != "" || peer.URL != "" {
					info.Peers[peer.NodeNumber] = peer
				}
			}
			info.Nodes = len(nodes)
		} else {
			info.Nodes = 1
		}

		if leader, ok := store["leader"].(map[string]interface{}); ok {
			if addr, ok := leader["addr"].(string); ok {
				info.Leader = addr
			}
			if leaderID, ok := leader["node_id"].(string); ok {
				info.IsLeader = leaderID == info.NodeID
			}
		}
		if raft, ok := store["raft"].(map[string]interface{}); ok {
			if state, ok := raft["state"].(string); ok && strings.EqualFold(state, "leader") {
				info.IsLeader = true
			}
		}
		if readOnly, ok := store["read_only"].(bool); ok && readOnly {
			info.Mode = "r"
		}
	}

	if node, ok := raw["node"].(map[string]interface{}); ok {
		if start, ok := node["start_time"].(string); ok {
			if parsed, err := time.Parse(layout, start); err == nil {
				info.StartTime = parsed
			}
		}
		if uptime, ok := node["uptime"].(string); ok {
			if parsed, err := time.ParseDuration(uptime); err == nil {
				info.Uptime = parsed
			}
		}
	}

	// peers list the nodes of the cluster, the node itself included
	if len(info.Peers) == 0 && (info.NodeID != "" || info.URL != "") {
		info.Peers[info.NodeNumber] = info.StatusStruct
	}
	return info, nil
}

// GetPeersFromNodesResponse reads the /nodes document into peers keyed by node number.
// Both the map form and the ver=2 {"nodes": [...]} form are accepted. Nodes whose id is
// not a number are numbered by their position in id order.
func GetPeersFromNodesResponse(raw map[string]interface{}) map[int]orm.StatusStruct {
	nodes := make(map[string]map[string]interface{})
	if list, ok := raw["nodes"].([]interface{}); ok {
		for _, n := range list {
			if node, ok := n.(map[string]interface{}); ok {
				if id, ok := node["id"].(string); ok {
					nodes[id] = node
				}
			}
		}
	} else {
		for id, n := range raw {
			if node, ok := n.(map[string]interface{}); ok {
				nodes[id] = node
			}
		}
	}

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	peers := make(map[int]orm.StatusStruct, len(ids))
	for i, id := range ids {
		node := nodes[id]
		peer := orm.StatusStruct{DBMS: "rqlite", DBMSDriver: "gorqlite", NodeID: id, Nodes: len(ids)}
		if id != "" {
			peer.NodeNumber = object.Int(id, false)
		}
		if _, taken := peers[peer.NodeNumber]; peer.NodeNumber <= 0 || taken {
			peer.NodeNumber = i + 1
		}
		if addr, ok := node["api_addr"].(string); ok && addr != "" {
			peer.URL = addr
		} else if addr, ok := node["addr"].(string); ok {
			peer.URL = addr
		}
		peer.IsLeader, _ = node["leader"].(bool)
		peers[peer.NodeNumber] = peer
	}
	return peers
}

// poolSize reads max_open_connections of a pool stats object, 0 means unlimited.
func poolSize(v interface{}) int {
	stats, ok := v.(map[string]interface{})
	if !ok {
		return DEFAULT_MAX_POOL
	}
	n, ok := stats["max_open_connections"].(float64)
	if !ok || n <= 0 {
		return DEFAULT_MAX_POOL
	}
	return int(n)
}

// toStatement converts a query and its arguments to a gorqlite statement.
func toStatement(query string, args []interface{}) gorqlite.ParameterizedStatement {
	return gorqlite.ParameterizedStatement{Query: query, Arguments: args}
}

// toStatements converts buffered ORM statements to gorqlite statements.
func toStatements(p []orm.ParametereizedSQL) []gorqlite.ParameterizedStatement {
	statements := make([]gorqlite.ParameterizedStatement, 0, len(p))
	for _, one := range p {
		statements = append(statements, toStatement(one.Query, one.Values))
	}
	return statements
}

// queryResultToRecords reads every row of a gorqlite result. An empty result is an
// empty slice, not an error.
func queryResultToRecords(qr *gorqlite.QueryResult, tableName string) (orm.DBRecords, error) {
	records := orm.DBRecords{}
	columns := qr.Columns()
	types := qr.Types()
	for qr.Next() {
		row, err := qr.Map()
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", qr.RowNumber(), err)
		}
		for i, col := range columns {
			typ := ""
			if i < len(types) {
				typ = types[i]
			}
			row[col] = convertValue(row[col], typ)
		}
		records = append(records, orm.DBRecord{TableName: tableName, Data: row})
	}
	return records, nil
}

// timestampLayouts are the formats TIMESTAMP columns are read back with.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// convertValue fixes up the JSON decoded value of a column: numbers arrive as
// float64, integer and boolean columns are turned back into int64 and bool, TIMESTAMP
// text into time.Time. Columns without a declared type (expressions such as COUNT(*))
// keep whole numbers as int64.
func convertValue(value interface{}, declaredType string) interface{} {
	typ := strings.ToLower(declaredType)
	if s, ok := value.(string); ok {
		if typ == "timestamp" {
			for _, layout := range timestampLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t
				}
			}
		}
		return value
	}
	f, ok := value.(float64)
	if !ok {
		return value
	}
	switch {
	case strings.Contains(typ, "int"):
		return int64(f)
	case typ == "boolean" || typ == "bool":
		return f != 0
	case typ == "" && f == math.Trunc(f) && math.Abs(f) < 1<<53:
		return int64(f)
	}
	return f
}

// writeResultToBasicSQLResult converts a gorqlite write result.
func writeResultToBasicSQLResult(res gorqlite.WriteResult) orm.BasicSQLResult {
	return orm.BasicSQLResult{
		Error:        res.Err,
		Timing:       res.Timing,
		RowsAffected: int(res.RowsAffected),
		LastInsertID: int(res.LastInsertID),
	}
}

func writeResultsToBasicSQLResults(res []gorqlite.WriteResult) []orm.BasicSQLResult {
	ret := make([]orm.BasicSQLResult, 0, len(res))
	for _, one := range res {
		ret = append(ret, writeResultToBasicSQLResult(one))
	}
	return ret
}

// getTableNameFromSQL is a best effort guess of the table a statement reads from,
// used to label returned records.
func getTableNameFromSQL(sql string) string {
	upperSQL := strings.ToUpper(sql)
	idx := strings.Index(upperSQL, " FROM ")
	if idx < 0 {
		return ""
	}
	tablePart := strings.TrimSpace(sql[idx+len(" FROM "):])
	if end := strings.IndexAny(tablePart, " ,;()\n\t"); end >= 0 {
		tablePart = tablePart[:end]
	}
	return strings.Trim(tablePart, "\"'`[]")
}

// isReadStatement reports whether a statement only reads, used to reject writes in
// read only transactions.
func isReadStatement(query string) bool {
	head := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "WITH", "PRAGMA", "EXPLAIN", "VALUES"} {
		if strings.HasPrefix(head, prefix) {
			return true
		}
	}
	return false
}
