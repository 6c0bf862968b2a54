package orm

import (
	"context"
	"sort"
	"sync"
)

// Executor runs statements against either a pooled connection or an open transaction.
// Query is for statements returning rows, Exec for everything else. Placeholders in
// query are already in the dialect's own syntax.
type Executor interface {
	Query(ctx context.Context, query string, args []interface{}) (DBRecords, error)
	Exec(ctx context.Context, query string, args []interface{}) (BasicSQLResult, error)
}

// Connection is the live handle a Dialect returns from Open. It owns the pool.
type Connection interface {
	Executor

	Begin(ctx context.Context, opts TransactionOptions) (TxConnection, error)
	Ping(ctx context.Context) error
	Close() error

	// Status and Health check
	Status(ctx context.Context) (NodeStatusStruct, error)
	PoolStats() PoolStats
}

// TxConnection is a dialect level transaction.
type TxConnection interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Dialect glues a database engine to the ORM. Implementations live in their own
// packages and register themselves from init, the same way database/sql drivers do:
//
//	import _ "github.com/medatechnology/sequel/postgres"
type Dialect interface {
	Name() string
	Open(ctx context.Context, opts *Options) (Connection, error)
	Generator() *QueryGenerator

	// ConvertError maps a driver error into a *DatabaseError carrying one of the
	// ORM error kinds (ErrUniqueConstraint, ErrConnection, ...). Unknown errors are
	// returned unchanged.
	ConvertError(err error) error
	IsRetryable(err error) bool
}

// PoolStats is a dialect neutral snapshot of the connection pool.
type PoolStats struct {
	MaxOpen      int `json:"max_open"`
	Open         int `json:"open"`
	InUse        int `json:"in_use"`
	Idle         int `json:"idle"`
	WaitCount    int64
	MaxIdleClose int64
}

var (
	dialectsMu sync.RWMutex
	dialects   = make(map[string]Dialect)
)

// RegisterDialect makes a dialect available by name. It panics if d is nil or the name
// is already taken, which only happens on a programming error at init time.
func RegisterDialect(name string, d Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	if d == nil {
		panic("orm: RegisterDialect dialect is nil")
	}
	if _, dup := dialects[name]; dup {
		panic("orm: RegisterDialect called twice for dialect " + name)
	}
	dialects[name] = d
}

// Dialects returns the sorted names of registered dialects.
func Dialects() []string {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	return registeredNames()
}

func lookupDialect(name string) (Dialect, error) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	d, ok := dialects[name]
	if !ok {
		return nil, WrapErrorWithFields(ErrDialectNotSupported, "CONNECT", "", map[string]interface{}{
			"dialect":    name,
			"registered": registeredNames(),
		})
	}
	return d, nil
}

// registeredNames must be called with dialectsMu held.
func registeredNames() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
