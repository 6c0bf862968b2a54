package rqlite

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rqlite/gorqlite"

	orm "github.com/medatechnology/sequel"
)

const (
	PREFIX_APP_TABLE    = "_"
	PREFIX_SQLITE_TABLE = "sqlite_"
	SCHEMA_TABLE        = "sqlite_master"

	// rqlite HTTP endpoints read directly, everything else goes through gorqlite
	ENDPOINT_STATUS = "/status"
	ENDPOINT_READY  = "/readyz"
	ENDPOINT_NODES  = "/nodes"

	DEFAULT_PROTOCOL      = "http"
	DEFAULT_HOST          = "localhost"
	DEFAULT_PORT          = 4001
	DEFAULT_MAX_POOL      = 25
	DEFAULT_TIMEOUT       = 30 * time.Second
	DEFAULT_RETRY_TIMEOUT = 2 * time.Second
	DEFAULT_MAX_RETRIES   = 3
)

// Config holds the settings of an rqlite connection.
type Config struct {
	Protocol    string        // http or https
	Host        string        // node address, any node of the cluster works
	Port        int           // HTTP API port
	Username    string        // optional basic auth user
	Password    string        // optional basic auth password
	Consistency string        // read consistency: none, weak, linearizable, strong
	Timeout     time.Duration // per request timeout
	RetryCount  int           // attempts for status requests
	MaxPool     int           // reported as the pool size, rqlite manages its own connections

	DisableClusterDiscovery bool // talk to Host only, never follow the leader
}

// NewDefaultConfig returns a configuration for a local single node.
func NewDefaultConfig() *Config {
	return &Config{
		Protocol:   DEFAULT_PROTOCOL,
		Host:       DEFAULT_HOST,
		Port:       DEFAULT_PORT,
		Timeout:    DEFAULT_TIMEOUT,
		RetryCount: DEFAULT_MAX_RETRIES,
		MaxPool:    DEFAULT_MAX_POOL,
	}
}

// ConfigFromOptions maps ORM options onto an rqlite configuration. DialectOptions
// "level" selects the consistency level and "disable_cluster_discovery" pins the
// connection to the configured host.
func ConfigFromOptions(opts *orm.Options) *Config {
	cfg := NewDefaultConfig()
	if opts == nil {
		return cfg
	}
	if opts.Protocol != "" {
		cfg.Protocol = strings.ToLower(opts.Protocol)
	}
	if opts.Host != "" {
		cfg.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Port = opts.Port
	}
	cfg.Username = opts.Username
	cfg.Password = opts.Password
	if opts.QueryTimeout > 0 {
		cfg.Timeout = opts.QueryTimeout
	}
	if opts.Retry.Max > 0 {
		cfg.RetryCount = opts.Retry.Max
	}
	if opts.Pool.Max > 0 {
		cfg.MaxPool = opts.Pool.Max
	}
	for key, value := range opts.DialectOptions {
		switch key {
		case "level", "consistency":
			cfg.Consistency = strings.ToLower(value)
		case "disable_cluster_discovery", "disableClusterDiscovery":
			cfg.DisableClusterDiscovery, _ = strconv.ParseBool(value)
		}
	}
	return cfg
}

// Validate fills defaults and checks the configuration.
func (c *Config) Validate() error {
	if c.Protocol == "" {
		c.Protocol = DEFAULT_PROTOCOL
	}
	if c.Protocol != "http" && c.Protocol != "https" {
		return fmt.Errorf("%w: protocol must be http or https, got %q", ErrRQLiteInvalidConfig, c.Protocol)
	}
	if c.Host == "" {
		c.Host = DEFAULT_HOST
	}
	if c.Port == 0 {
		c.Port = DEFAULT_PORT
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrRQLiteInvalidConfig, c.Port)
	}
	if c.Consistency != "" {
		if _, err := gorqlite.ParseConsistencyLevel(c.Consistency); err != nil {
			return fmt.Errorf("%w: %v", ErrRQLiteInvalidConfig, err)
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = DEFAULT_TIMEOUT
	}
	if c.RetryCount <= 0 {
		c.RetryCount = DEFAULT_MAX_RETRIES
	}
	if c.MaxPool <= 0 {
		c.MaxPool = DEFAULT_MAX_POOL
	}
	return nil
}

// BaseURL is the node address without credentials, e.g. http://localhost:4001
func (c *Config) BaseURL() string {
	return c.Protocol + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ToURL renders the gorqlite connection URL, credentials and options included.
func (c *Config) ToURL() string {
	u := url.URL{
		Scheme: c.Protocol,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/",
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	q := url.Values{}
	if seconds := int(c.Timeout / time.Second); seconds > 0 {
		q.Set("timeout", strconv.Itoa(seconds))
	}
	if c.DisableClusterDiscovery {
		q.Set("disableClusterDiscovery", "true")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// WithConsistency sets the read consistency level.
func (c *Config) WithConsistency(level string) *Config {
	c.Consistency = strings.ToLower(level)
	return c
}

// WithCredentials sets the basic auth credentials.
func (c *Config) WithCredentials(user, password string) *Config {
	c.Username = user
	c.Password = password
	return c
}

// WithClusterDiscovery turns leader discovery on or off.
func (c *Config) WithClusterDiscovery(enabled bool) *Config {
	c.DisableClusterDiscovery = !enabled
	return c
}

// String returns a safe string representation of the config (without password)
func (c *Config) String() string {
	return fmt.Sprintf("RqliteConfig{url=%s, user=%s, level=%s}", c.BaseURL(), c.Username, c.Consistency)
}
