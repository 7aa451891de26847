// Package clickhouse opens a pooled database/sql handle on the ClickHouse
// driver and owns the chart schema.
package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type ClientOption func(*clientSettings)

type clientSettings struct {
	hosts        []string
	port         int
	database     string
	user         string
	password     string
	maxOpen      int
	maxIdle      int
	connLifetime time.Duration
	dialTimeout  time.Duration
	readTimeout  time.Duration
	useHTTP      bool
	asyncInsert  bool
	waitAsync    bool
	maxExecTime  time.Duration
	compress     bool
}

// WithHost adds a server; repeat it for a replicated cluster.
func WithHost(host string) ClientOption {
	return func(s *clientSettings) {
		if host != "" {
			s.hosts = append(s.hosts, host)
		}
	}
}

func WithPort(port int) ClientOption {
	return func(s *clientSettings) { s.port = port }
}

func WithDatabase(db string) ClientOption {
	return func(s *clientSettings) { s.database = db }
}

func WithCredentials(user, password string) ClientOption {
	return func(s *clientSettings) { s.user, s.password = user, password }
}

func WithMaxConnections(maxOpen, maxIdle int) ClientOption {
	return func(s *clientSettings) { s.maxOpen, s.maxIdle = maxOpen, maxIdle }
}

// WithTimeouts sets dial and read timeouts. The driver has no write
// timeout; inserts are bounded by the caller's context.
func WithTimeouts(dial, read, _ time.Duration) ClientOption {
	return func(s *clientSettings) {
		if dial > 0 {
			s.dialTimeout = dial
		}
		if read > 0 {
			s.readTimeout = read
		}
	}
}

func WithHTTP(useHTTP bool) ClientOption {
	return func(s *clientSettings) { s.useHTTP = useHTTP }
}

func WithAsyncInsert(enabled, wait bool) ClientOption {
	return func(s *clientSettings) { s.asyncInsert, s.waitAsync = enabled, wait }
}

func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(s *clientSettings) { s.maxExecTime = d }
}

// WithLZ4 compresses native protocol blocks.
func WithLZ4(on bool) ClientOption {
	return func(s *clientSettings) { s.compress = on }
}

type Client struct {
	db       *sql.DB
	database string
}

func NewClient(opts ...ClientOption) (*Client, error) {
	s := &clientSettings{
		port:         9000,
		database:     "default",
		user:         "default",
		maxOpen:      10,
		maxIdle:      5,
		connLifetime: 5 * time.Minute,
		dialTimeout:  5 * time.Second,
		readTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.hosts) == 0 {
		return nil, errors.New("clickhouse: at least one host is required")
	}

	db := clickhouse.OpenDB(driverOptions(s))
	db.SetMaxOpenConns(s.maxOpen)
	db.SetMaxIdleConns(s.maxIdle)
	db.SetConnMaxLifetime(s.connLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), s.dialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping %v: %w", s.hosts, err)
	}
	return &Client{db: db, database: s.database}, nil
}

func driverOptions(s *clientSettings) *clickhouse.Options {
	addrs := make([]string, len(s.hosts))
	for i, h := range s.hosts {
		addrs[i] = net.JoinHostPort(h, strconv.Itoa(s.port))
	}

	opts := &clickhouse.Options{
		Protocol: clickhouse.Native,
		Addr:     addrs,
		Auth: clickhouse.Auth{
			Database: s.database,
			Username: s.user,
			Password: s.password,
		},
		DialTimeout: s.dialTimeout,
		ReadTimeout: s.readTimeout,
		Settings:    clickhouse.Settings{},
	}
	if s.useHTTP {
		opts.Protocol = clickhouse.HTTP
	}
	if s.compress {
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}
	if s.maxExecTime > 0 {
		opts.Settings["max_execution_time"] = int(s.maxExecTime.Seconds())
	}
	if s.asyncInsert {
		opts.Settings["async_insert"] = 1
		if s.waitAsync {
			opts.Settings["wait_for_async_insert"] = 1
		}
	}
	return opts
}

func (c *Client) DB() *sql.DB { return c.db }

func (c *Client) Database() string { return c.database }

func (c *Client) Health(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// InitSchema applies the statements in order; each must be idempotent.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
