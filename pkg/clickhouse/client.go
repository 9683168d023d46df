package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
)

var ErrNoHost = errors.New("clickhouse: host is required")

// Client is the shared ClickHouse pool behind the bar store and the
// ClickHouse kill ledger.
type Client struct {
	db  *sql.DB
	cfg ClientConfig
}

// NewClient opens the pool and pings it within the dial timeout.
func NewClient(ctx context.Context, opts ...ClientOption) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Host == "" {
		return nil, ErrNoHost
	}

	db := clickhouse.OpenDB(options(cfg))
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping %s: %w", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), err)
	}
	return &Client{db: db, cfg: cfg}, nil
}

// NewClientDB wraps an already open pool, as tests do with sqlmock.
func NewClientDB(db *sql.DB, database string) *Client {
	cfg := defaultConfig()
	if database != "" {
		cfg.Database = database
	}
	return &Client{db: db, cfg: cfg}
}

func (c *Client) DB() *sql.DB { return c.db }

// Database is the database the Guardrail tables live in.
func (c *Client) Database() string { return c.cfg.Database }

// Table qualifies name with the client's database unless it already is.
func (c *Client) Table(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return c.cfg.Database + "." + name
}

func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Bootstrap creates the database and the kill ledger table. Every statement
// is idempotent.
func (c *Client) Bootstrap(ctx context.Context, ledgerTable string) error {
	stmts := []string{DatabaseDDL(c.cfg.Database)}
	if ledgerTable != "" {
		stmts = append(stmts, LedgerDDL(c.Table(ledgerTable)))
	}
	return c.Exec(ctx, stmts...)
}

// Exec runs statements in order and stops at the first failure.
func (c *Client) Exec(ctx context.Context, stmts ...string) error {
	for i, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clickhouse statement %d: %w", i+1, err)
		}
	}
	return nil
}

func options(cfg ClientConfig) *clickhouse.Options {
	opt := &clickhouse.Options{
		Protocol: clickhouse.Native,
		Addr:     []string{net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		Settings:        clickhouse.Settings{},
	}
	if cfg.UseHTTP {
		opt.Protocol = clickhouse.HTTP
	}
	if secs := int(cfg.MaxExecTime.Seconds()); secs > 0 {
		opt.Settings["max_execution_time"] = secs
	}
	return opt
}
