package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	pkgch "Guardrail/pkg/clickhouse"

	_ "modernc.org/sqlite"
)

// Dialect selects DDL for the ledger table.
type Dialect string

const (
	DialectSQLite     Dialect = "sqlite"
	DialectClickHouse Dialect = "clickhouse"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS %s (
	sequence   INTEGER PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	action     TEXT NOT NULL,
	reason     TEXT NOT NULL,
	scope      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0,
	hash       TEXT NOT NULL,
	prev_hash  TEXT NOT NULL
);`

// SQLLedgerStore persists kill records through database/sql. Timestamps are
// stored as Unix nanoseconds so records round-trip exactly and hashes re-verify.
type SQLLedgerStore struct {
	db      *sql.DB
	table   string
	dialect Dialect
	ownsDB  bool
}

var _ domrepo.LedgerStore = (*SQLLedgerStore)(nil)

// NewSQLLedgerStore wraps an open database and ensures the table exists.
// The caller keeps ownership of db.
func NewSQLLedgerStore(ctx context.Context, db *sql.DB, dialect Dialect, table string) (*SQLLedgerStore, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid ledger table name %q", table)
	}
	s := &SQLLedgerStore{db: db, table: table, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteLedgerStore opens (or creates) a SQLite file. Use ":memory:" for tests.
func OpenSQLiteLedgerStore(ctx context.Context, path, table string) (*SQLLedgerStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serialises writers
	db.SetMaxOpenConns(1)

	s, err := NewSQLLedgerStore(ctx, db, DialectSQLite, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewClickHouseLedgerStore stores the ledger in ClickHouse using the shared
// client. An unqualified table lands in the client's database.
func NewClickHouseLedgerStore(ctx context.Context, ch *pkgch.Client, table string) (*SQLLedgerStore, error) {
	return NewSQLLedgerStore(ctx, ch.DB(), DialectClickHouse, ch.Table(table))
}

func (s *SQLLedgerStore) migrate(ctx context.Context) error {
	var ddl string
	switch s.dialect {
	case DialectSQLite:
		ddl = fmt.Sprintf(sqliteSchema, s.table)
	case DialectClickHouse:
		ddl = pkgch.LedgerDDL(s.table)
	default:
		return fmt.Errorf("unsupported ledger dialect %q", s.dialect)
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

func (s *SQLLedgerStore) Append(ctx context.Context, r models.KillFlagRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s (sequence, id, action, reason, scope, created_at, expires_at, hash, prev_hash) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err := s.db.ExecContext(ctx, q,
		r.Sequence, r.ID, string(r.Action), r.Reason, r.Scope,
		unixNanos(r.CreatedAt), unixNanos(r.ExpiresAt), r.Hash, r.PrevHash,
	)
	if err != nil {
		return fmt.Errorf("append kill record: %w", err)
	}
	return nil
}

func (s *SQLLedgerStore) All(ctx context.Context) ([]models.KillFlagRecord, error) {
	q := fmt.Sprintf(`SELECT sequence, id, action, reason, scope, created_at, expires_at, hash, prev_hash FROM %s ORDER BY sequence ASC`, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query kill records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]models.KillFlagRecord, 0, 64)
	for rows.Next() {
		var (
			r                  models.KillFlagRecord
			action             string
			created, expiresAt int64
		)
		if err := rows.Scan(&r.Sequence, &r.ID, &action, &r.Reason, &r.Scope, &created, &expiresAt, &r.Hash, &r.PrevHash); err != nil {
			return nil, fmt.Errorf("scan kill record: %w", err)
		}
		r.Action = models.KillAction(action)
		r.CreatedAt = fromUnixNanos(created)
		r.ExpiresAt = fromUnixNanos(expiresAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *SQLLedgerStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
