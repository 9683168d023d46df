package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	cfg := defaultConfig()
	for _, opt := range []ClientOption{
		WithHost("ch.internal"),
		WithPort(0),
		WithCredentials("guard", "secret"),
		WithTimeouts(2*time.Second, 0),
		WithHTTP(true),
		WithMaxExecutionTime(1500 * time.Millisecond),
	} {
		opt(&cfg)
	}

	o := options(cfg)
	assert.Equal(t, []string{"ch.internal:9000"}, o.Addr)
	assert.Equal(t, clickhouse.HTTP, o.Protocol)
	assert.Equal(t, "guardrail", o.Auth.Database)
	assert.Equal(t, "guard", o.Auth.Username)
	assert.Equal(t, 2*time.Second, o.DialTimeout)
	assert.Equal(t, 10*time.Second, o.ReadTimeout)
	assert.Equal(t, 1, o.Settings["max_execution_time"])
}

func TestOptions_NoExecutionCapBelowOneSecond(t *testing.T) {
	cfg := defaultConfig()
	cfg.Host = "localhost"
	cfg.MaxExecTime = 200 * time.Millisecond

	o := options(cfg)
	assert.Equal(t, clickhouse.Native, o.Protocol)
	assert.NotContains(t, o.Settings, "max_execution_time")
}

func TestNewClient_RequiresHost(t *testing.T) {
	_, err := NewClient(context.Background())
	assert.ErrorIs(t, err, ErrNoHost)
}

func TestTable(t *testing.T) {
	c := NewClientDB(nil, "risk")
	assert.Equal(t, "risk.kill_flags", c.Table("kill_flags"))
	assert.Equal(t, "audit.kill_flags", c.Table("audit.kill_flags"))
	assert.Equal(t, "guardrail", NewClientDB(nil, "").Database())
}

func TestBootstrap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE DATABASE IF NOT EXISTS risk").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS risk\.kill_flags (.+) ENGINE = ReplacingMergeTree ORDER BY sequence`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	c := NewClientDB(db, "risk")
	require.NoError(t, c.Bootstrap(context.Background(), "kill_flags"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBootstrap_DatabaseOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	boom := errors.New("readonly")
	mock.ExpectExec("CREATE DATABASE").WillReturnError(boom)

	err = NewClientDB(db, "risk").Bootstrap(context.Background(), "")
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
