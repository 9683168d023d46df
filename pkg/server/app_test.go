package server_test

import (
	"context"
	"io"
	"testing"
	"time"

	"Guardrail/internal/domain/models"
	"Guardrail/internal/repository"
	"Guardrail/internal/services/killledger"
	"Guardrail/pkg/config"
	xhttp "Guardrail/pkg/http"
	"Guardrail/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{Port: 0, ShutdownTimeout: 2 * time.Second},
		Ledger:      config.LedgerConfig{Backend: "memory"},
	}
}

func httpServer() *xhttp.Server {
	reg := prometheus.NewRegistry()
	return xhttp.NewServer(nil,
		xhttp.WithHost("127.0.0.1"),
		xhttp.WithPort(0),
		xhttp.WithMetrics(reg, reg, ""),
	)
}

var _ io.Closer = closerFunc(nil)

func TestApp_RunsUntilCancelled(t *testing.T) {
	closed := 0
	store := repository.NewMemoryLedgerStore()
	ledger := killledger.New(store)
	_, err := ledger.Create(context.Background(), models.KillRequest{Reason: "operator", Scope: models.ScopeGlobal})
	require.NoError(t, err)

	app := server.New(testConfig(), server.Components{
		HTTP:    httpServer(),
		Ledger:  killledger.New(store),
		Closers: []io.Closer{closerFunc(func() error { closed++; return nil })},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Equal(t, 1, closed)
}

func TestApp_RefusesTamperedLedger(t *testing.T) {
	store := repository.NewMemoryLedgerStore()
	require.NoError(t, store.Append(context.Background(), models.KillFlagRecord{
		ID:       "forged",
		Sequence: 1,
		Action:   models.ActionKill,
		Scope:    models.ScopeGlobal,
		Reason:   "x",
		PrevHash: "not-genesis",
		Hash:     "bogus",
	}))

	closed := false
	app := server.New(testConfig(), server.Components{
		HTTP:    httpServer(),
		Ledger:  killledger.New(store),
		Closers: []io.Closer{closerFunc(func() error { closed = true; return nil })},
	})

	err := app.RunContext(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, killledger.ErrChainBroken)
	assert.True(t, closed)
}
