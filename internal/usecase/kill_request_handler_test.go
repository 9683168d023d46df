package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"Guardrail/internal/domain/models"
	"Guardrail/internal/repository"
	"Guardrail/internal/services/killledger"
	"Guardrail/internal/usecase"
	pkgkafka "Guardrail/pkg/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCreator struct{ err error }

func (f failingCreator) Create(context.Context, models.KillRequest) (models.KillFlagRecord, error) {
	return models.KillFlagRecord{}, f.err
}

func TestKillRequestHandler_AppendsAndNotifies(t *testing.T) {
	ctx := context.Background()
	ledger := killledger.New(repository.NewMemoryLedgerStore())
	n := &captureNotifier{}
	h := usecase.NewKillRequestHandler("guardrail.kill-requests", ledger, n, nil, nil)
	assert.Equal(t, "guardrail.kill-requests", h.Topic())

	err := h.Handle(ctx, []byte(`{"reason":"risk desk halt","scope":"symbol:GBPUSD","ttl_seconds":600}`))
	require.NoError(t, err)

	active, err := ledger.ActiveKills(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "symbol:GBPUSD", active[0].Scope)
	assert.Equal(t, "risk desk halt", active[0].Reason)
	assert.False(t, active[0].ExpiresAt.IsZero())
	assert.Equal(t, []string{"kafka"}, n.sources())
}

func TestKillRequestHandler_Errors(t *testing.T) {
	ledger := killledger.New(repository.NewMemoryLedgerStore())
	h := usecase.NewKillRequestHandler("t", ledger, nil, nil, nil)

	err := h.Handle(context.Background(), []byte(`{not json`))
	assert.ErrorIs(t, err, pkgkafka.ErrPermanent)

	err = h.Handle(context.Background(), []byte(`{"reason":"","scope":"global"}`))
	assert.ErrorIs(t, err, pkgkafka.ErrPermanent)
	assert.ErrorIs(t, err, killledger.ErrInvalidRequest)

	boom := errors.New("sqlite busy")
	h = usecase.NewKillRequestHandler("t", failingCreator{err: boom}, nil, nil, nil)
	err = h.Handle(context.Background(), []byte(`{"reason":"x","scope":"global"}`))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, pkgkafka.ErrPermanent, "store failures are retried")
}
