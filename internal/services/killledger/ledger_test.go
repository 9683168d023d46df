package killledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"Guardrail/internal/domain/models"
	"Guardrail/internal/repository"
	"Guardrail/internal/services/killledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 7, 1, 14, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureSink struct {
	mu      sync.Mutex
	records []models.KillFlagRecord
	err     error
}

func (s *captureSink) Emit(_ context.Context, r models.KillFlagRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return s.err
}

type tamperStore struct {
	*repository.MemoryLedgerStore
	mutate func([]models.KillFlagRecord)
}

func (s tamperStore) All(ctx context.Context) ([]models.KillFlagRecord, error) {
	all, err := s.MemoryLedgerStore.All(ctx)
	if err == nil && s.mutate != nil {
		s.mutate(all)
	}
	return all, err
}

type failingStore struct{ *repository.MemoryLedgerStore }

func (failingStore) Append(context.Context, models.KillFlagRecord) error {
	return errors.New("store unavailable")
}

func TestCreate_ChainsRecords(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	l := killledger.New(repository.NewMemoryLedgerStore(), killledger.WithClock(clk.Now))

	r1, err := l.Create(ctx, models.KillRequest{Reason: "stale context", Scope: models.StateScope("abc"), TTLSeconds: 300})
	require.NoError(t, err)
	r2, err := l.Create(ctx, models.KillRequest{Reason: "manual", Scope: models.ScopeGlobal})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), r1.Sequence)
	assert.Equal(t, killledger.GenesisHash, r1.PrevHash)
	assert.Equal(t, uint64(2), r2.Sequence)
	assert.Equal(t, r1.Hash, r2.PrevHash)
	assert.Len(t, r1.Hash, 64)
	assert.Equal(t, clk.Now().Add(5*time.Minute), r1.ExpiresAt)
	assert.True(t, r2.ExpiresAt.IsZero())
	assert.NotEqual(t, r1.ID, r2.ID)

	require.NoError(t, l.Verify(ctx))
}

func TestCreate_RejectsInvalid(t *testing.T) {
	l := killledger.New(repository.NewMemoryLedgerStore())

	_, err := l.Create(context.Background(), models.KillRequest{Reason: "  ", Scope: "global"})
	assert.ErrorIs(t, err, killledger.ErrInvalidRequest)

	_, err = l.Create(context.Background(), models.KillRequest{Reason: "x", Scope: ""})
	assert.ErrorIs(t, err, killledger.ErrInvalidRequest)

	_, err = l.Create(context.Background(), models.KillRequest{Reason: "x", Scope: "global", TTLSeconds: -1})
	assert.ErrorIs(t, err, killledger.ErrInvalidRequest)
}

func TestActiveKills_ExpiryAndRelease(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	l := killledger.New(repository.NewMemoryLedgerStore(), killledger.WithClock(clk.Now))

	temp, err := l.Create(ctx, models.KillRequest{Reason: "stale", Scope: models.StateScope("h1"), TTLSeconds: 300})
	require.NoError(t, err)
	_, err = l.Create(ctx, models.KillRequest{Reason: "halt", Scope: models.SymbolScope("eurusd")})
	require.NoError(t, err)

	active, err := l.ActiveKills(ctx, clk.Now())
	require.NoError(t, err)
	assert.Len(t, active, 2)

	active, err = l.ActiveKills(ctx, temp.ExpiresAt)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "symbol:EURUSD", active[0].Scope)

	rel, err := l.Release(ctx, models.SymbolScope("EURUSD"), "data repaired")
	require.NoError(t, err)
	assert.Equal(t, models.ActionRelease, rel.Action)

	active, err = l.ActiveKills(ctx, clk.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.StateScope("h1"), active[0].Scope)

	_, err = l.Release(ctx, models.SymbolScope("EURUSD"), "again")
	assert.ErrorIs(t, err, killledger.ErrNotKilled)

	history, err := l.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestActiveKills_PointInTimeIgnoresLaterRecords(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := repository.NewMemoryLedgerStore()
	l := killledger.New(store, killledger.WithClock(clk.Now))

	_, err := l.Create(ctx, models.KillRequest{Reason: "halt", Scope: models.SymbolScope("EURUSD")})
	require.NoError(t, err)
	clk.Advance(time.Minute)
	t1 := clk.Now()

	live, err := l.ActiveKills(ctx, t1)
	require.NoError(t, err)
	require.Len(t, live, 1)

	clk.Advance(time.Minute)
	_, err = l.Release(ctx, models.SymbolScope("EURUSD"), "data repaired")
	require.NoError(t, err)
	_, err = l.Create(ctx, models.KillRequest{Reason: "operator", Scope: models.ScopeGlobal})
	require.NoError(t, err)

	at, err := l.ActiveKills(ctx, t1)
	require.NoError(t, err)
	assert.Equal(t, live, at)

	replayed, err := killledger.New(store, killledger.WithClock(clk.Now)).Replay(ctx, t1)
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	assert.Equal(t, "symbol:EURUSD", replayed[0].Scope)

	killed, _, err := l.IsKilled(ctx, models.StateScope("h1"), t1)
	require.NoError(t, err)
	assert.False(t, killed, "global kill did not exist yet")

	now, err := l.ActiveKills(ctx, clk.Now())
	require.NoError(t, err)
	require.Len(t, now, 1)
	assert.Equal(t, models.ScopeGlobal, now[0].Scope)
}

func TestIsKilled_GlobalCoversEveryScope(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	l := killledger.New(repository.NewMemoryLedgerStore(), killledger.WithClock(clk.Now))

	killed, _, err := l.IsKilled(ctx, models.StateScope("x"), clk.Now())
	require.NoError(t, err)
	assert.False(t, killed)

	_, err = l.Create(ctx, models.KillRequest{Reason: "operator", Scope: models.ScopeGlobal})
	require.NoError(t, err)

	killed, rec, err := l.IsKilled(ctx, models.StateScope("x"), clk.Now())
	require.NoError(t, err)
	assert.True(t, killed)
	assert.Equal(t, models.ScopeGlobal, rec.Scope)
}

func TestReplay_NewInstanceSeesSameState(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := repository.NewMemoryLedgerStore()
	first := killledger.New(store, killledger.WithClock(clk.Now))

	_, err := first.Create(ctx, models.KillRequest{Reason: "a", Scope: "symbol:A"})
	require.NoError(t, err)
	_, err = first.Create(ctx, models.KillRequest{Reason: "b", Scope: "symbol:B", TTLSeconds: 60})
	require.NoError(t, err)

	second := killledger.New(store, killledger.WithClock(clk.Now))
	active, err := second.Replay(ctx, clk.Now())
	require.NoError(t, err)
	assert.Len(t, active, 2)

	r3, err := second.Create(ctx, models.KillRequest{Reason: "c", Scope: "symbol:C"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), r3.Sequence)
	require.NoError(t, second.Verify(ctx))

	clk.Advance(2 * time.Minute)
	active, err = second.Replay(ctx, clk.Now())
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestReplay_SQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	path := t.TempDir() + "/ledger.db"

	s1, err := repository.OpenSQLiteLedgerStore(ctx, path, "kill_flags")
	require.NoError(t, err)
	l1 := killledger.New(s1, killledger.WithClock(clk.Now))
	_, err = l1.Create(ctx, models.KillRequest{Reason: "halt", Scope: "symbol:EURUSD"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := repository.OpenSQLiteLedgerStore(ctx, path, "kill_flags")
	require.NoError(t, err)
	defer s2.Close()

	active, err := killledger.New(s2).Replay(ctx, clk.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "symbol:EURUSD", active[0].Scope)
}

func TestReplay_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	mem := repository.NewMemoryLedgerStore()
	l := killledger.New(mem, killledger.WithClock(clk.Now))
	for i := 0; i < 3; i++ {
		_, err := l.Create(ctx, models.KillRequest{Reason: fmt.Sprintf("r%d", i), Scope: "global"})
		require.NoError(t, err)
	}

	cases := map[string]func([]models.KillFlagRecord){
		"reason edited": func(all []models.KillFlagRecord) { all[1].Reason = "edited" },
		"expiry edited": func(all []models.KillFlagRecord) { all[0].ExpiresAt = clk.Now() },
		"record dropped": func(all []models.KillFlagRecord) {
			all[1] = all[2]
		},
		"relinked": func(all []models.KillFlagRecord) { all[2].PrevHash = all[0].Hash },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tl := killledger.New(tamperStore{MemoryLedgerStore: mem, mutate: mutate})
			_, err := tl.Replay(ctx, clk.Now())
			assert.ErrorIs(t, err, killledger.ErrChainBroken)

			_, err = tl.Create(ctx, models.KillRequest{Reason: "x", Scope: "global"})
			assert.ErrorIs(t, err, killledger.ErrChainBroken)
		})
	}
}

func TestCreate_ConcurrentAppendsStayContiguous(t *testing.T) {
	ctx := context.Background()
	l := killledger.New(repository.NewMemoryLedgerStore())

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = l.Create(ctx, models.KillRequest{Reason: "c", Scope: fmt.Sprintf("symbol:S%d", i)})
		}(i)
	}
	wg.Wait()

	all, err := l.History(ctx)
	require.NoError(t, err)
	require.Len(t, all, 40)
	for i, r := range all {
		assert.Equal(t, uint64(i+1), r.Sequence)
	}
	require.NoError(t, l.Verify(ctx))
}

func TestCreate_SinkFailureDoesNotFailAppend(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{err: errors.New("broker down")}
	l := killledger.New(repository.NewMemoryLedgerStore(), killledger.WithSink(sink))

	r, err := l.Create(ctx, models.KillRequest{Reason: "x", Scope: "global"})
	require.NoError(t, err)
	require.Len(t, sink.records, 1)
	assert.Equal(t, r.ID, sink.records[0].ID)
}

func TestCreate_StoreFailure(t *testing.T) {
	sink := &captureSink{}
	l := killledger.New(failingStore{repository.NewMemoryLedgerStore()}, killledger.WithSink(sink))

	_, err := l.Create(context.Background(), models.KillRequest{Reason: "x", Scope: "global"})
	assert.Error(t, err)
	assert.Empty(t, sink.records)
}
