package policy_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"

	"Guardrail/internal/domain/models"
	"Guardrail/internal/services/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	states map[string]models.MarketState
	calls  atomic.Int32
	fail   string
}

func (p *staticProvider) MarketState(_ context.Context, target string) (models.MarketState, error) {
	p.calls.Add(1)
	if target == p.fail {
		return nil, errors.New("feed down")
	}
	s, ok := p.states[target]
	if !ok {
		return models.MarketState{}, nil
	}
	return s, nil
}

// Each target passes a different number of gates: EURUSD all four, GBPUSD
// three, USDJPY two, AUDUSD none.
func scanProvider() *staticProvider {
	return &staticProvider{states: map[string]models.MarketState{
		"EURUSD": calmMarket,
		"GBPUSD": {"spread_pips": 1.5, "session": "london", "ema_fast": 1.27, "ema_slow": 1.26, "atr_pips": 80},
		"USDJPY": {"spread_pips": 1.2, "session": "tokyo", "ema_fast": 150.1, "ema_slow": 150.4, "atr_pips": 20},
		"AUDUSD": {"spread_pips": 3.1, "session": "sydney", "ema_fast": 0.64, "ema_slow": 0.66, "atr_pips": 2},
	}}
}

var scanTargets = []string{"EURUSD", "GBPUSD", "USDJPY", "AUDUSD"}

func TestBitVector_OnlyGetAndEqual(t *testing.T) {
	for _, typ := range []reflect.Type{reflect.TypeOf(policy.BitVector{}), reflect.TypeOf(&policy.BitVector{})} {
		var names []string
		for i := 0; i < typ.NumMethod(); i++ {
			names = append(names, typ.Method(i).Name)
		}
		assert.Equal(t, []string{"Equal", "Get"}, names, typ.String())
	}
	typ := reflect.TypeOf(policy.BitVector{})
	for i := 0; i < typ.NumField(); i++ {
		assert.False(t, typ.Field(i).IsExported(), typ.Field(i).Name)
	}
}

func TestBitVector_GetAndEqual(t *testing.T) {
	v := policy.ToBitVector([]models.GateResult{
		{GateID: "a", Passed: true},
		{GateID: "b", Passed: false},
		{GateID: "c", Passed: true},
	})

	for id, want := range map[string]bool{"a": true, "b": false, "c": true} {
		got, ok := v.Get(id)
		assert.True(t, ok)
		assert.Equal(t, want, got, id)
	}
	_, ok := v.Get("z")
	assert.False(t, ok)

	same := policy.ToBitVector([]models.GateResult{
		{GateID: "a", Passed: true},
		{GateID: "b", Passed: false},
		{GateID: "c", Passed: true},
	})
	assert.True(t, v.Equal(same))

	flipped := policy.ToBitVector([]models.GateResult{
		{GateID: "a", Passed: true},
		{GateID: "b", Passed: true},
		{GateID: "c", Passed: true},
	})
	assert.False(t, v.Equal(flipped))

	reordered := policy.ToBitVector([]models.GateResult{
		{GateID: "b", Passed: false},
		{GateID: "a", Passed: true},
		{GateID: "c", Passed: true},
	})
	assert.False(t, v.Equal(reordered))

	var zero policy.BitVector
	_, ok = zero.Get("a")
	assert.False(t, ok)
	assert.True(t, zero.Equal(policy.ToBitVector(nil)))
	assert.False(t, zero.Equal(v))
}

func TestBitVector_WideVector(t *testing.T) {
	results := make([]models.GateResult, 130)
	for i := range results {
		results[i] = models.GateResult{GateID: fmt.Sprintf("g%03d", i), Passed: i%7 == 0}
	}
	v := policy.ToBitVector(results)
	for i, r := range results {
		got, ok := v.Get(r.GateID)
		require.True(t, ok)
		assert.Equal(t, i%7 == 0, got, r.GateID)
	}

	results[129].Passed = !results[129].Passed
	assert.False(t, v.Equal(policy.ToBitVector(results)))
}

func TestBitVector_RepeatedIDTakesLastValue(t *testing.T) {
	v := policy.ToBitVector([]models.GateResult{
		{GateID: "a", Passed: true},
		{GateID: "a", Passed: false},
	})
	got, ok := v.Get("a")
	assert.True(t, ok)
	assert.False(t, got)
}

func TestScanAll_ResultsPerTarget(t *testing.T) {
	rs := load(t, rulesYAML)
	p := scanProvider()
	s := policy.NewScanner(rs, p)

	out, err := s.ScanAll(context.Background(), scanTargets)
	require.NoError(t, err)
	require.Len(t, out, len(scanTargets))
	assert.Equal(t, int32(4), p.calls.Load())

	byTarget := make(map[string]policy.BitVector)
	for _, r := range out {
		byTarget[r.Target] = r.Vector
	}
	assert.Len(t, byTarget, len(scanTargets))

	for _, id := range rs.GateIDs() {
		passed, _ := byTarget["EURUSD"].Get(id)
		assert.True(t, passed, id)
		passed, _ = byTarget["AUDUSD"].Get(id)
		assert.False(t, passed, id)
	}
	passed, _ := byTarget["GBPUSD"].Get("atr_in_band")
	assert.False(t, passed)
	passed, _ = byTarget["USDJPY"].Get("trend_up")
	assert.False(t, passed)
}

func TestScanAll_RepeatedRunsSameVectors(t *testing.T) {
	rs := load(t, rulesYAML)
	s := policy.NewScanner(rs, scanProvider())

	first, err := s.ScanAll(context.Background(), scanTargets)
	require.NoError(t, err)
	want := make(map[string]policy.BitVector)
	for _, r := range first {
		want[r.Target] = r.Vector
	}

	for i := 0; i < 20; i++ {
		out, err := s.ScanAll(context.Background(), scanTargets)
		require.NoError(t, err)
		for _, r := range out {
			assert.True(t, want[r.Target].Equal(r.Vector), r.Target)
		}
	}
}

// Output position must carry no information about how many gates passed.
// Over many runs every target's mean position sits near the middle.
func TestScanAll_OrderIndependentOfOutcome(t *testing.T) {
	rs := load(t, rulesYAML)
	s := policy.NewScanner(rs, scanProvider())

	const runs = 1000
	posSum := make(map[string]int)
	first := make(map[string]int)
	for i := 0; i < runs; i++ {
		out, err := s.ScanAll(context.Background(), scanTargets)
		require.NoError(t, err)
		for pos, r := range out {
			posSum[r.Target] += pos
		}
		first[out[0].Target]++
	}

	mid := float64(len(scanTargets)-1) / 2
	for _, target := range scanTargets {
		mean := float64(posSum[target]) / runs
		assert.InDelta(t, mid, mean, 0.3, target)
		assert.Greater(t, first[target], 150, target)
	}
}

func TestScanAll_Limits(t *testing.T) {
	rs := load(t, rulesYAML)
	ctx := context.Background()

	many := make([]string, 13)
	for i := range many {
		many[i] = fmt.Sprintf("SYM%02d", i)
	}
	s := policy.NewScanner(rs, scanProvider())
	assert.Equal(t, policy.DefaultMaxTargets, s.MaxTargets())

	_, err := s.ScanAll(ctx, many)
	assert.ErrorIs(t, err, policy.ErrTooManyTargets)

	out, err := s.ScanAll(ctx, many[:12])
	require.NoError(t, err)
	assert.Len(t, out, 12)

	small := policy.NewScanner(rs, scanProvider(), policy.WithMaxTargets(2))
	_, err = small.ScanAll(ctx, scanTargets[:3])
	assert.ErrorIs(t, err, policy.ErrTooManyTargets)

	_, err = s.ScanAll(ctx, nil)
	assert.ErrorIs(t, err, policy.ErrNoTargets)
	_, err = s.ScanAll(ctx, []string{" ", ""})
	assert.ErrorIs(t, err, policy.ErrNoTargets)

	_, err = s.ScanAll(ctx, scanTargets, "nope")
	assert.ErrorIs(t, err, policy.ErrUnknownDrawer)
}

func TestScanAll_DeduplicatesTargets(t *testing.T) {
	rs := load(t, rulesYAML)
	s := policy.NewScanner(rs, scanProvider(), policy.WithMaxTargets(2))

	out, err := s.ScanAll(context.Background(), []string{"EURUSD", " EURUSD", "GBPUSD", "EURUSD"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestScanAll_DrawerSubset(t *testing.T) {
	rs := load(t, rulesYAML)
	s := policy.NewScanner(rs, scanProvider())

	out, err := s.ScanAll(context.Background(), []string{"USDJPY"}, "structure")
	require.NoError(t, err)
	require.Len(t, out, 1)

	_, ok := out[0].Vector.Get("spread_tight")
	assert.False(t, ok)
	passed, ok := out[0].Vector.Get("atr_in_band")
	assert.True(t, ok)
	assert.True(t, passed)
}

func TestScanAll_ProviderFailureFailsScan(t *testing.T) {
	rs := load(t, rulesYAML)
	p := scanProvider()
	p.fail = "USDJPY"
	s := policy.NewScanner(rs, p)

	out, err := s.ScanAll(context.Background(), scanTargets)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "USDJPY")
}
