package integrity_test

import (
	"testing"

	"Guardrail/internal/domain/models"
	"Guardrail/internal/services/integrity"
	"Guardrail/internal/services/integrity/chaos"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_IgnoresVolume(t *testing.T) {
	h := integrity.NewHasher(integrity.DefaultPrecision)
	b := makeBars(1)[0]
	withVol := b
	withVol.Volume = 12345

	assert.Equal(t, h.Hash(b), h.Hash(withVol))
	assert.Len(t, h.Hash(b), integrity.HashLength)
}

func TestHash_NormalisesRepresentation(t *testing.T) {
	h := integrity.NewHasher(5)
	a := makeBars(1)[0]
	b := a
	b.Close = decimal.RequireFromString(a.Close.StringFixed(8))

	assert.Equal(t, h.Hash(a), h.Hash(b))
}

func TestChain_MatchesFold(t *testing.T) {
	h := integrity.NewHasher(5)
	bars := makeBars(12)

	chain := h.Chain(bars)
	require.Len(t, chain, len(bars))

	prev := integrity.ChainSeed
	for i, b := range bars {
		prev = h.Link(prev, h.Hash(b))
		assert.Equal(t, prev, chain[i])
	}
	assert.Equal(t, chain[len(chain)-1], h.ChainHash(bars))
	assert.Equal(t, integrity.ChainSeed, h.ChainHash(nil))
}

func TestChain_OrderSensitive(t *testing.T) {
	h := integrity.NewHasher(5)
	bars := makeBars(5)
	swapped := append([]models.Bar(nil), bars...)
	swapped[1], swapped[2] = swapped[2], swapped[1]

	assert.NotEqual(t, h.ChainHash(bars), h.ChainHash(swapped))
}

func TestProperty_HashDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	h := integrity.NewHasher(5)

	properties.Property("identical bars hash identically", prop.ForAll(
		func(o, hi, lo, c int64) bool {
			b := models.Bar{Timestamp: t0, Open: px(o), High: px(hi), Low: px(lo), Close: px(c)}
			cp := b
			return h.Hash(b) == h.Hash(cp)
		},
		gen.Int64Range(1, 1e9), gen.Int64Range(1, 1e9), gen.Int64Range(1, 1e9), gen.Int64Range(1, 1e9),
	))

	properties.TestingRun(t)
}

func TestProperty_SingleFieldPerturbationDetected(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	v := integrity.NewVerifier()
	clean := makeBars(50)
	refs := v.Hasher().Hashes(clean)
	fields := chaos.Fields()

	properties.Property("any perturbation of at least one price unit is a hash mismatch", prop.ForAll(
		func(idx, field int, units int64, negative bool) bool {
			if negative {
				units = -units
			}
			bars, c, err := chaos.Inject(v.Hasher(), clean, idx, fields[field], px(units))
			if err != nil {
				return false
			}
			if c.OriginalHash != refs[idx] {
				return false
			}
			got := v.Verify(bars, integrity.WithReferenceHashes(refs))
			if got.Valid || !got.Corrupted {
				return false
			}
			for _, a := range got.Anomalies {
				if a.Kind == models.AnomalyHashMismatch && a.Index == idx {
					return true
				}
			}
			return false
		},
		gen.IntRange(0, 49),
		gen.IntRange(0, 3),
		gen.Int64Range(1, 100000),
		gen.Bool(),
	))

	properties.Property("chain hash changes under any perturbation", prop.ForAll(
		func(idx, field int, units int64) bool {
			bars, _, err := chaos.Inject(v.Hasher(), clean, idx, fields[field], px(units))
			if err != nil {
				return false
			}
			return v.Hasher().ChainHash(bars) != v.Hasher().ChainHash(clean)
		},
		gen.IntRange(0, 49),
		gen.IntRange(0, 3),
		gen.Int64Range(1, 100000),
	))

	properties.TestingRun(t)
}

func TestProperty_QualityBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	v := integrity.NewVerifier()

	properties.Property("quality stays within [0,1]", prop.ForAll(
		func(n, idx int, units int64) bool {
			bars := makeBars(n)
			if idx < n {
				bars[idx].Close = bars[idx].Close.Add(px(units))
			}
			q := v.Verify(bars).Quality
			return q >= 0 && q <= 1
		},
		gen.IntRange(1, 80),
		gen.IntRange(0, 79),
		gen.Int64Range(-1000, 1000),
	))

	properties.TestingRun(t)
}
