package policy_test

import (
	"errors"
	"testing"

	"Guardrail/internal/domain/models"
	"Guardrail/internal/services/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rulesYAML = `
version: 1
drawers:
  - id: liquidity
    gates:
      - id: spread_tight
        when: market.spread_pips <= 2.0
      - id: session_open
        when: market.session in ["london", "newyork"]
  - id: structure
    gates:
      - id: trend_up
        when: market.ema_fast > market.ema_slow
      - id: atr_in_band
        when: market.atr_pips >= 5 && market.atr_pips <= 40
`

func newEngine(t *testing.T) *policy.Engine {
	t.Helper()
	e, err := policy.NewEngine()
	require.NoError(t, err)
	return e
}

func load(t *testing.T, doc string) *policy.Ruleset {
	t.Helper()
	rs, err := newEngine(t).Load([]byte(doc))
	require.NoError(t, err)
	return rs
}

var calmMarket = models.MarketState{
	"spread_pips": 1,
	"session":     "london",
	"ema_fast":    1.0852,
	"ema_slow":    1.0841,
	"atr_pips":    12.5,
}

func TestLoad_Valid(t *testing.T) {
	rs := load(t, rulesYAML)

	assert.Equal(t, []string{"liquidity", "structure"}, rs.DrawerIDs())
	assert.Equal(t, []string{"spread_tight", "session_open", "trend_up", "atr_in_band"}, rs.GateIDs())

	d, ok := rs.Drawer("structure")
	require.True(t, ok)
	require.Len(t, d.Gates, 2)
	assert.Equal(t, "structure", d.Gates[0].Drawer)

	ids, err := rs.GateIDsFor("structure")
	require.NoError(t, err)
	assert.Equal(t, []string{"trend_up", "atr_in_band"}, ids)
}

func TestLoad_ShippedDrawers(t *testing.T) {
	rs, err := newEngine(t).LoadFile("../../../config/drawers.yaml")
	require.NoError(t, err)
	assert.Contains(t, rs.GateIDs(), "no_news_pending")
}

func TestLoad_JSONDocument(t *testing.T) {
	rs := load(t, `{"drawers":[{"id":"d","gates":[{"id":"g","when":"market.x == 1"}]}]}`)
	assert.Equal(t, []string{"g"}, rs.GateIDs())
}

func TestLoad_ForbiddenKeyRejected(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		key    string
		drawer string
		gate   string
	}{
		{
			name: "gate confidence",
			doc: `
drawers:
  - id: d1
    gates:
      - id: g1
        when: market.x > 1
        confidence: 0.8
`,
			key: "confidence", drawer: "d1", gate: "g1",
		},
		{
			name: "drawer score",
			doc: `
drawers:
  - id: d1
    score: 3
    gates:
      - id: g1
        when: market.x > 1
`,
			key: "score", drawer: "d1",
		},
		{
			name: "snake case weight",
			doc: `
drawers:
  - id: d1
    gates:
      - id: g1
        when: market.x > 1
        gate_weight: 2
`,
			key: "gate_weight", drawer: "d1", gate: "g1",
		},
		{
			name: "camel case plural",
			doc: `
drawers:
  - id: d1
    gates:
      - id: g1
        when: market.x > 1
        minGrades: [A]
`,
			key: "minGrades", drawer: "d1", gate: "g1",
		},
		{
			name: "top level probability",
			doc: `
probability: 0.5
drawers:
  - id: d1
    gates:
      - id: g1
        when: market.x > 1
`,
			key: "probability",
		},
		{
			name: "nested below an unknown key",
			doc: `
drawers:
  - id: d1
    gates:
      - id: g1
        when: market.x > 1
        meta:
          rank: 1
`,
			key: "rank", drawer: "d1", gate: "g1",
		},
		{
			name: "acronym camel case",
			doc: `
drawers:
  - id: d1
    gates:
      - id: g1
        when: market.x > 1
        HTTPScore: 3
`,
			key: "HTTPScore", drawer: "d1", gate: "g1",
		},
		{
			name: "run-together words",
			doc: `
drawers:
  - id: d1
    minscore: 2
    gates:
      - id: g1
        when: market.x > 1
`,
			key: "minscore", drawer: "d1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := newEngine(t).Load([]byte(tt.doc))
			require.Error(t, err)
			assert.Nil(t, rs)
			assert.ErrorIs(t, err, policy.ErrForbiddenField)
			assert.ErrorIs(t, err, policy.ErrInvalidRuleset)

			var ve *policy.ValidationError
			require.True(t, errors.As(err, &ve))
			require.Len(t, ve.Violations, 1)
			v := ve.Violations[0]
			assert.Equal(t, tt.key, v.Key)
			assert.Equal(t, tt.drawer, v.Drawer)
			assert.Equal(t, tt.gate, v.Gate)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_ReportsEveryForbiddenKey(t *testing.T) {
	_, err := newEngine(t).Load([]byte(`
drawers:
  - id: d1
    weight: 1
    gates:
      - id: g1
        when: market.x > 1
        confidence: 0.8
      - id: g2
        when: market.x > 2
        likelihood: high
`))
	var ve *policy.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Violations, 3)
}

func TestLoad_InvalidDocuments(t *testing.T) {
	tests := map[string]string{
		"empty":            ``,
		"not yaml":         "drawers: [\n",
		"no drawers":       `version: 1`,
		"empty drawers":    `drawers: []`,
		"missing when":     "drawers:\n  - id: d\n    gates:\n      - id: g\n",
		"unknown key":      "drawers:\n  - id: d\n    gates:\n      - id: g\n        when: market.x > 1\n        threshold: 3\n",
		"bad id":           "drawers:\n  - id: 9d\n    gates:\n      - id: g\n        when: market.x > 1\n",
		"syntax error":     "drawers:\n  - id: d\n    gates:\n      - id: g\n        when: market.x >\n",
		"non-bool":         "drawers:\n  - id: d\n    gates:\n      - id: g\n        when: market.x + 1\n",
		"int literal":      "drawers:\n  - id: d\n    gates:\n      - id: g\n        when: \"1 + 2\"\n",
		"duplicate gate":   "drawers:\n  - id: a\n    gates:\n      - id: g\n        when: market.x > 1\n  - id: b\n    gates:\n      - id: g\n        when: market.x > 2\n",
		"duplicate drawer": "drawers:\n  - id: a\n    gates:\n      - id: g\n        when: market.x > 1\n  - id: a\n    gates:\n      - id: h\n        when: market.x > 2\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			rs, err := newEngine(t).Load([]byte(doc))
			require.Error(t, err)
			assert.Nil(t, rs)
			assert.ErrorIs(t, err, policy.ErrInvalidRuleset)
			assert.NotErrorIs(t, err, policy.ErrForbiddenField)
		})
	}
}

func TestIsForbiddenKey(t *testing.T) {
	for key, want := range map[string]bool{
		"score":            true,
		"SCORE":            true,
		"riskScore":        true,
		"confidence_level": true,
		"win-probability":  true,
		"percentages":      true,
		"weights":          true,
		"when":             false,
		"id":               false,
		"description":      false,
		"upgrade_path":     false,
		"frankly":          false,
		"scoreboard":       false,
		"HTTPScore":        true,
		"URLConfidence":    true,
		"minscore":         true,
		"maxscores":        true,
		"winprobability":   true,
		"top3rank":         true,
		"grade2":           true,
		"HTTPTimeout":      false,
		"upgrades":         false,
		"operating_mode":   false,
		"ema200":           false,
	} {
		assert.Equal(t, want, policy.IsForbiddenKey(key), key)
	}
}

func TestEvaluate(t *testing.T) {
	e := newEngine(t)

	assert.True(t, e.Evaluate(models.GateDefinition{ID: "g", When: "market.spread_pips <= 2.0"}, calmMarket))
	assert.False(t, e.Evaluate(models.GateDefinition{ID: "g", When: "market.spread_pips < 1"}, calmMarket))
	assert.True(t, e.Evaluate(models.GateDefinition{ID: "g", When: `market.session == "london"`}, calmMarket))

	// fails closed
	assert.False(t, e.Evaluate(models.GateDefinition{ID: "g", When: "market.missing > 1"}, calmMarket))
	assert.False(t, e.Evaluate(models.GateDefinition{ID: "g", When: "market.session > 1"}, calmMarket))
	assert.False(t, e.Evaluate(models.GateDefinition{ID: "g", When: "market.atr_pips"}, calmMarket))
	assert.False(t, e.Evaluate(models.GateDefinition{ID: "g", When: "market.x >"}, calmMarket))
	assert.False(t, e.Evaluate(models.GateDefinition{ID: "g", When: "market.spread_pips <= 2.0"}, nil))
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := newEngine(t)
	g := models.GateDefinition{ID: "g", When: "market.ema_fast > market.ema_slow"}
	first := e.Evaluate(g, calmMarket)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, e.Evaluate(g, calmMarket))
	}
}

func TestEvaluateDrawer(t *testing.T) {
	e := newEngine(t)
	d := models.DrawerDefinition{ID: "d", Gates: []models.GateDefinition{
		{ID: "wide", When: "market.spread_pips > 3"},
		{ID: "tight", When: "market.spread_pips <= 2"},
		{ID: "broken", When: "market.nope == 1"},
	}}

	got := e.EvaluateDrawer(d, calmMarket)
	assert.Equal(t, []models.GateResult{
		{GateID: "wide", Passed: false},
		{GateID: "tight", Passed: true},
		{GateID: "broken", Passed: false},
	}, got)
}

func TestRuleset_Evaluate(t *testing.T) {
	rs := load(t, rulesYAML)

	v, err := rs.Evaluate(calmMarket)
	require.NoError(t, err)
	for _, id := range rs.GateIDs() {
		passed, ok := v.Get(id)
		assert.True(t, ok, id)
		assert.True(t, passed, id)
	}

	wide := models.MarketState{"spread_pips": 4, "session": "tokyo", "ema_fast": 1.0, "ema_slow": 1.1, "atr_pips": 50}
	v, err = rs.Evaluate(wide, "liquidity")
	require.NoError(t, err)
	passed, ok := v.Get("spread_tight")
	assert.True(t, ok)
	assert.False(t, passed)
	_, ok = v.Get("trend_up")
	assert.False(t, ok)

	_, err = rs.Evaluate(calmMarket, "nope")
	assert.ErrorIs(t, err, policy.ErrUnknownDrawer)

	res, err := rs.EvaluateDrawer("structure", wide)
	require.NoError(t, err)
	assert.Equal(t, []models.GateResult{{GateID: "trend_up"}, {GateID: "atr_in_band"}}, res)
}
