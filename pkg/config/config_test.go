package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"Guardrail/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
environment: test
policy:
  drawers_path: drawers.yaml
`

func TestParse_Defaults(t *testing.T) {
	c, err := config.Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 500*time.Millisecond, c.Server.SlowThreshold)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, int32(5), c.Integrity.Precision)
	assert.Equal(t, 3.0, c.Integrity.ZThreshold)
	assert.Equal(t, 200, c.Integrity.MonitorBars)
	assert.Equal(t, "memory", c.Staleness.Store)
	assert.Equal(t, time.Hour, c.Staleness.MaxAnchorAge)
	assert.Equal(t, 12, c.Policy.MaxTargets)
	assert.Equal(t, 2*time.Second, c.Policy.MarketStateTimeout)
	assert.Equal(t, "sqlite", c.Ledger.Backend)
	assert.Equal(t, "kill_flags", c.Ledger.Table)
	assert.Equal(t, "guardrail.kill-requests", c.Kafka.RequestTopic)
	assert.Equal(t, 5, c.Notify.RetryLimit)
	assert.Zero(t, c.Server.WriteRate)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing environment":   "policy:\n  drawers_path: d.yaml\n",
		"missing drawers":       "environment: test\n",
		"unknown store":         minimal + "staleness:\n  store: etcd\n",
		"unknown timeframe":     minimal + "integrity:\n  timeframe: 3m\n",
		"kafka without brokers": minimal + "kafka:\n  enabled: true\n",
		"clickhouse ledger off": minimal + "ledger:\n  backend: clickhouse\n",
		"relative market url":   minimal + "  market_state_url: market/{target}\n",
		"not yaml":              "environment: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	t.Setenv("GUARDRAIL_ENV", "staging")
	t.Setenv("GUARDRAIL_ANCHOR_STORE", "redis")
	t.Setenv("GUARDRAIL_MONITOR_SYMBOLS", "eurusd, GBPUSD,,")
	t.Setenv("GUARDRAIL_MARKET_STATE_URL", "http://state/{target}")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := config.LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", c.Environment)
	assert.Equal(t, "redis", c.Staleness.Store)
	assert.Equal(t, []string{"eurusd", "GBPUSD"}, c.Integrity.MonitorSymbols)
	assert.Equal(t, "http://state/{target}", c.Policy.MarketStateURL)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)

	t.Setenv("REDIS_PORT", "redis")
	_, err = config.LoadWithEnv(path)
	assert.Error(t, err)
}

func TestLoad_RepositoryConfig(t *testing.T) {
	c, err := config.Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "config/drawers.yaml", c.Policy.DrawersPath)
	assert.Equal(t, 1.0, c.Server.WriteRate)

	_, err = config.Load("does-not-exist.yaml")
	assert.Error(t, err)
}
