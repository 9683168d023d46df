package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"Guardrail/pkg/logger"
	xutil "Guardrail/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" validate:"required"`
	Log         logger.Config    `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Integrity   IntegrityConfig  `yaml:"integrity"`
	Staleness   StalenessConfig  `yaml:"staleness"`
	Policy      PolicyConfig     `yaml:"policy"`
	Ledger      LedgerConfig     `yaml:"ledger"`
	Notify      NotifyConfig     `yaml:"notify"`
	Redis       RedisConfig      `yaml:"redis"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
	BodyLimit       string        `yaml:"body_limit" default:"2M"`
	// CORSOrigins lists browser origins (the operator console) allowed to
	// call the API. Empty disables CORS.
	CORSOrigins []string `yaml:"cors_origins"`
	// WriteBurst and WriteRate bound kill ledger writes per client IP.
	// A zero WriteRate disables the limit.
	WriteBurst int     `yaml:"write_burst" default:"10" validate:"gte=1"`
	WriteRate  float64 `yaml:"write_rate" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type IntegrityConfig struct {
	Precision    int32   `yaml:"precision" default:"5" validate:"gte=0,lte=12"`
	ZThreshold   float64 `yaml:"z_threshold" default:"3.0" validate:"gt=0"`
	Window       int     `yaml:"window" default:"20" validate:"gte=5"`
	HealthWindow int     `yaml:"health_window" default:"5" validate:"gte=1"`
	// MonitorSymbols are verified periodically from the bar store when ClickHouse is enabled.
	MonitorSymbols  []string      `yaml:"monitor_symbols"`
	MonitorBars     int           `yaml:"monitor_bars" default:"200" validate:"gte=10,lte=10000"`
	MonitorInterval time.Duration `yaml:"monitor_interval" default:"1m"`
	Timeframe       string        `yaml:"timeframe" default:"1m" validate:"oneof=1s 1m 5m"`
}

type StalenessConfig struct {
	Store           string        `yaml:"store" default:"memory" validate:"oneof=memory redis"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" default:"1m"`
	MaxAnchorAge    time.Duration `yaml:"max_anchor_age" default:"1h"`
}

type PolicyConfig struct {
	DrawersPath string `yaml:"drawers_path" validate:"required"`
	MaxTargets  int    `yaml:"max_targets" default:"12" validate:"gte=1,lte=256"`
	// MarketStateURL is fetched per scan target; "{target}" is replaced by the
	// instrument. Empty means scans must carry their market states inline.
	MarketStateURL     string        `yaml:"market_state_url" validate:"omitempty,startswith=http"`
	MarketStateTimeout time.Duration `yaml:"market_state_timeout" default:"2s"`
	// MarketStateRetries retries 502/503/504 and transport failures.
	MarketStateRetries int `yaml:"market_state_retries" default:"2" validate:"gte=0,lte=5"`
}

type LedgerConfig struct {
	Backend    string `yaml:"backend" default:"sqlite" validate:"oneof=memory sqlite clickhouse"`
	SQLitePath string `yaml:"sqlite_path" default:"guardrail-ledger.db"`
	Table      string `yaml:"table" default:"kill_flags"`
}

// NotifyConfig controls kill notification fan-out. With Outbox set,
// notifications are queued in Redis and delivered with retries.
type NotifyConfig struct {
	Outbox     bool          `yaml:"outbox"`
	Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
	RetryLimit int           `yaml:"retry_limit" default:"5" validate:"gte=0"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"5s"`
}

type RedisConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"guardrail"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" validate:"required_if=Enabled true"`
	RecordTopic  string   `yaml:"record_topic" default:"guardrail.kill-records"`
	NotifyTopic  string   `yaml:"notify_topic" default:"guardrail.kill-notifications"`
	RequestTopic string   `yaml:"request_topic" default:"guardrail.kill-requests"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"guardrail"`
		Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic   string        `yaml:"dlq_topic"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" validate:"required_if=Enabled true"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"guardrail"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("GUARDRAIL_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("GUARDRAIL_DRAWERS"); v != "" {
		c.Policy.DrawersPath = v
	}
	if v := os.Getenv("GUARDRAIL_ANCHOR_STORE"); v != "" {
		c.Staleness.Store = v
	}
	if v := os.Getenv("GUARDRAIL_LEDGER"); v != "" {
		c.Ledger.Backend = v
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_SYMBOLS"); v != "" {
		c.Integrity.MonitorSymbols = xutil.SplitList(v)
	}
	if v := os.Getenv("GUARDRAIL_MARKET_STATE_URL"); v != "" {
		c.Policy.MarketStateURL = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REDIS_PORT: %w", err)
		}
		c.Redis.Port = p
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = xutil.SplitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Ledger.Backend == "clickhouse" && !c.ClickHouse.Enabled {
		return fmt.Errorf("ledger.backend=clickhouse requires clickhouse.enabled")
	}
	return nil
}
