package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"Guardrail/internal/domain/repository"
	"Guardrail/internal/handler/api"
	internalrepo "Guardrail/internal/repository"
	"Guardrail/internal/service/notify"
	"Guardrail/internal/service/ratelimit"
	"Guardrail/internal/services/integrity"
	"Guardrail/internal/services/killledger"
	"Guardrail/internal/services/policy"
	"Guardrail/internal/services/staleness"
	"Guardrail/internal/usecase"
	"Guardrail/pkg/cache"
	pkgch "Guardrail/pkg/clickhouse"
	"Guardrail/pkg/config"
	xhttp "Guardrail/pkg/http"
	pkgkafka "Guardrail/pkg/kafka"
	"Guardrail/pkg/logger"
	"Guardrail/pkg/metrics"
	"Guardrail/pkg/queue"
	"Guardrail/pkg/server"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the registry every collector is registered on and
// /metrics is served from.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(metrics.WithRegisterer(reg))
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	table := ""
	if cfg.Ledger.Backend == "clickhouse" {
		table = cfg.Ledger.Table
	}
	if err := client.Bootstrap(ctx, table); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideRedisCache connects to Redis when the anchor store or the
// notification outbox needs it, and returns nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if cfg.Staleness.Store != "redis" && !cfg.Notify.Outbox {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache selects the shared store for anchors, kills and sweep locks.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if cfg.Staleness.Store == "redis" && rc != nil {
		return rc
	}
	return cache.NewMemoryCache()
}

func ProvideAnchorStore(c cache.Service, cfg *config.Config) repository.AnchorStore {
	return internalrepo.NewCacheAnchorStore(c, cfg.Staleness.MaxAnchorAge)
}

// ProvideLedgerStore opens the configured kill ledger backend.
func ProvideLedgerStore(cfg *config.Config, ch *pkgch.Client) (repository.LedgerStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Ledger.Backend {
	case "memory":
		return internalrepo.NewMemoryLedgerStore(), nil
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("ledger: clickhouse is not enabled")
		}
		s, err := internalrepo.NewClickHouseLedgerStore(ctx, ch, cfg.Ledger.Table)
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		return s, nil
	default:
		s, err := internalrepo.OpenSQLiteLedgerStore(ctx, cfg.Ledger.SQLitePath, cfg.Ledger.Table)
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		return s, nil
	}
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideRecordSink streams appended kill records to Kafka when it is enabled.
func ProvideRecordSink(cfg *config.Config, producer *pkgkafka.Producer) repository.RecordSink {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaRecordSink(producer, cfg.Kafka.RecordTopic)
}

func ProvideHub(l *logger.Logger) *notify.Hub {
	return notify.NewHub(notify.WithHubLogger(l))
}

// ProvideOutbox creates the Redis notification queue when the outbox is enabled.
func ProvideOutbox(cfg *config.Config, rc *cache.RedisCache, l *logger.Logger) *queue.RedisQueue {
	if !cfg.Notify.Outbox || rc == nil {
		return nil
	}
	return queue.NewRedisQueue(rc.Client(), queue.Config{
		Workers:    cfg.Notify.Workers,
		RetryLimit: cfg.Notify.RetryLimit,
		RetryDelay: cfg.Notify.RetryDelay,
	},
		queue.WithKeyPrefix(cfg.Redis.Prefix+":notify"),
		queue.WithLogger(l),
	)
}

// ProvideNotifier fans kill notifications out to the log, websocket
// subscribers and Kafka. With the outbox enabled the remote deliveries go
// through the Redis queue and are retried.
func ProvideNotifier(cfg *config.Config, l *logger.Logger, hub *notify.Hub, producer *pkgkafka.Producer, outbox *queue.RedisQueue) repository.Notifier {
	remote := notify.Multi{hub}
	if producer != nil {
		remote = append(remote, notify.NewKafka(producer, cfg.Kafka.NotifyTopic))
	}
	if outbox == nil {
		return append(notify.Multi{notify.NewLog(l)}, remote...)
	}
	outbox.RegisterJob(notify.NewDelivery(remote))
	return notify.Multi{notify.NewLog(l), notify.NewOutbox(outbox)}
}

func ProvideLedger(store repository.LedgerStore, sink repository.RecordSink, l *logger.Logger, m repository.Metrics) *killledger.Ledger {
	opts := []killledger.Option{killledger.WithLogger(l), killledger.WithMetrics(m)}
	if sink != nil {
		opts = append(opts, killledger.WithSink(sink))
	}
	return killledger.New(store, opts...)
}

func ProvideGate(store repository.AnchorStore, ledger *killledger.Ledger, n repository.Notifier, l *logger.Logger, m repository.Metrics) *staleness.Gate {
	return staleness.NewGate(store, ledger,
		staleness.WithLogger(l),
		staleness.WithMetrics(m),
		staleness.WithNotifier(n),
	)
}

func ProvideVerifier(cfg *config.Config) *integrity.Verifier {
	return integrity.NewVerifier(
		integrity.WithPrecision(cfg.Integrity.Precision),
		integrity.WithZThreshold(cfg.Integrity.ZThreshold),
		integrity.WithWindow(cfg.Integrity.Window),
	)
}

func ProvideHealthMonitor(cfg *config.Config) *integrity.HealthMonitor {
	return integrity.NewHealthMonitor(cfg.Integrity.HealthWindow)
}

// ProvideRuleset loads and certifies the drawer file. A drawer file that
// fails validation stops startup.
func ProvideRuleset(cfg *config.Config, l *logger.Logger) (*policy.Ruleset, error) {
	engine, err := policy.NewEngine(policy.WithLogger(l))
	if err != nil {
		return nil, fmt.Errorf("policy engine: %w", err)
	}
	rules, err := engine.LoadFile(cfg.Policy.DrawersPath)
	if err != nil {
		return nil, fmt.Errorf("load drawers %s: %w", cfg.Policy.DrawersPath, err)
	}
	return rules, nil
}

// ProvideMarketStateProvider fetches scan snapshots upstream when a URL is configured.
func ProvideMarketStateProvider(cfg *config.Config) repository.MarketStateProvider {
	if cfg.Policy.MarketStateURL == "" {
		return nil
	}
	client := xhttp.NewClient(
		xhttp.WithTimeout(cfg.Policy.MarketStateTimeout),
		xhttp.WithRetry(cfg.Policy.MarketStateRetries, 100*time.Millisecond),
	)
	return internalrepo.NewHTTPMarketStateProvider(client, cfg.Policy.MarketStateURL)
}

// ProvideBarStore reads monitored bars from ClickHouse, or nil when it is disabled.
func ProvideBarStore(cfg *config.Config, ch *pkgch.Client, l *logger.Logger) repository.BarStore {
	if ch == nil {
		return nil
	}
	s := internalrepo.NewCHBarStore(ch)
	s.SetLogger(l)
	return s
}

func ProvideIntegrityMonitor(
	cfg *config.Config,
	bars repository.BarStore,
	verifier *integrity.Verifier,
	health *integrity.HealthMonitor,
	ledger *killledger.Ledger,
	n repository.Notifier,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.IntegrityMonitor {
	return usecase.NewIntegrityMonitor(bars, verifier, health, ledger, n, m, l, usecase.MonitorConfig{
		Symbols:   cfg.Integrity.MonitorSymbols,
		Lookback:  cfg.Integrity.MonitorBars,
		Timeframe: repository.NormalizeTimeframe(cfg.Integrity.Timeframe),
		Interval:  cfg.Integrity.MonitorInterval,
	})
}

func ProvideAuthorizer(
	monitor *usecase.IntegrityMonitor,
	gate *staleness.Gate,
	rules *policy.Ruleset,
	ledger *killledger.Ledger,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.Authorizer {
	return usecase.NewAuthorizer(monitor, gate, rules, ledger, m, l)
}

func ProvideAnchorSweeper(cfg *config.Config, gate *staleness.Gate, c cache.Service, l *logger.Logger) *usecase.AnchorSweeper {
	return usecase.NewAnchorSweeper(gate, c, cfg.Staleness.CleanupInterval, cfg.Staleness.MaxAnchorAge, l)
}

// ProvideKafkaConsumer creates the kill-request consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger, reg *prometheus.Registry) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.RequestTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKillRequestHandler handles the request topic when a consumer exists.
func ProvideKillRequestHandler(cfg *config.Config, consumer *pkgkafka.Consumer, ledger *killledger.Ledger, n repository.Notifier, m repository.Metrics, l *logger.Logger) *usecase.KillRequestHandler {
	if consumer == nil {
		return nil
	}
	return usecase.NewKillRequestHandler(cfg.Kafka.RequestTopic, ledger, n, m, l)
}

func ProvideGovernanceHandler(
	cfg *config.Config,
	l *logger.Logger,
	monitor *usecase.IntegrityMonitor,
	auth *usecase.Authorizer,
	gate *staleness.Gate,
	ledger *killledger.Ledger,
	provider repository.MarketStateProvider,
	n repository.Notifier,
	hub *notify.Hub,
	m repository.Metrics,
) *api.GovernanceEchoHandler {
	var limit echo.MiddlewareFunc
	if cfg.Server.WriteRate > 0 {
		limit = ratelimit.New(float64(cfg.Server.WriteBurst), cfg.Server.WriteRate).Middleware()
	}
	return api.NewGovernanceEchoHandler(l, api.GovernanceDeps{
		Monitor:    monitor,
		Authorizer: auth,
		Gate:       gate,
		Ledger:     ledger,
		Provider:   provider,
		ScanOptions: []policy.ScannerOption{
			policy.WithMaxTargets(cfg.Policy.MaxTargets),
			policy.WithScanLogger(l),
			policy.WithScanMetrics(m),
		},
		Notifier:   n,
		Hub:        hub,
		WriteLimit: limit,
	})
}

func ProvideHTTPServer(cfg *config.Config, h *api.GovernanceEchoHandler, l *logger.Logger, reg *prometheus.Registry) *xhttp.Server {
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{h},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithBodyLimit(cfg.Server.BodyLimit),
		xhttp.WithCORS(cfg.Server.CORSOrigins...),
		xhttp.WithLogger(l),
		xhttp.WithMetrics(reg, reg, path),
	)
}

// ProvideApp creates the application server. Closers run in order at
// shutdown: the producer flushes before the stores and clients go away.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	srv *xhttp.Server,
	ledger *killledger.Ledger,
	store repository.LedgerStore,
	monitor *usecase.IntegrityMonitor,
	sweeper *usecase.AnchorSweeper,
	hub *notify.Hub,
	consumer *pkgkafka.Consumer,
	requests *usecase.KillRequestHandler,
	outbox *queue.RedisQueue,
	producer *pkgkafka.Producer,
	c cache.Service,
	rc *cache.RedisCache,
	ch *pkgch.Client,
) *server.App {
	closers := []io.Closer{}
	if producer != nil {
		closers = append(closers, producer)
	}
	closers = append(closers, store)
	if rc == nil || c != cache.Service(rc) {
		closers = append(closers, c)
	}
	if rc != nil {
		closers = append(closers, rc)
	}
	if ch != nil {
		closers = append(closers, ch)
	}

	return server.New(cfg, server.Components{
		Logger:   l,
		HTTP:     srv,
		Ledger:   ledger,
		Monitor:  monitor,
		Sweeper:  sweeper,
		Hub:      hub,
		Consumer: consumer,
		Requests: requests,
		Outbox:   outbox,
		Closers:  closers,
	})
}
