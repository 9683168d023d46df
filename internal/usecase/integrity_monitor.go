package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	"Guardrail/internal/services/integrity"
	"Guardrail/pkg/logger"
)

var ErrNoBarStore = errors.New("integrity monitor: no bar store configured")

// IntegrityReport is one verification of a symbol's recent bars.
type IntegrityReport struct {
	Symbol    string                  `json:"symbol"`
	CheckedAt time.Time               `json:"checked_at"`
	Verdict   models.IntegrityVerdict `json:"verdict"`
	Health    models.HealthAssessment `json:"health"`
	Regime    models.Regime           `json:"regime"`
	Kill      *models.KillFlagRecord  `json:"kill,omitempty"`
}

// KillLedger is the subset of the ledger the orchestration layer uses.
type KillLedger interface {
	KillCreator
	IsKilled(ctx context.Context, scope string, now time.Time) (bool, models.KillFlagRecord, error)
}

// IntegrityMonitor verifies bar sequences, classifies health per symbol and
// turns a HALT into a symbol kill. The verifier itself never enforces.
type IntegrityMonitor struct {
	bars     domrepo.BarStore
	verifier *integrity.Verifier
	health   *integrity.HealthMonitor
	ledger   KillLedger
	notifier domrepo.Notifier
	metrics  domrepo.Metrics
	log      *logger.Logger
	clock    func() time.Time

	symbols  []string
	lookback int
	tf       domrepo.Timeframe
	interval time.Duration

	mu   sync.RWMutex
	last map[string]IntegrityReport
}

type MonitorConfig struct {
	Symbols   []string
	Lookback  int
	Timeframe domrepo.Timeframe
	Interval  time.Duration
}

func NewIntegrityMonitor(
	bars domrepo.BarStore,
	verifier *integrity.Verifier,
	health *integrity.HealthMonitor,
	ledger KillLedger,
	notifier domrepo.Notifier,
	metrics domrepo.Metrics,
	log *logger.Logger,
	cfg MonitorConfig,
) *IntegrityMonitor {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 200
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = domrepo.TF1m
	}
	return &IntegrityMonitor{
		bars:     bars,
		verifier: verifier,
		health:   health,
		ledger:   ledger,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
		clock:    time.Now,
		symbols:  cfg.Symbols,
		lookback: cfg.Lookback,
		tf:       cfg.Timeframe,
		interval: cfg.Interval,
		last:     make(map[string]IntegrityReport),
	}
}

// SetClock replaces the wall clock; used by tests.
func (m *IntegrityMonitor) SetClock(clock func() time.Time) { m.clock = clock }

// Check pulls the latest bars for symbol from the bar store and verifies them.
func (m *IntegrityMonitor) Check(ctx context.Context, symbol string) (IntegrityReport, error) {
	if m.bars == nil {
		return IntegrityReport{}, ErrNoBarStore
	}
	bars, err := m.bars.GetLatestBars(ctx, symbol, m.lookback, m.tf)
	if err != nil {
		m.recordError("bar_store")
		return IntegrityReport{}, fmt.Errorf("load bars %s: %w", symbol, err)
	}
	return m.Evaluate(ctx, symbol, bars)
}

// Evaluate verifies bars, classifies health against the symbol's recent
// history and records a symbol kill on HALT unless one is already active.
func (m *IntegrityMonitor) Evaluate(ctx context.Context, symbol string, bars []models.Bar, opts ...integrity.VerifyOption) (IntegrityReport, error) {
	start := time.Now()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	v := m.verifier.Verify(bars, opts...)
	a := m.health.Assess(symbol, v)
	rep := IntegrityReport{
		Symbol:    symbol,
		CheckedAt: m.clock().UTC(),
		Verdict:   v,
		Health:    a,
		Regime:    integrity.RegimeFromVerdict(v),
	}

	if m.metrics != nil {
		m.metrics.RecordVerdict(symbol, a.State)
		for _, an := range v.Anomalies {
			m.metrics.RecordAnomaly(an.Kind)
		}
		m.metrics.RecordLatency("integrity_verify", time.Since(start).Seconds())
	}

	if a.State == models.HealthHalt {
		rec, err := m.halt(ctx, symbol, a)
		if err != nil {
			m.store(rep)
			return rep, err
		}
		rep.Kill = rec
	} else if a.State != models.HealthHealthy {
		m.log.Info("integrity degraded",
			logger.String("symbol", symbol),
			logger.String("health", string(a.State)),
			logger.String("reason", a.Reason),
		)
	}

	m.store(rep)
	return rep, nil
}

func (m *IntegrityMonitor) halt(ctx context.Context, symbol string, a models.HealthAssessment) (*models.KillFlagRecord, error) {
	scope := models.SymbolScope(symbol)
	killed, existing, err := m.ledger.IsKilled(ctx, scope, m.clock())
	if err != nil {
		m.recordError("ledger_read")
		return nil, fmt.Errorf("halt %s: %w", symbol, err)
	}
	if killed {
		return &existing, nil
	}

	rec, err := m.ledger.Create(ctx, models.KillRequest{
		Reason: "integrity halt: " + a.Reason,
		Scope:  scope,
	})
	if err != nil {
		m.recordError("ledger_create")
		return nil, fmt.Errorf("halt %s: %w", symbol, err)
	}
	m.log.Warn("integrity halt",
		logger.String("symbol", symbol),
		logger.String("record_id", rec.ID),
		logger.String("reason", a.Reason),
	)
	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, models.KillNotification{Record: rec, Source: "integrity"}); err != nil {
			m.recordError("notify")
			m.log.Warn("kill notification failed", logger.String("record_id", rec.ID), logger.Error(err))
		}
	}
	return &rec, nil
}

// Last returns the most recent report for symbol.
func (m *IntegrityMonitor) Last(symbol string) (IntegrityReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.last[strings.ToUpper(symbol)]
	return r, ok
}

func (m *IntegrityMonitor) store(r IntegrityReport) {
	m.mu.Lock()
	m.last[r.Symbol] = r
	m.mu.Unlock()
}

// Run checks every configured symbol on each tick until ctx is done.
func (m *IntegrityMonitor) Run(ctx context.Context) {
	if m.bars == nil || len(m.symbols) == 0 {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.checkAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *IntegrityMonitor) checkAll(ctx context.Context) {
	for _, s := range m.symbols {
		if _, err := m.Check(ctx, s); err != nil {
			m.log.Error("integrity check failed", logger.String("symbol", s), logger.Error(err))
		}
	}
}

func (m *IntegrityMonitor) recordError(kind string) {
	if m.metrics != nil {
		m.metrics.RecordError(kind)
	}
}
