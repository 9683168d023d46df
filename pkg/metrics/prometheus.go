package metrics

import (
	"Guardrail/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	verdicts    *prometheus.CounterVec
	anomalies   *prometheus.CounterVec
	staleChecks *prometheus.CounterVec
	escalations *prometheus.CounterVec
	killRecords *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

type Option func(*options)

type options struct {
	reg       prometheus.Registerer
	namespace string
}

// WithRegisterer registers collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// New creates a new Prometheus metrics recorder.
func New(opts ...Option) *Recorder {
	o := options{reg: prometheus.DefaultRegisterer, namespace: "guardrail"}
	for _, opt := range opts {
		opt(&o)
	}
	f := promauto.With(o.reg)

	return &Recorder{
		verdicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "integrity_verdicts_total",
				Help:      "Integrity verdicts by symbol and health state",
			},
			[]string{"symbol", "health"},
		),
		anomalies: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "integrity_anomalies_total",
				Help:      "Detected anomalies by kind",
			},
			[]string{"kind"},
		),
		staleChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "stale_checks_total",
				Help:      "Staleness checks by conflict and outcome",
			},
			[]string{"conflict", "fresh"},
		),
		escalations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "stale_escalations_total",
				Help:      "Stale contexts escalated to a temporary kill",
			},
			[]string{"regime"},
		),
		killRecords: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "kill_records_total",
				Help:      "Kill ledger records appended by action",
			},
			[]string{"action"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: o.namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordVerdict(symbol string, health models.HealthState) {
	r.verdicts.WithLabelValues(symbol, string(health)).Inc()
}

func (r *Recorder) RecordAnomaly(kind models.AnomalyKind) {
	r.anomalies.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) RecordStaleCheck(conflict models.Conflict, fresh bool) {
	f := "false"
	if fresh {
		f = "true"
	}
	r.staleChecks.WithLabelValues(string(conflict), f).Inc()
}

func (r *Recorder) RecordEscalation(regime models.Regime) {
	r.escalations.WithLabelValues(string(regime)).Inc()
}

func (r *Recorder) RecordKillRecord(action models.KillAction) {
	r.killRecords.WithLabelValues(string(action)).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
