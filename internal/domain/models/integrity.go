package models

import "time"

// AnomalyKind is the closed taxonomy of integrity findings.
type AnomalyKind string

const (
	AnomalyHashMismatch       AnomalyKind = "HASH_MISMATCH"
	AnomalyPriceDiscontinuity AnomalyKind = "PRICE_DISCONTINUITY"
	AnomalyOHLCViolation      AnomalyKind = "OHLC_VIOLATION"
)

// Severity of an integrity finding. CRITICAL implies corruption.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
)

// SeverityOf maps an anomaly kind to its fixed severity.
func SeverityOf(k AnomalyKind) Severity {
	if k == AnomalyPriceDiscontinuity {
		return SeverityWarning
	}
	return SeverityCritical
}

// Anomaly is a single integrity finding attached to one bar.
type Anomaly struct {
	Kind      AnomalyKind `json:"kind"`
	Severity  Severity    `json:"severity"`
	Index     int         `json:"index"`
	Timestamp time.Time   `json:"timestamp"`
	Detail    string      `json:"detail"`
}

// IntegrityVerdict is the verifier's result for one bar sequence.
// Quality is the fraction of bars without findings, not a confidence.
type IntegrityVerdict struct {
	Valid            bool      `json:"is_valid"`
	Corrupted        bool      `json:"is_corrupted"`
	AnomalySuspected bool      `json:"anomaly_suspected"`
	Quality          float64   `json:"quality"`
	TotalBars        int       `json:"total_bars"`
	ChainHash        string    `json:"chain_hash"`
	Anomalies        []Anomaly `json:"anomalies"`
	Message          string    `json:"message"`
}

// Kinds returns the distinct anomaly kinds present in the verdict.
func (v IntegrityVerdict) Kinds() map[AnomalyKind]struct{} {
	out := make(map[AnomalyKind]struct{}, 3)
	for _, a := range v.Anomalies {
		out[a.Kind] = struct{}{}
	}
	return out
}

// HealthState is the coarse data-health classification.
type HealthState string

const (
	HealthHealthy  HealthState = "HEALTHY"
	HealthDegraded HealthState = "DEGRADED"
	HealthCritical HealthState = "CRITICAL"
	HealthHalt     HealthState = "HALT"
)

// HealthAssessment pairs a health state with why it was chosen.
type HealthAssessment struct {
	State      HealthState   `json:"state"`
	Correlated bool          `json:"correlated"`
	Kinds      []AnomalyKind `json:"kinds,omitempty"`
	Reason     string        `json:"reason"`
}
