package integrity_test

import (
	"math"
	"sync"
	"testing"

	"Guardrail/internal/domain/models"
	"Guardrail/internal/services/integrity"

	"github.com/stretchr/testify/assert"
)

// verdictWith builds a verdict over total bars with one anomaly per kind given.
func verdictWith(total int, kinds ...models.AnomalyKind) models.IntegrityVerdict {
	v := models.IntegrityVerdict{TotalBars: total, Valid: len(kinds) == 0}
	for i, k := range kinds {
		v.Anomalies = append(v.Anomalies, models.Anomaly{Kind: k, Severity: models.SeverityOf(k), Index: i})
		if models.SeverityOf(k) == models.SeverityCritical {
			v.Corrupted = true
		} else {
			v.AnomalySuspected = true
		}
	}
	if total > 0 {
		v.Quality = math.Max(0, 1-float64(len(kinds))/float64(total))
	}
	return v
}

func repeat(k models.AnomalyKind, n int) []models.AnomalyKind {
	out := make([]models.AnomalyKind, n)
	for i := range out {
		out[i] = k
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		v    models.IntegrityVerdict
		want models.HealthState
	}{
		{"clean", verdictWith(100), models.HealthHealthy},
		{"one hash mismatch in 100", verdictWith(100, models.AnomalyHashMismatch), models.HealthHealthy},
		{"quality 0.96", verdictWith(100, repeat(models.AnomalyOHLCViolation, 4)...), models.HealthHealthy},
		{"quality 0.94", verdictWith(100, repeat(models.AnomalyOHLCViolation, 6)...), models.HealthDegraded},
		{"quality 0.71", verdictWith(100, repeat(models.AnomalyPriceDiscontinuity, 29)...), models.HealthDegraded},
		{"quality 0.60", verdictWith(100, repeat(models.AnomalyPriceDiscontinuity, 40)...), models.HealthCritical},
		{"two kinds despite high quality", verdictWith(1000, models.AnomalyOHLCViolation, models.AnomalyPriceDiscontinuity), models.HealthHalt},
		{"empty", models.IntegrityVerdict{}, models.HealthCritical},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, integrity.Classify(tc.v).State)
		})
	}
}

func TestHealthMonitor_CorrelatedAcrossWindow(t *testing.T) {
	m := integrity.NewHealthMonitor(3)

	a := m.Assess("eurusd", verdictWith(100, models.AnomalyPriceDiscontinuity))
	assert.Equal(t, models.HealthHealthy, a.State)

	a = m.Assess("EURUSD", verdictWith(100, models.AnomalyHashMismatch))
	assert.Equal(t, models.HealthHalt, a.State)
	assert.True(t, a.Correlated)
	assert.Equal(t, []models.AnomalyKind{models.AnomalyHashMismatch, models.AnomalyPriceDiscontinuity}, a.Kinds)

	// other symbols keep their own window
	assert.Equal(t, models.HealthHealthy, m.Assess("GBPUSD", verdictWith(100, models.AnomalyHashMismatch)).State)
}

func TestHealthMonitor_WindowRollsOff(t *testing.T) {
	m := integrity.NewHealthMonitor(2)

	m.Assess("X", verdictWith(100, models.AnomalyPriceDiscontinuity))
	assert.Equal(t, models.HealthHalt, m.Assess("X", verdictWith(100, models.AnomalyOHLCViolation)).State)

	m.Assess("X", verdictWith(100))
	m.Assess("X", verdictWith(100))

	a := m.Assess("X", verdictWith(100, models.AnomalyHashMismatch))
	assert.Equal(t, models.HealthHealthy, a.State)
	assert.False(t, a.Correlated)
}

func TestHealthMonitor_Reset(t *testing.T) {
	m := integrity.NewHealthMonitor(5)
	m.Assess("X", verdictWith(100, models.AnomalyPriceDiscontinuity))
	m.Reset("x")

	assert.Equal(t, models.HealthHealthy, m.Assess("X", verdictWith(100, models.AnomalyHashMismatch)).State)
}

func TestHealthMonitor_Concurrent(t *testing.T) {
	m := integrity.NewHealthMonitor(100)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := models.AnomalyHashMismatch
			if i%2 == 0 {
				k = models.AnomalyPriceDiscontinuity
			}
			m.Assess("X", verdictWith(100, k))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, models.HealthHalt, m.Assess("X", verdictWith(100)).State)
}

func TestRegimeFromVerdict(t *testing.T) {
	assert.Equal(t, models.RegimeNormal, integrity.RegimeFromVerdict(verdictWith(100)))
	assert.Equal(t, models.RegimeNormal, integrity.RegimeFromVerdict(verdictWith(100, models.AnomalyHashMismatch)))
	assert.Equal(t, models.RegimeHighVol, integrity.RegimeFromVerdict(verdictWith(100, models.AnomalyPriceDiscontinuity)))
}
