package integrity

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"Guardrail/internal/domain/models"
)

// DefaultHealthWindow is how many past verdicts per symbol count toward correlated chaos.
const DefaultHealthWindow = 5

// Quality boundaries between health states.
const (
	HealthyQuality  = 0.95
	DegradedQuality = 0.70
)

// Classify maps a verdict plus the anomaly kinds seen in recent verdicts to a
// health state. Two or more distinct kinds across the window is HALT whatever
// the quality; otherwise the state follows the quality indicator.
func Classify(v models.IntegrityVerdict, recent ...map[models.AnomalyKind]struct{}) models.HealthAssessment {
	kinds := v.Kinds()
	for _, r := range recent {
		for k := range r {
			kinds[k] = struct{}{}
		}
	}
	list := sortedKinds(kinds)

	if len(kinds) >= 2 {
		return models.HealthAssessment{
			State:      models.HealthHalt,
			Correlated: true,
			Kinds:      list,
			Reason:     "correlated anomalies: " + joinKinds(list),
		}
	}

	a := models.HealthAssessment{Kinds: list}
	switch {
	case v.TotalBars == 0:
		a.State, a.Reason = models.HealthCritical, "no data"
	case v.Quality >= HealthyQuality:
		a.State = models.HealthHealthy
	case v.Quality >= DegradedQuality:
		a.State = models.HealthDegraded
	default:
		a.State = models.HealthCritical
	}
	if a.Reason == "" {
		a.Reason = fmt.Sprintf("quality %.3f: %s", v.Quality, v.Message)
	}
	return a
}

// HealthMonitor keeps a rolling window of anomaly kinds per symbol.
type HealthMonitor struct {
	mu     sync.Mutex
	window int
	recent map[string][]map[models.AnomalyKind]struct{}
}

func NewHealthMonitor(window int) *HealthMonitor {
	if window < 1 {
		window = DefaultHealthWindow
	}
	return &HealthMonitor{
		window: window,
		recent: make(map[string][]map[models.AnomalyKind]struct{}),
	}
}

// Assess classifies v against the symbol's window, then records v in it.
func (m *HealthMonitor) Assess(symbol string, v models.IntegrityVerdict) models.HealthAssessment {
	key := strings.ToUpper(symbol)

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.recent[key]
	a := Classify(v, prev...)

	prev = append(prev, v.Kinds())
	if len(prev) > m.window {
		prev = prev[len(prev)-m.window:]
	}
	m.recent[key] = prev
	return a
}

// Reset forgets the window for symbol.
func (m *HealthMonitor) Reset(symbol string) {
	m.mu.Lock()
	delete(m.recent, strings.ToUpper(symbol))
	m.mu.Unlock()
}

// RegimeFromVerdict picks the anchor regime implied by a verdict.
func RegimeFromVerdict(v models.IntegrityVerdict) models.Regime {
	if v.AnomalySuspected {
		return models.RegimeHighVol
	}
	return models.RegimeNormal
}

func sortedKinds(m map[models.AnomalyKind]struct{}) []models.AnomalyKind {
	out := make([]models.AnomalyKind, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func joinKinds(ks []models.AnomalyKind) string {
	s := make([]string, len(ks))
	for i, k := range ks {
		s[i] = string(k)
	}
	return strings.Join(s, ", ")
}
