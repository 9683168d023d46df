package integrity

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"Guardrail/internal/domain/models"
)

const (
	DefaultZThreshold = 3.0
	DefaultWindow     = 20

	// minBars is the sequence length below which discontinuity detection is skipped.
	minBars = 10
	// minSamples is the number of accepted changes needed before a z-score is trusted.
	minSamples = 5
)

// Verifier checks bar sequences for hash mismatches, OHLC violations and
// statistical price discontinuities. It is stateless and safe for concurrent use.
type Verifier struct {
	hasher     Hasher
	zThreshold float64
	window     int
}

// Option configures a Verifier.
type Option func(*Verifier)

func WithPrecision(p int32) Option {
	return func(v *Verifier) { v.hasher = NewHasher(p) }
}

func WithZThreshold(z float64) Option {
	return func(v *Verifier) {
		if z > 0 {
			v.zThreshold = z
		}
	}
}

// WithWindow sets how many accepted close-to-close changes feed the rolling statistics.
func WithWindow(n int) Option {
	return func(v *Verifier) {
		if n >= minSamples {
			v.window = n
		}
	}
}

func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		hasher:     NewHasher(DefaultPrecision),
		zThreshold: DefaultZThreshold,
		window:     DefaultWindow,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Hasher exposes the verifier's hasher so callers can produce reference hashes.
func (v *Verifier) Hasher() Hasher { return v.hasher }

type verifyParams struct {
	refs []string
}

// VerifyOption adjusts a single Verify call.
type VerifyOption func(*verifyParams)

// WithReferenceHashes supplies previously recorded per-bar hashes.
// refs[i] is compared to the hash of bars[i]; empty entries are skipped.
func WithReferenceHashes(refs []string) VerifyOption {
	return func(p *verifyParams) { p.refs = refs }
}

// Verify inspects bars and returns a verdict. It never fails; an empty input
// produces a verdict with quality 0.
func (v *Verifier) Verify(bars []models.Bar, opts ...VerifyOption) models.IntegrityVerdict {
	var p verifyParams
	for _, o := range opts {
		o(&p)
	}

	if len(bars) == 0 {
		return models.IntegrityVerdict{
			Quality:   0,
			ChainHash: ChainSeed,
			Anomalies: []models.Anomaly{},
			Message:   "no bars to verify",
		}
	}

	var anomalies []models.Anomaly
	anomalies = append(anomalies, v.checkHashes(bars, p.refs)...)
	anomalies = append(anomalies, checkOHLC(bars)...)
	anomalies = append(anomalies, v.checkDiscontinuities(bars)...)
	sort.SliceStable(anomalies, func(i, j int) bool { return anomalies[i].Index < anomalies[j].Index })

	verdict := models.IntegrityVerdict{
		TotalBars: len(bars),
		ChainHash: v.hasher.ChainHash(bars),
		Anomalies: anomalies,
	}
	if verdict.Anomalies == nil {
		verdict.Anomalies = []models.Anomaly{}
	}
	for _, a := range anomalies {
		switch a.Severity {
		case models.SeverityCritical:
			verdict.Corrupted = true
		case models.SeverityWarning:
			verdict.AnomalySuspected = true
		}
	}
	verdict.Valid = len(anomalies) == 0
	verdict.Quality = math.Max(0, 1-float64(len(anomalies))/float64(len(bars)))
	verdict.Message = verdictMessage(verdict)
	return verdict
}

func (v *Verifier) checkHashes(bars []models.Bar, refs []string) []models.Anomaly {
	var out []models.Anomaly
	for i := 0; i < len(bars) && i < len(refs); i++ {
		if refs[i] == "" {
			continue
		}
		got := v.hasher.Hash(bars[i])
		if got != refs[i] {
			out = append(out, newAnomaly(models.AnomalyHashMismatch, i, bars[i],
				fmt.Sprintf("expected hash %s, got %s", refs[i], got)))
		}
	}
	return out
}

func checkOHLC(bars []models.Bar) []models.Anomaly {
	var out []models.Anomaly
	for i, b := range bars {
		var violations []string
		if b.High.LessThan(b.Open) {
			violations = append(violations, "high < open")
		}
		if b.High.LessThan(b.Close) {
			violations = append(violations, "high < close")
		}
		if b.High.LessThan(b.Low) {
			violations = append(violations, "high < low")
		}
		if b.Low.GreaterThan(b.Open) {
			violations = append(violations, "low > open")
		}
		if b.Low.GreaterThan(b.Close) {
			violations = append(violations, "low > close")
		}
		if len(violations) > 0 {
			out = append(out, newAnomaly(models.AnomalyOHLCViolation, i, b, strings.Join(violations, "; ")))
		}
	}
	return out
}

// checkDiscontinuities flags closes whose change is more than zThreshold rolling
// standard deviations from the rolling mean. A bar is accepted if it is
// consistent with either the last accepted close (isolated spike) or the
// immediately preceding close (level shift). Flagged changes never enter the
// statistics, so one bad print does not mask its neighbours.
func (v *Verifier) checkDiscontinuities(bars []models.Bar) []models.Anomaly {
	if len(bars) < minBars {
		return nil
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
	}

	var (
		out     []models.Anomaly
		changes = make([]float64, 0, v.window)
		ref     int
	)
	for i := 1; i < len(bars); i++ {
		if len(changes) < minSamples {
			changes = pushWindow(changes, closes[i]-closes[i-1], v.window)
			ref = i
			continue
		}

		mean, std := meanStd(changes)
		gap := i - ref
		zRef := zScore(closes[i]-closes[ref], mean, std, gap)
		if zRef <= v.zThreshold {
			changes = pushWindow(changes, (closes[i]-closes[ref])/float64(gap), v.window)
			ref = i
			continue
		}
		if gap > 1 {
			if zPrev := zScore(closes[i]-closes[i-1], mean, std, 1); zPrev <= v.zThreshold {
				changes = pushWindow(changes, closes[i]-closes[i-1], v.window)
				ref = i
				continue
			}
		}

		detail := fmt.Sprintf("close change %.6g is %s standard deviations from rolling mean", closes[i]-closes[ref], formatZ(zRef))
		out = append(out, newAnomaly(models.AnomalyPriceDiscontinuity, i, bars[i], detail))
	}
	return out
}

// zScore scales mean and std by the number of steps spanned. A zero std makes
// any deviation infinitely unlikely.
func zScore(delta, mean, std float64, steps int) float64 {
	dev := math.Abs(delta - mean*float64(steps))
	if std == 0 {
		if dev <= 1e-12 {
			return 0
		}
		return math.Inf(1)
	}
	return dev / (std * math.Sqrt(float64(steps)))
}

func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}

func pushWindow(xs []float64, x float64, size int) []float64 {
	if len(xs) == size {
		copy(xs, xs[1:])
		xs = xs[:size-1]
	}
	return append(xs, x)
}

func formatZ(z float64) string {
	if math.IsInf(z, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", z)
}

func newAnomaly(kind models.AnomalyKind, i int, b models.Bar, detail string) models.Anomaly {
	return models.Anomaly{
		Kind:      kind,
		Severity:  models.SeverityOf(kind),
		Index:     i,
		Timestamp: b.Timestamp,
		Detail:    detail,
	}
}

func verdictMessage(v models.IntegrityVerdict) string {
	switch {
	case v.Valid:
		return "sequence verified"
	case v.Corrupted && v.AnomalySuspected:
		return "data corruption detected alongside price discontinuities"
	case v.Corrupted:
		return "data corruption detected"
	default:
		return "price discontinuity suspected"
	}
}
