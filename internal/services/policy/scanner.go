package policy

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	domrepo "Guardrail/internal/domain/repository"
	"Guardrail/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxTargets bounds a single scan.
const DefaultMaxTargets = 12

var (
	ErrTooManyTargets = errors.New("policy: too many scan targets")
	ErrNoTargets      = errors.New("policy: no scan targets")
)

// TargetResult is the gate vector for one scanned instrument.
type TargetResult struct {
	Target string
	Vector BitVector
}

// Scanner evaluates a ruleset across several instruments concurrently and
// returns the results in a cryptographically random order.
type Scanner struct {
	rules      *Ruleset
	provider   domrepo.MarketStateProvider
	maxTargets int
	log        *logger.Logger
	metrics    domrepo.Metrics
	random     io.Reader
}

type ScannerOption func(*Scanner)

// WithMaxTargets overrides the target cap; values below 1 are ignored.
func WithMaxTargets(n int) ScannerOption {
	return func(s *Scanner) {
		if n >= 1 {
			s.maxTargets = n
		}
	}
}

func WithScanLogger(l *logger.Logger) ScannerOption {
	return func(s *Scanner) { s.log = l }
}

func WithScanMetrics(m domrepo.Metrics) ScannerOption {
	return func(s *Scanner) { s.metrics = m }
}

func NewScanner(rules *Ruleset, provider domrepo.MarketStateProvider, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		rules:      rules,
		provider:   provider,
		maxTargets: DefaultMaxTargets,
		log:        logger.Nop(),
		random:     rand.Reader,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MaxTargets is the configured cap.
func (s *Scanner) MaxTargets() int { return s.maxTargets }

// Rules is the certified ruleset the scanner evaluates.
func (s *Scanner) Rules() *Ruleset { return s.rules }

// ScanAll evaluates every target against the named drawers (all when none
// are named). Targets are trimmed and de-duplicated before the cap is
// applied. A provider failure for any target fails the whole scan.
func (s *Scanner) ScanAll(ctx context.Context, targets []string, drawerIDs ...string) ([]TargetResult, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordLatency("scan", time.Since(start).Seconds())
		}
	}()

	list := normalizeTargets(targets)
	if len(list) == 0 {
		return nil, ErrNoTargets
	}
	if len(list) > s.maxTargets {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyTargets, len(list), s.maxTargets)
	}
	if _, err := s.rules.selectDrawers(drawerIDs); err != nil {
		return nil, err
	}

	out := make([]TargetResult, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(list))
	for i, target := range list {
		g.Go(func() error {
			market, err := s.provider.MarketState(gctx, target)
			if err != nil {
				return fmt.Errorf("market state %s: %w", target, err)
			}
			vec, err := s.rules.Evaluate(market, drawerIDs...)
			if err != nil {
				return err
			}
			out[i] = TargetResult{Target: target, Vector: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if s.metrics != nil {
			s.metrics.RecordError("scan")
		}
		return nil, err
	}

	if err := shuffle(out, s.random); err != nil {
		return nil, err
	}
	s.log.Debug("scan complete", logger.Strings("targets", list))
	return out, nil
}

func normalizeTargets(targets []string) []string {
	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// shuffle is a Fisher-Yates permutation driven by a cryptographic source.
func shuffle(items []TargetResult, random io.Reader) error {
	for i := len(items) - 1; i > 0; i-- {
		n, err := rand.Int(random, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("shuffle: %w", err)
		}
		j := int(n.Int64())
		items[i], items[j] = items[j], items[i]
	}
	return nil
}
