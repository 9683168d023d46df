// Package staleness blocks actions whose market context has aged past its
// regime TTL or the absolute ceiling, and escalates stale contexts to a
// temporary kill exactly once per kill window.
package staleness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	"Guardrail/pkg/canonical"
	"Guardrail/pkg/logger"

	"github.com/google/uuid"
)

var ErrMissingAnchor = errors.New("staleness: anchor not found")

// KillRecorder is the part of the kill ledger the gate writes to.
type KillRecorder interface {
	Create(ctx context.Context, req models.KillRequest) (models.KillFlagRecord, error)
}

// Gate is safe for concurrent use; cross-process exclusivity comes from the AnchorStore.
type Gate struct {
	store    domrepo.AnchorStore
	ledger   KillRecorder
	notifier domrepo.Notifier
	metrics  domrepo.Metrics
	log      *logger.Logger

	clock        func() time.Time
	newID        func() string
	threshold    time.Duration
	killDuration time.Duration
}

type Option func(*Gate)

func WithClock(clock func() time.Time) Option {
	return func(g *Gate) { g.clock = clock }
}

func WithLogger(l *logger.Logger) Option {
	return func(g *Gate) { g.log = l }
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

func WithNotifier(n domrepo.Notifier) Option {
	return func(g *Gate) { g.notifier = n }
}

func WithIDGenerator(f func() string) Option {
	return func(g *Gate) { g.newID = f }
}

func NewGate(store domrepo.AnchorStore, ledger KillRecorder, opts ...Option) *Gate {
	g := &Gate{
		store:        store,
		ledger:       ledger,
		log:          logger.Nop(),
		clock:        time.Now,
		newID:        func() string { return uuid.NewString() },
		threshold:    models.StalenessThreshold,
		killDuration: models.TemporaryKillDuration,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

type snapshot struct {
	Market models.MarketState `json:"market"`
	System map[string]any     `json:"system"`
}

// StateHash is the SHA-256 of the canonical JSON of market and system state.
// Capture time is not part of the hash.
func StateHash(market models.MarketState, system map[string]any) (string, error) {
	if market == nil {
		market = models.MarketState{}
	}
	if system == nil {
		system = map[string]any{}
	}
	h, err := canonical.Hash(snapshot{Market: market, System: system})
	if err != nil {
		return "", fmt.Errorf("state hash: %w", err)
	}
	return h, nil
}

// CreateAnchor hashes the snapshot and stores an anchor for it, replacing any
// anchor with the same hash. Unknown regimes get the shortest TTL.
func (g *Gate) CreateAnchor(ctx context.Context, market models.MarketState, system map[string]any, regime models.Regime) (models.StateAnchor, error) {
	hash, err := StateHash(market, system)
	if err != nil {
		return models.StateAnchor{}, err
	}
	if !regime.Valid() {
		g.log.Warn("unknown regime, using shortest ttl", logger.String("regime", string(regime)))
		regime = models.RegimeNews
	}

	a := models.StateAnchor{
		ID:         g.newID(),
		StateHash:  hash,
		CapturedAt: g.clock().UTC(),
		TTLSeconds: int64(regime.TTL() / time.Second),
		Regime:     regime,
	}
	if err := g.store.PutAnchor(ctx, a); err != nil {
		g.recordError("anchor_put")
		return models.StateAnchor{}, err
	}
	g.log.Debug("state anchor created",
		logger.String("state_hash", a.StateHash),
		logger.String("regime", string(a.Regime)),
		logger.Int64("ttl_seconds", a.TTLSeconds),
	)
	return a, nil
}

// Check decides whether an action bound to stateHash may proceed.
// Exits always pass. Store failures fail closed and are returned as errors.
func (g *Gate) Check(ctx context.Context, stateHash string, isExit bool) (models.StaleCheckResult, error) {
	start := time.Now()
	res, err := g.check(ctx, stateHash, isExit)
	if g.metrics != nil {
		g.metrics.RecordStaleCheck(res.Conflict, res.Fresh)
		g.metrics.RecordLatency("stale_check", time.Since(start).Seconds())
	}
	return res, err
}

// CheckState is Check preceded by a comparison of stateHash with the hash of
// the current snapshot; a difference is STATE_MISMATCH.
func (g *Gate) CheckState(ctx context.Context, stateHash string, market models.MarketState, system map[string]any, isExit bool) (models.StaleCheckResult, error) {
	if isExit {
		return g.Check(ctx, stateHash, true)
	}
	current, err := StateHash(market, system)
	if err != nil {
		return blocked(models.ConflictStateMismatch, "current state could not be hashed"), err
	}
	if current != stateHash {
		res := blocked(models.ConflictStateMismatch,
			fmt.Sprintf("state changed since anchor: anchored %s, current %s", short(stateHash), short(current)))
		if g.metrics != nil {
			g.metrics.RecordStaleCheck(res.Conflict, false)
		}
		return res, nil
	}
	return g.Check(ctx, stateHash, false)
}

func (g *Gate) check(ctx context.Context, stateHash string, isExit bool) (models.StaleCheckResult, error) {
	if isExit {
		return models.StaleCheckResult{
			Fresh:    true,
			Conflict: models.ConflictNone,
			Reason:   "exit orders bypass staleness checks",
		}, nil
	}

	now := g.clock()

	if res, blocking, err := g.activeKill(ctx, stateHash, now); err != nil || blocking {
		return res, err
	}

	a, ok, err := g.store.GetAnchor(ctx, stateHash)
	if err != nil {
		g.recordError("anchor_get")
		return blocked(models.ConflictMissingAnchor, "anchor store unavailable"), err
	}
	if !ok {
		return blocked(models.ConflictMissingAnchor, "no anchor for state hash"), nil
	}

	if reason, stale := g.staleReason(a, now); stale {
		return g.escalate(ctx, a, reason, now)
	}

	return models.StaleCheckResult{
		Fresh:        true,
		Conflict:     models.ConflictNone,
		Reason:       "context fresh",
		TTLRemaining: g.remaining(a, now),
	}, nil
}

// activeKill reports a blocking result when a temporary kill is in force,
// and clears kills that have run out.
func (g *Gate) activeKill(ctx context.Context, stateHash string, now time.Time) (models.StaleCheckResult, bool, error) {
	k, ok, err := g.store.GetKill(ctx, stateHash)
	if err != nil {
		g.recordError("kill_get")
		return blocked(models.ConflictStaleContext, "kill store unavailable"), true, err
	}
	if !ok {
		return models.StaleCheckResult{}, false, nil
	}
	if k.Active(now) {
		res := blocked(models.ConflictStaleContext, fmt.Sprintf("context killed until %s", k.KillUntil.UTC().Format(time.RFC3339)))
		res.Killed = true
		return res, true, nil
	}
	// only the kill read above is cleared; a newer one written meanwhile stays
	if _, err := g.store.ClearKill(ctx, k); err != nil {
		g.log.Warn("expired kill not cleared", logger.String("state_hash", stateHash), logger.Error(err))
	}
	return models.StaleCheckResult{}, false, nil
}

func (g *Gate) staleReason(a models.StateAnchor, now time.Time) (string, bool) {
	age := a.Age(now)
	switch {
	case age > g.threshold:
		return fmt.Sprintf("anchor age %ds exceeds %ds staleness ceiling", int64(age/time.Second), int64(g.threshold/time.Second)), true
	case a.Expired(now):
		return fmt.Sprintf("anchor age %ds exceeds %s ttl of %ds", int64(age/time.Second), a.Regime, a.TTLSeconds), true
	}
	return "", false
}

// remaining is the time left before either the TTL or the ceiling is crossed.
func (g *Gate) remaining(a models.StateAnchor, now time.Time) time.Duration {
	rem := a.TTLRemaining(now)
	if ceil := g.threshold - a.Age(now); ceil < rem {
		rem = ceil
	}
	if rem < 0 {
		return 0
	}
	return rem
}

// escalate claims the kill slot for a stale hash. Only the caller that wins
// the slot records the kill and notifies; everyone else sees Killed. A slot
// held by a kill that has run out is taken over with ReplaceKill, so two
// callers that read the same expired kill cannot both win.
func (g *Gate) escalate(ctx context.Context, a models.StateAnchor, reason string, now time.Time) (models.StaleCheckResult, error) {
	res := blocked(models.ConflictStaleContext, reason)
	res.Killed = true

	kill := models.TemporaryKill{StateHash: a.StateHash, KillUntil: now.Add(g.killDuration).UTC()}
	for attempt := 0; attempt < 3; attempt++ {
		won, err := g.store.AcquireKill(ctx, kill)
		if err != nil {
			g.recordError("kill_acquire")
			res.Killed = false
			return res, err
		}
		if won {
			res.ShouldKill = true
			g.recordKill(ctx, a, reason)
			return res, nil
		}

		held, ok, err := g.store.GetKill(ctx, a.StateHash)
		if err != nil {
			g.recordError("kill_get")
			return res, err
		}
		if !ok {
			continue
		}
		if held.Active(now) {
			return res, nil
		}
		won, err = g.store.ReplaceKill(ctx, held, kill)
		if err != nil {
			g.recordError("kill_acquire")
			return res, err
		}
		if won {
			res.ShouldKill = true
			g.recordKill(ctx, a, reason)
			return res, nil
		}
	}
	return res, nil
}

func (g *Gate) recordKill(ctx context.Context, a models.StateAnchor, reason string) {
	if g.metrics != nil {
		g.metrics.RecordEscalation(a.Regime)
	}
	g.log.Warn("stale context escalated to temporary kill",
		logger.String("state_hash", a.StateHash),
		logger.String("regime", string(a.Regime)),
		logger.String("reason", reason),
		logger.Duration("kill_ms", g.killDuration),
	)

	if g.ledger == nil {
		return
	}
	rec, err := g.ledger.Create(ctx, models.KillRequest{
		Reason:     "stale context: " + reason,
		Scope:      models.StateScope(a.StateHash),
		TTLSeconds: int64(g.killDuration / time.Second),
	})
	if err != nil {
		g.recordError("ledger_create")
		g.log.Error("kill record not written", logger.String("state_hash", a.StateHash), logger.Error(err))
		return
	}

	if g.notifier == nil {
		return
	}
	n := models.KillNotification{Record: rec, StateHash: a.StateHash, Source: "staleness"}
	if err := g.notifier.Notify(ctx, n); err != nil {
		g.recordError("notify")
		g.log.Warn("kill notification failed", logger.String("record_id", rec.ID), logger.Error(err))
	}
}

// RefreshAnchor replaces the anchor for oldHash with a fresh anchor for the
// new snapshot, inheriting the old regime. The old anchor and any temporary
// kill on it are removed.
func (g *Gate) RefreshAnchor(ctx context.Context, oldHash string, market models.MarketState, system map[string]any) (models.StateAnchor, error) {
	old, ok, err := g.store.GetAnchor(ctx, oldHash)
	if err != nil {
		g.recordError("anchor_get")
		return models.StateAnchor{}, err
	}
	if !ok {
		return models.StateAnchor{}, fmt.Errorf("%w: %s", ErrMissingAnchor, short(oldHash))
	}

	if err := g.store.DeleteKill(ctx, oldHash); err != nil {
		return models.StateAnchor{}, fmt.Errorf("clear kill: %w", err)
	}
	a, err := g.CreateAnchor(ctx, market, system, old.Regime)
	if err != nil {
		return models.StateAnchor{}, err
	}
	if a.StateHash != oldHash {
		if err := g.store.DeleteAnchor(ctx, oldHash); err != nil {
			g.log.Warn("old anchor not removed", logger.String("state_hash", oldHash), logger.Error(err))
		}
	}
	return a, nil
}

// CleanupStats reports what a Cleanup pass removed.
type CleanupStats struct {
	AnchorsRemoved int `json:"anchors_removed"`
	KillsRemoved   int `json:"kills_removed"`
}

// Removed is the total number of entries purged.
func (s CleanupStats) Removed() int { return s.AnchorsRemoved + s.KillsRemoved }

// Cleanup purges kills that have run out and anchors older than maxAge.
// A non-positive maxAge uses the staleness ceiling.
func (g *Gate) Cleanup(ctx context.Context, maxAge time.Duration) (CleanupStats, error) {
	if maxAge <= 0 {
		maxAge = g.threshold
	}
	now := g.clock()
	var stats CleanupStats

	kills, err := g.store.ListKills(ctx)
	if err != nil {
		return stats, fmt.Errorf("list kills: %w", err)
	}
	for _, k := range kills {
		if k.Active(now) {
			continue
		}
		cleared, err := g.store.ClearKill(ctx, k)
		if err != nil {
			return stats, err
		}
		if cleared {
			stats.KillsRemoved++
		}
	}

	anchors, err := g.store.ListAnchors(ctx)
	if err != nil {
		return stats, fmt.Errorf("list anchors: %w", err)
	}
	for _, a := range anchors {
		if a.Age(now) <= maxAge {
			continue
		}
		if err := g.store.DeleteAnchor(ctx, a.StateHash); err != nil {
			return stats, err
		}
		stats.AnchorsRemoved++
	}

	if stats.Removed() > 0 {
		g.log.Info("staleness cleanup",
			logger.Int("anchors_removed", stats.AnchorsRemoved),
			logger.Int("kills_removed", stats.KillsRemoved),
		)
	}
	return stats, nil
}

// State reports where stateHash sits in the staleness lifecycle.
func (g *Gate) State(ctx context.Context, stateHash string) (models.ContextState, error) {
	now := g.clock()

	k, ok, err := g.store.GetKill(ctx, stateHash)
	if err != nil {
		return "", err
	}
	if ok {
		if k.Active(now) {
			return models.ContextKilled, nil
		}
		return models.ContextExpiredKill, nil
	}

	a, ok, err := g.store.GetAnchor(ctx, stateHash)
	if err != nil {
		return "", err
	}
	if !ok {
		return models.ContextMissing, nil
	}
	if _, stale := g.staleReason(a, now); stale {
		return models.ContextStalePendingKill, nil
	}
	return models.ContextFresh, nil
}

// Anchor returns the stored anchor for stateHash.
func (g *Gate) Anchor(ctx context.Context, stateHash string) (models.StateAnchor, error) {
	a, ok, err := g.store.GetAnchor(ctx, stateHash)
	if err != nil {
		return models.StateAnchor{}, err
	}
	if !ok {
		return models.StateAnchor{}, fmt.Errorf("%w: %s", ErrMissingAnchor, short(stateHash))
	}
	return a, nil
}

func (g *Gate) recordError(kind string) {
	if g.metrics != nil {
		g.metrics.RecordError(kind)
	}
}

func blocked(c models.Conflict, reason string) models.StaleCheckResult {
	return models.StaleCheckResult{Fresh: false, Conflict: c, Reason: reason}
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
