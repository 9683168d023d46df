package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	"Guardrail/internal/services/policy"
	"Guardrail/internal/services/staleness"
	"Guardrail/pkg/logger"
)

var ErrIntegrityHalt = errors.New("authorizer: integrity halt")

// Stage names the step that decided an action.
type Stage string

const (
	StageKill      Stage = "kill"
	StageFreshness Stage = "freshness"
	StageGates     Stage = "gates"
	StageExit      Stage = "exit"
)

// Decision is the outcome of one authorization. Vector holds the raw gate
// outcomes; callers read them with Vector.Get over GateIDs.
type Decision struct {
	Allowed   bool                     `json:"allowed"`
	Stage     Stage                    `json:"stage"`
	Reason    string                   `json:"reason"`
	Freshness *models.StaleCheckResult `json:"freshness,omitempty"`
	Kill      *models.KillFlagRecord   `json:"kill,omitempty"`
	GateIDs   []string                 `json:"gate_ids,omitempty"`
	Vector    policy.BitVector         `json:"-"`
}

// Authorizer is the single entry point for trading actions. It orders the
// checks so a killed symbol or a stale context blocks before any gate runs.
type Authorizer struct {
	monitor *IntegrityMonitor
	gate    *staleness.Gate
	rules   *policy.Ruleset
	ledger  KillLedger
	metrics domrepo.Metrics
	log     *logger.Logger
	clock   func() time.Time
}

func NewAuthorizer(monitor *IntegrityMonitor, gate *staleness.Gate, rules *policy.Ruleset, ledger KillLedger, metrics domrepo.Metrics, log *logger.Logger) *Authorizer {
	if log == nil {
		log = logger.Nop()
	}
	return &Authorizer{
		monitor: monitor,
		gate:    gate,
		rules:   rules,
		ledger:  ledger,
		metrics: metrics,
		log:     log,
		clock:   time.Now,
	}
}

// SetClock replaces the wall clock; used by tests.
func (a *Authorizer) SetClock(clock func() time.Time) { a.clock = clock }

func (a *Authorizer) Rules() *policy.Ruleset { return a.rules }

// Anchor captures a state anchor for req. When bars are supplied the regime
// comes from their integrity verdict, and a HALT refuses the anchor.
func (a *Authorizer) Anchor(ctx context.Context, req models.AnchorRequest) (models.StateAnchor, *IntegrityReport, error) {
	regime := req.Regime
	var rep *IntegrityReport
	if len(req.Bars) > 0 {
		r, err := a.monitor.Evaluate(ctx, req.Symbol, req.Bars)
		if err != nil {
			return models.StateAnchor{}, nil, err
		}
		rep = &r
		if r.Health.State == models.HealthHalt {
			return models.StateAnchor{}, rep, fmt.Errorf("%w: %s", ErrIntegrityHalt, r.Health.Reason)
		}
		regime = r.Regime
	}
	if regime == "" {
		regime = models.RegimeNormal
	}

	anchor, err := a.gate.CreateAnchor(ctx, req.Market, req.System, regime)
	if err != nil {
		return models.StateAnchor{}, rep, err
	}
	a.log.Debug("anchor captured",
		logger.String("symbol", strings.ToUpper(req.Symbol)),
		logger.String("state_hash", anchor.StateHash),
		logger.String("regime", string(anchor.Regime)),
	)
	return anchor, rep, nil
}

// Authorize decides whether req may proceed. Exits bypass kills, freshness
// and gates. Entries are blocked by an active symbol or global kill, then
// by a non-fresh anchor, and are allowed only if every selected gate passes.
func (a *Authorizer) Authorize(ctx context.Context, req models.ActionRequest) (Decision, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordLatency("authorize", time.Since(start).Seconds())
		}
	}()

	if req.IsExit {
		res, err := a.gate.CheckState(ctx, req.StateHash, req.Market, req.System, true)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: true, Stage: StageExit, Reason: res.Reason, Freshness: &res}, nil
	}

	killed, rec, err := a.ledger.IsKilled(ctx, models.SymbolScope(req.Symbol), a.clock())
	if err != nil {
		return Decision{}, fmt.Errorf("kill lookup: %w", err)
	}
	if killed {
		return Decision{Stage: StageKill, Reason: "killed: " + rec.Reason, Kill: &rec}, nil
	}

	res, err := a.check(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	if !res.Fresh {
		return Decision{Stage: StageFreshness, Reason: res.Reason, Freshness: &res}, nil
	}

	ids, err := a.rules.GateIDsFor(req.Drawers...)
	if err != nil {
		return Decision{}, err
	}
	vec, err := a.rules.Evaluate(req.Market, req.Drawers...)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Allowed: true, Stage: StageGates, Freshness: &res, GateIDs: ids, Vector: vec}
	for _, id := range ids {
		if passed, _ := vec.Get(id); !passed {
			d.Allowed = false
			d.Reason = "gate " + id + " failed"
			break
		}
	}
	return d, nil
}

func (a *Authorizer) check(ctx context.Context, req models.ActionRequest) (models.StaleCheckResult, error) {
	if len(req.Market) == 0 {
		return a.gate.Check(ctx, req.StateHash, false)
	}
	return a.gate.CheckState(ctx, req.StateHash, req.Market, req.System, false)
}
