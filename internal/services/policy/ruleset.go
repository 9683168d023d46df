package policy

import (
	"errors"
	"fmt"

	"Guardrail/internal/domain/models"

	"github.com/google/cel-go/cel"
)

var ErrUnknownDrawer = errors.New("policy: unknown drawer")

// Ruleset is a certified, immutable set of drawers with precompiled gates.
// It is safe for concurrent use.
type Ruleset struct {
	drawers     []models.DrawerDefinition
	drawerIndex map[string]int
	gateIDs     []string
	programs    map[string]cel.Program
}

// GateIDs returns every gate id in declaration order.
func (r *Ruleset) GateIDs() []string {
	return append([]string(nil), r.gateIDs...)
}

// DrawerIDs returns drawer ids in declaration order.
func (r *Ruleset) DrawerIDs() []string {
	out := make([]string, len(r.drawers))
	for i, d := range r.drawers {
		out[i] = d.ID
	}
	return out
}

// Drawer returns a copy of the named drawer.
func (r *Ruleset) Drawer(id string) (models.DrawerDefinition, bool) {
	i, ok := r.drawerIndex[id]
	if !ok {
		return models.DrawerDefinition{}, false
	}
	d := r.drawers[i]
	d.Gates = append([]models.GateDefinition(nil), d.Gates...)
	return d, true
}

// GateIDsFor returns the gate ids of the named drawers in declaration order.
// No ids selects every drawer.
func (r *Ruleset) GateIDsFor(drawerIDs ...string) ([]string, error) {
	ds, err := r.selectDrawers(drawerIDs)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, d := range ds {
		for _, g := range d.Gates {
			out = append(out, g.ID)
		}
	}
	return out, nil
}

// EvaluateDrawer evaluates each gate of one drawer against market.
func (r *Ruleset) EvaluateDrawer(drawerID string, market models.MarketState) ([]models.GateResult, error) {
	ds, err := r.selectDrawers([]string{drawerID})
	if err != nil {
		return nil, err
	}
	return r.evaluate(ds, market), nil
}

// Evaluate evaluates the named drawers (all when none are named) and packs
// the outcomes into a BitVector.
func (r *Ruleset) Evaluate(market models.MarketState, drawerIDs ...string) (BitVector, error) {
	ds, err := r.selectDrawers(drawerIDs)
	if err != nil {
		return BitVector{}, err
	}
	return ToBitVector(r.evaluate(ds, market)), nil
}

func (r *Ruleset) evaluate(ds []models.DrawerDefinition, market models.MarketState) []models.GateResult {
	var out []models.GateResult
	for _, d := range ds {
		for _, g := range d.Gates {
			out = append(out, models.GateResult{GateID: g.ID, Passed: run(r.programs[g.ID], market)})
		}
	}
	return out
}

func (r *Ruleset) selectDrawers(ids []string) ([]models.DrawerDefinition, error) {
	if len(ids) == 0 {
		return r.drawers, nil
	}
	out := make([]models.DrawerDefinition, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		i, ok := r.drawerIndex[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDrawer, id)
		}
		out = append(out, r.drawers[i])
	}
	return out, nil
}
