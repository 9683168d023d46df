package models

// MarketState is a snapshot of named fields consumed by gate predicates
// and hashed into state anchors.
type MarketState map[string]any

// GateDefinition is one named boolean predicate owned by a drawer.
// When is a CEL expression over the `market` variable that must type-check to bool.
type GateDefinition struct {
	ID          string `json:"id" yaml:"id"`
	Drawer      string `json:"drawer" yaml:"-"`
	When        string `json:"when" yaml:"when"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// DrawerDefinition is a named group of gates evaluated together.
type DrawerDefinition struct {
	ID          string           `json:"id" yaml:"id"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Gates       []GateDefinition `json:"gates" yaml:"gates"`
}

// GateResult is a gate id and its single boolean outcome.
type GateResult struct {
	GateID string `json:"gate_id"`
	Passed bool   `json:"passed"`
}
