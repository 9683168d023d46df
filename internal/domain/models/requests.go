package models

// VerifyRequest carries a bar sequence to verify, with optional reference hashes.
type VerifyRequest struct {
	Symbol          string   `json:"symbol" validate:"required,symbol"`
	Bars            []Bar    `json:"bars"`
	ReferenceHashes []string `json:"reference_hashes,omitempty"`
}

// AnchorRequest asks for a state anchor. With bars present the regime is
// derived from their integrity verdict and Regime is ignored.
type AnchorRequest struct {
	Symbol string         `json:"symbol" validate:"required,symbol"`
	Market MarketState    `json:"market" validate:"required"`
	System map[string]any `json:"system,omitempty"`
	Regime Regime         `json:"regime,omitempty"`
	Bars   []Bar          `json:"bars,omitempty"`
}

// CheckRequest asks whether an action bound to StateHash may proceed.
// When Market is set the current snapshot is compared with the anchor.
type CheckRequest struct {
	StateHash string         `json:"state_hash" validate:"required"`
	Market    MarketState    `json:"market,omitempty"`
	System    map[string]any `json:"system,omitempty"`
	IsExit    bool           `json:"is_exit"`
}

// RefreshRequest replaces an anchor with one for a new snapshot.
type RefreshRequest struct {
	OldHash string         `json:"old_hash" validate:"required"`
	Market  MarketState    `json:"market" validate:"required"`
	System  map[string]any `json:"system,omitempty"`
}

// ScanRequest evaluates drawers across several instruments. Markets, when
// present, supplies the snapshot per target instead of the upstream provider.
type ScanRequest struct {
	Targets []string               `json:"targets" validate:"required,min=1,dive,symbol"`
	Drawers []string               `json:"drawers,omitempty"`
	Markets map[string]MarketState `json:"markets,omitempty"`
}

// ReleaseRequest lifts the active kill on Scope.
type ReleaseRequest struct {
	Scope  string `json:"scope" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// ActionRequest is one intended trading action presented for authorization.
type ActionRequest struct {
	Symbol    string         `json:"symbol" validate:"required,symbol"`
	StateHash string         `json:"state_hash" validate:"required"`
	Market    MarketState    `json:"market" validate:"required"`
	System    map[string]any `json:"system,omitempty"`
	Drawers   []string       `json:"drawers,omitempty"`
	IsExit    bool           `json:"is_exit"`
}
