package models

import (
	"strings"
	"time"
)

// KillAction distinguishes a kill from the release that supersedes it.
type KillAction string

const (
	ActionKill    KillAction = "KILL"
	ActionRelease KillAction = "RELEASE"
)

// Well-known scope prefixes. Scope strings are otherwise opaque.
const (
	ScopeGlobal      = "global"
	scopeStatePrefix = "state:"
	scopeSymPrefix   = "symbol:"
)

// StateScope is the scope used for staleness escalations.
func StateScope(stateHash string) string { return scopeStatePrefix + stateHash }

// SymbolScope is the scope used for integrity halts on one instrument.
func SymbolScope(symbol string) string { return scopeSymPrefix + strings.ToUpper(symbol) }

// KillFlagRecord is one immutable ledger entry.
// ExpiresAt is zero for kills that last until released.
type KillFlagRecord struct {
	ID        string     `json:"id"`
	Sequence  uint64     `json:"sequence"`
	Action    KillAction `json:"action"`
	Reason    string     `json:"reason"`
	Scope     string     `json:"scope"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Hash      string     `json:"hash"`
	PrevHash  string     `json:"prev_hash"`
}

// InEffect reports whether a KILL record applies at now, ignoring supersession.
// A record does not apply before it was created.
func (r KillFlagRecord) InEffect(now time.Time) bool {
	if r.Action != ActionKill || now.Before(r.CreatedAt) {
		return false
	}
	return r.ExpiresAt.IsZero() || now.Before(r.ExpiresAt)
}

// KillRequest is what callers outside the gate submit to the ledger.
type KillRequest struct {
	Reason     string `json:"reason" validate:"required"`
	Scope      string `json:"scope" validate:"required"`
	TTLSeconds int64  `json:"ttl_seconds" validate:"gte=0"`
}

// TTL is zero for kills that last until released.
func (r KillRequest) TTL() time.Duration { return time.Duration(r.TTLSeconds) * time.Second }

// KillNotification is emitted when a kill is recorded.
type KillNotification struct {
	Record    KillFlagRecord `json:"record"`
	StateHash string         `json:"state_hash,omitempty"`
	Source    string         `json:"source"`
}
