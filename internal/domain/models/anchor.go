package models

import (
	"math"
	"time"
)

// Regime is the volatility/context classification that selects an anchor TTL.
type Regime string

const (
	RegimeNormal  Regime = "NORMAL"
	RegimeHighVol Regime = "HIGH_VOL"
	RegimeNews    Regime = "NEWS"
)

// StalenessThreshold is the absolute age ceiling for any anchor, independent of TTL.
const StalenessThreshold = 15 * time.Minute

// TemporaryKillDuration is how long a staleness escalation blocks a state hash.
const TemporaryKillDuration = 5 * time.Minute

// TTL returns the regime's time-to-live. Unknown regimes get the shortest TTL.
func (r Regime) TTL() time.Duration {
	switch r {
	case RegimeNormal:
		return 1800 * time.Second
	case RegimeHighVol:
		return 900 * time.Second
	default:
		return 600 * time.Second
	}
}

// Valid reports whether r is one of the declared regimes.
func (r Regime) Valid() bool {
	switch r {
	case RegimeNormal, RegimeHighVol, RegimeNews:
		return true
	}
	return false
}

// StateAnchor binds a pending action to a hashed market+system snapshot.
// Anchors are replaced, never mutated.
type StateAnchor struct {
	ID         string    `json:"id"`
	StateHash  string    `json:"state_hash"`
	CapturedAt time.Time `json:"captured_at"`
	TTLSeconds int64     `json:"ttl_seconds"`
	Regime     Regime    `json:"regime"`
}

// TTL returns the anchor TTL as a duration.
func (a StateAnchor) TTL() time.Duration { return time.Duration(a.TTLSeconds) * time.Second }

// ExpiresAt is CapturedAt + TTL.
func (a StateAnchor) ExpiresAt() time.Time { return a.CapturedAt.Add(a.TTL()) }

// Expired reports now > CapturedAt + TTL.
func (a StateAnchor) Expired(now time.Time) bool { return now.After(a.ExpiresAt()) }

// Age is now - CapturedAt.
func (a StateAnchor) Age(now time.Time) time.Duration { return now.Sub(a.CapturedAt) }

// TTLRemaining is max(0, TTL - age).
func (a StateAnchor) TTLRemaining(now time.Time) time.Duration {
	rem := a.TTL() - a.Age(now)
	if rem < 0 {
		return 0
	}
	return rem
}

// TemporaryKill blocks a state hash until KillUntil.
type TemporaryKill struct {
	StateHash string    `json:"state_hash"`
	KillUntil time.Time `json:"kill_until"`
}

// Active reports whether the kill still blocks at now.
func (k TemporaryKill) Active(now time.Time) bool { return now.Before(k.KillUntil) }

// Conflict classifies why a freshness check did not pass.
type Conflict string

const (
	ConflictNone          Conflict = "NONE"
	ConflictStaleContext  Conflict = "STALE_CONTEXT"
	ConflictStateMismatch Conflict = "STATE_MISMATCH"
	ConflictMissingAnchor Conflict = "MISSING_ANCHOR"
)

// StaleCheckResult is the outcome of one freshness check.
// Killed is true whenever a temporary kill blocks the hash, whether or not
// this call performed the escalation.
type StaleCheckResult struct {
	Fresh        bool          `json:"fresh"`
	Conflict     Conflict      `json:"conflict"`
	Reason       string        `json:"reason"`
	TTLRemaining time.Duration `json:"ttl_remaining"`
	ShouldKill   bool          `json:"should_kill"`
	Killed       bool          `json:"killed"`
}

// TTLRemainingSeconds rounds the remaining TTL down to whole seconds.
func (r StaleCheckResult) TTLRemainingSeconds() int64 {
	return int64(math.Floor(r.TTLRemaining.Seconds()))
}

// ContextState is the per-hash staleness state machine position.
type ContextState string

const (
	ContextMissing          ContextState = "MISSING"
	ContextFresh            ContextState = "FRESH"
	ContextStalePendingKill ContextState = "STALE_PENDING_KILL"
	ContextKilled           ContextState = "KILLED"
	ContextExpiredKill      ContextState = "EXPIRED_KILL"
)
