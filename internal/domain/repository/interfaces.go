package repository

import (
	"context"

	"Guardrail/internal/domain/models"
)

// AnchorStore holds state anchors and temporary kills keyed by state hash.
// It is shared by concurrent callers. AcquireKill, ReplaceKill and ClearKill
// are check-and-set primitives and must be atomic across processes.
type AnchorStore interface {
	PutAnchor(ctx context.Context, a models.StateAnchor) error
	GetAnchor(ctx context.Context, stateHash string) (models.StateAnchor, bool, error)
	DeleteAnchor(ctx context.Context, stateHash string) error
	ListAnchors(ctx context.Context) ([]models.StateAnchor, error)

	// AcquireKill stores k only if no kill exists for k.StateHash.
	// It reports whether this caller won the slot.
	AcquireKill(ctx context.Context, k models.TemporaryKill) (bool, error)
	GetKill(ctx context.Context, stateHash string) (models.TemporaryKill, bool, error)
	// ReplaceKill swaps seen for next only while seen is still the stored kill.
	ReplaceKill(ctx context.Context, seen, next models.TemporaryKill) (bool, error)
	// ClearKill removes seen only while it is still the stored kill.
	ClearKill(ctx context.Context, seen models.TemporaryKill) (bool, error)
	DeleteKill(ctx context.Context, stateHash string) error
	ListKills(ctx context.Context) ([]models.TemporaryKill, error)
}

// LedgerStore is append-only storage for kill records. There is no update or delete.
type LedgerStore interface {
	Append(ctx context.Context, r models.KillFlagRecord) error
	// All returns every record ordered by Sequence.
	All(ctx context.Context) ([]models.KillFlagRecord, error)
	Close() error
}

// RecordSink receives every kill record after it has been durably appended.
type RecordSink interface {
	Emit(ctx context.Context, r models.KillFlagRecord) error
}

// Notifier delivers kill notifications to operators and subscribers.
type Notifier interface {
	Notify(ctx context.Context, n models.KillNotification) error
}

// MarketStateProvider supplies the current market snapshot for a target instrument.
type MarketStateProvider interface {
	MarketState(ctx context.Context, target string) (models.MarketState, error)
}

// Metrics records governance telemetry. No method accepts a count of passed gates.
type Metrics interface {
	RecordVerdict(symbol string, health models.HealthState)
	RecordAnomaly(kind models.AnomalyKind)
	RecordStaleCheck(conflict models.Conflict, fresh bool)
	RecordEscalation(regime models.Regime)
	RecordKillRecord(action models.KillAction)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
