// Package killledger is the append-only, hash-chained record of kill flags.
//
// Records are never updated or deleted. A kill is lifted either by its own
// expiry or by a later RELEASE record for the same scope.
package killledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	"Guardrail/pkg/canonical"
	"Guardrail/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// GenesisHash is PrevHash of the first record.
var GenesisHash = strings.Repeat("0", 64)

var (
	ErrChainBroken    = errors.New("killledger: hash chain broken")
	ErrInvalidRequest = errors.New("killledger: invalid kill request")
	ErrNotKilled      = errors.New("killledger: scope has no active kill")
)

var validate = validator.New()

// Ledger appends kill records to a LedgerStore. Appends are serialised
// in-process; the store is expected to have a single writer.
type Ledger struct {
	mu    sync.Mutex
	store domrepo.LedgerStore
	sink  domrepo.RecordSink

	clock   func() time.Time
	newID   func() string
	log     *logger.Logger
	metrics domrepo.Metrics

	loaded   bool
	headSeq  uint64
	headHash string
}

type Option func(*Ledger)

func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithSink forwards every appended record, e.g. to Kafka.
func WithSink(s domrepo.RecordSink) Option {
	return func(l *Ledger) { l.sink = s }
}

func WithLogger(log *logger.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func WithIDGenerator(f func() string) Option {
	return func(l *Ledger) { l.newID = f }
}

func New(store domrepo.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		clock: time.Now,
		newID: func() string { return uuid.NewString() },
		log:   logger.Nop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Create appends a KILL record. A zero TTL means the kill lasts until released.
func (l *Ledger) Create(ctx context.Context, req models.KillRequest) (models.KillFlagRecord, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	req.Scope = strings.TrimSpace(req.Scope)
	if err := validate.Struct(req); err != nil {
		return models.KillFlagRecord{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	return l.append(ctx, func(now time.Time) models.KillFlagRecord {
		r := models.KillFlagRecord{Action: models.ActionKill, Reason: req.Reason, Scope: req.Scope}
		if ttl := req.TTL(); ttl > 0 {
			r.ExpiresAt = now.Add(ttl)
		}
		return r
	})
}

// Release appends a RELEASE record for a scope that is currently killed.
func (l *Ledger) Release(ctx context.Context, scope, reason string) (models.KillFlagRecord, error) {
	scope = strings.TrimSpace(scope)
	reason = strings.TrimSpace(reason)
	if scope == "" || reason == "" {
		return models.KillFlagRecord{}, fmt.Errorf("%w: scope and reason are required", ErrInvalidRequest)
	}

	active, err := l.ActiveKills(ctx, l.clock())
	if err != nil {
		return models.KillFlagRecord{}, err
	}
	found := false
	for _, r := range active {
		if r.Scope == scope {
			found = true
			break
		}
	}
	if !found {
		return models.KillFlagRecord{}, fmt.Errorf("%w: %s", ErrNotKilled, scope)
	}

	return l.append(ctx, func(time.Time) models.KillFlagRecord {
		return models.KillFlagRecord{Action: models.ActionRelease, Reason: reason, Scope: scope}
	})
}

func (l *Ledger) append(ctx context.Context, build func(now time.Time) models.KillFlagRecord) (models.KillFlagRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadHead(ctx); err != nil {
		return models.KillFlagRecord{}, err
	}

	now := l.clock().UTC()
	r := build(now)
	r.ID = l.newID()
	r.Sequence = l.headSeq + 1
	r.CreatedAt = now
	if !r.ExpiresAt.IsZero() {
		r.ExpiresAt = r.ExpiresAt.UTC()
	}
	r.PrevHash = l.headHash

	h, err := recordHash(r)
	if err != nil {
		return models.KillFlagRecord{}, err
	}
	r.Hash = h

	if err := l.store.Append(ctx, r); err != nil {
		if l.metrics != nil {
			l.metrics.RecordError("ledger_append")
		}
		return models.KillFlagRecord{}, fmt.Errorf("append: %w", err)
	}
	l.headSeq, l.headHash = r.Sequence, r.Hash

	l.log.Info("kill record appended",
		logger.String("id", r.ID),
		logger.Uint64("sequence", r.Sequence),
		logger.String("action", string(r.Action)),
		logger.String("scope", r.Scope),
		logger.String("reason", r.Reason),
	)
	if l.metrics != nil {
		l.metrics.RecordKillRecord(r.Action)
	}
	if l.sink != nil {
		if err := l.sink.Emit(ctx, r); err != nil {
			l.log.Warn("kill record sink failed", logger.String("id", r.ID), logger.Error(err))
		}
	}
	return r, nil
}

// loadHead reads the chain head once from storage. Caller holds mu.
func (l *Ledger) loadHead(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	all, err := l.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load ledger head: %w", err)
	}
	if err := verifyChain(all); err != nil {
		return err
	}
	l.headSeq, l.headHash = 0, GenesisHash
	if n := len(all); n > 0 {
		l.headSeq, l.headHash = all[n-1].Sequence, all[n-1].Hash
	}
	l.loaded = true
	return nil
}

// History returns every record in sequence order.
func (l *Ledger) History(ctx context.Context) ([]models.KillFlagRecord, error) {
	all, err := l.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return all, nil
}

// ActiveKills returns the kills in effect at now: for each scope, the latest
// record created at or before now is a KILL that has not expired. It always reads the full store.
func (l *Ledger) ActiveKills(ctx context.Context, now time.Time) ([]models.KillFlagRecord, error) {
	all, err := l.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("active kills: %w", err)
	}
	return activeAt(all, now), nil
}

// IsKilled reports whether scope or the global scope is killed at now.
func (l *Ledger) IsKilled(ctx context.Context, scope string, now time.Time) (bool, models.KillFlagRecord, error) {
	active, err := l.ActiveKills(ctx, now)
	if err != nil {
		return false, models.KillFlagRecord{}, err
	}
	for _, r := range active {
		if r.Scope == scope || r.Scope == models.ScopeGlobal {
			return true, r, nil
		}
	}
	return false, models.KillFlagRecord{}, nil
}

// Replay rebuilds state from storage: it re-verifies the whole chain and
// returns the kills in effect at now.
func (l *Ledger) Replay(ctx context.Context, now time.Time) ([]models.KillFlagRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	if err := verifyChain(all); err != nil {
		return nil, err
	}
	l.headSeq, l.headHash = 0, GenesisHash
	if n := len(all); n > 0 {
		l.headSeq, l.headHash = all[n-1].Sequence, all[n-1].Hash
	}
	l.loaded = true

	active := activeAt(all, now)
	l.log.Info("kill ledger replayed",
		logger.Int("records", len(all)),
		logger.Int("active", len(active)),
	)
	return active, nil
}

// Verify checks the hash chain without touching in-memory state.
func (l *Ledger) Verify(ctx context.Context) error {
	all, err := l.store.All(ctx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	return verifyChain(all)
}

func activeAt(all []models.KillFlagRecord, now time.Time) []models.KillFlagRecord {
	latest := make(map[string]models.KillFlagRecord)
	for _, r := range all {
		if r.CreatedAt.After(now) {
			continue
		}
		latest[r.Scope] = r
	}
	out := make([]models.KillFlagRecord, 0, len(latest))
	for _, r := range latest {
		if r.InEffect(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func verifyChain(all []models.KillFlagRecord) error {
	prev := GenesisHash
	var seq uint64
	for _, r := range all {
		if r.Sequence != seq+1 {
			return fmt.Errorf("%w: sequence %d follows %d", ErrChainBroken, r.Sequence, seq)
		}
		if r.PrevHash != prev {
			return fmt.Errorf("%w: record %d prev hash mismatch", ErrChainBroken, r.Sequence)
		}
		h, err := recordHash(r)
		if err != nil {
			return err
		}
		if h != r.Hash {
			return fmt.Errorf("%w: record %d content hash mismatch", ErrChainBroken, r.Sequence)
		}
		prev, seq = r.Hash, r.Sequence
	}
	return nil
}

type hashInput struct {
	Sequence  uint64 `json:"seq"`
	ID        string `json:"id"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
	Scope     string `json:"scope"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
	PrevHash  string `json:"prev"`
}

func recordHash(r models.KillFlagRecord) (string, error) {
	in := hashInput{
		Sequence:  r.Sequence,
		ID:        r.ID,
		Action:    string(r.Action),
		Reason:    r.Reason,
		Scope:     r.Scope,
		CreatedAt: formatTime(r.CreatedAt),
		ExpiresAt: formatTime(r.ExpiresAt),
		PrevHash:  r.PrevHash,
	}
	h, err := canonical.Hash(in)
	if err != nil {
		return "", fmt.Errorf("hash kill record: %w", err)
	}
	return h, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
