package usecase

import (
	"context"
	"time"

	"Guardrail/internal/services/staleness"
	"Guardrail/pkg/cache"
	"Guardrail/pkg/logger"
)

const sweepLockKey = "guardrail:lock:anchor-sweep"

// AnchorSweeper periodically drops expired temporary kills and anchors older
// than maxAge. With a shared cache only one process sweeps per interval.
type AnchorSweeper struct {
	gate     *staleness.Gate
	lock     cache.Service
	interval time.Duration
	maxAge   time.Duration
	log      *logger.Logger
}

func NewAnchorSweeper(gate *staleness.Gate, lock cache.Service, interval, maxAge time.Duration, log *logger.Logger) *AnchorSweeper {
	if log == nil {
		log = logger.Nop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &AnchorSweeper{gate: gate, lock: lock, interval: interval, maxAge: maxAge, log: log}
}

// Sweep runs one cleanup pass. ran is false when another process holds the lock.
func (s *AnchorSweeper) Sweep(ctx context.Context) (stats staleness.CleanupStats, ran bool, err error) {
	if s.lock != nil {
		ok, err := s.lock.TryLock(ctx, sweepLockKey, s.interval)
		if err != nil {
			return stats, false, err
		}
		if !ok {
			return stats, false, nil
		}
		// held until expiry so peers skip the rest of this interval
	}
	stats, err = s.gate.Cleanup(ctx, s.maxAge)
	return stats, true, err
}

// Run sweeps on every tick until ctx is done.
func (s *AnchorSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := s.Sweep(ctx); err != nil {
				s.log.Error("anchor sweep failed", logger.Error(err))
			}
		}
	}
}
