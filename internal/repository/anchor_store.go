package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	"Guardrail/pkg/cache"
)

const (
	anchorPrefix = "anchor"
	killPrefix   = "kill"

	// DefaultRetention bounds how long the backend keeps anchors and kills.
	// It must exceed models.StalenessThreshold so stale anchors are seen, not lost.
	DefaultRetention = time.Hour
)

// CacheAnchorStore implements AnchorStore on a cache.Service. With a Redis
// backend the kill slot is a SETNX and is atomic across processes.
type CacheAnchorStore struct {
	c         cache.Service
	retention time.Duration
}

var _ domrepo.AnchorStore = (*CacheAnchorStore)(nil)

func NewCacheAnchorStore(c cache.Service, retention time.Duration) *CacheAnchorStore {
	if retention <= models.StalenessThreshold {
		retention = DefaultRetention
	}
	return &CacheAnchorStore{c: c, retention: retention}
}

func (s *CacheAnchorStore) PutAnchor(ctx context.Context, a models.StateAnchor) error {
	if err := s.c.Set(ctx, cache.GenerateKey(anchorPrefix, a.StateHash), a, s.retention); err != nil {
		return fmt.Errorf("put anchor: %w", err)
	}
	return nil
}

func (s *CacheAnchorStore) GetAnchor(ctx context.Context, stateHash string) (models.StateAnchor, bool, error) {
	var a models.StateAnchor
	err := s.c.Get(ctx, cache.GenerateKey(anchorPrefix, stateHash), &a)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return models.StateAnchor{}, false, nil
	case err != nil:
		return models.StateAnchor{}, false, fmt.Errorf("get anchor: %w", err)
	}
	return a, true, nil
}

func (s *CacheAnchorStore) DeleteAnchor(ctx context.Context, stateHash string) error {
	if err := s.c.Delete(ctx, cache.GenerateKey(anchorPrefix, stateHash)); err != nil {
		return fmt.Errorf("delete anchor: %w", err)
	}
	return nil
}

func (s *CacheAnchorStore) ListAnchors(ctx context.Context) ([]models.StateAnchor, error) {
	m, err := listTyped[models.StateAnchor](ctx, s.c, anchorPrefix)
	if err != nil {
		return nil, fmt.Errorf("list anchors: %w", err)
	}
	out := make([]models.StateAnchor, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StateHash < out[j].StateHash })
	return out, nil
}

func (s *CacheAnchorStore) AcquireKill(ctx context.Context, k models.TemporaryKill) (bool, error) {
	ok, err := s.c.SetNX(ctx, cache.GenerateKey(killPrefix, k.StateHash), k, s.retention)
	if err != nil {
		return false, fmt.Errorf("acquire kill: %w", err)
	}
	return ok, nil
}

func (s *CacheAnchorStore) GetKill(ctx context.Context, stateHash string) (models.TemporaryKill, bool, error) {
	var k models.TemporaryKill
	err := s.c.Get(ctx, cache.GenerateKey(killPrefix, stateHash), &k)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return models.TemporaryKill{}, false, nil
	case err != nil:
		return models.TemporaryKill{}, false, fmt.Errorf("get kill: %w", err)
	}
	return k, true, nil
}

func (s *CacheAnchorStore) ReplaceKill(ctx context.Context, seen, next models.TemporaryKill) (bool, error) {
	if seen.StateHash != next.StateHash {
		return false, fmt.Errorf("replace kill: state hash %s != %s", seen.StateHash, next.StateHash)
	}
	ok, err := s.c.CompareAndSwap(ctx, cache.GenerateKey(killPrefix, seen.StateHash), seen, next, s.retention)
	if err != nil {
		return false, fmt.Errorf("replace kill: %w", err)
	}
	return ok, nil
}

func (s *CacheAnchorStore) ClearKill(ctx context.Context, seen models.TemporaryKill) (bool, error) {
	ok, err := s.c.CompareAndDelete(ctx, cache.GenerateKey(killPrefix, seen.StateHash), seen)
	if err != nil {
		return false, fmt.Errorf("clear kill: %w", err)
	}
	return ok, nil
}

func (s *CacheAnchorStore) DeleteKill(ctx context.Context, stateHash string) error {
	if err := s.c.Delete(ctx, cache.GenerateKey(killPrefix, stateHash)); err != nil {
		return fmt.Errorf("delete kill: %w", err)
	}
	return nil
}

func (s *CacheAnchorStore) ListKills(ctx context.Context) ([]models.TemporaryKill, error) {
	m, err := listTyped[models.TemporaryKill](ctx, s.c, killPrefix)
	if err != nil {
		return nil, fmt.Errorf("list kills: %w", err)
	}
	out := make([]models.TemporaryKill, 0, len(m))
	for _, k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StateHash < out[j].StateHash })
	return out, nil
}

func listTyped[T any](ctx context.Context, c cache.Service, prefix string) (map[string]T, error) {
	keys, err := c.Keys(ctx, cache.BuildPattern(prefix))
	if err != nil {
		return nil, err
	}
	return cache.MGetTyped[T](ctx, c, keys...)
}
