package repository

import (
	"context"
	"fmt"
	"sync"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
)

// MemoryLedgerStore keeps kill records in process memory. Records are lost on restart.
type MemoryLedgerStore struct {
	mu      sync.RWMutex
	records []models.KillFlagRecord
}

var _ domrepo.LedgerStore = (*MemoryLedgerStore)(nil)

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{}
}

func (s *MemoryLedgerStore) Append(_ context.Context, r models.KillFlagRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.records); n > 0 && r.Sequence <= s.records[n-1].Sequence {
		return fmt.Errorf("append: sequence %d not after %d", r.Sequence, s.records[n-1].Sequence)
	}
	s.records = append(s.records, r)
	return nil
}

func (s *MemoryLedgerStore) All(_ context.Context) ([]models.KillFlagRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.KillFlagRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *MemoryLedgerStore) Close() error { return nil }
