// Package chaos perturbs bar sequences to exercise the integrity verifier.
package chaos

import (
	"errors"
	"fmt"
	"time"

	"Guardrail/internal/domain/models"
	"Guardrail/internal/services/integrity"

	"github.com/shopspring/decimal"
)

var (
	ErrIndexOutOfRange = errors.New("chaos: index out of range")
	ErrUnknownField    = errors.New("chaos: unknown field")
)

// Corruption describes one injected perturbation.
type Corruption struct {
	Index        int              `json:"index"`
	Field        models.OHLCField `json:"field"`
	Timestamp    time.Time        `json:"timestamp"`
	Original     decimal.Decimal  `json:"original"`
	Corrupted    decimal.Decimal  `json:"corrupted"`
	OriginalHash string           `json:"original_hash"`
}

// Inject returns a copy of bars where bars[index].field has been shifted by
// magnitude. The input slice is not modified.
func Inject(h integrity.Hasher, bars []models.Bar, index int, field models.OHLCField, magnitude decimal.Decimal) ([]models.Bar, Corruption, error) {
	if index < 0 || index >= len(bars) {
		return nil, Corruption{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(bars))
	}
	orig, ok := bars[index].Get(field)
	if !ok {
		return nil, Corruption{}, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	out := make([]models.Bar, len(bars))
	copy(out, bars)

	corrupted := orig.Add(magnitude)
	out[index], _ = out[index].With(field, corrupted)

	return out, Corruption{
		Index:        index,
		Field:        field,
		Timestamp:    bars[index].Timestamp,
		Original:     orig,
		Corrupted:    corrupted,
		OriginalHash: h.Hash(bars[index]),
	}, nil
}

// Fields lists every field Inject accepts.
func Fields() []models.OHLCField {
	return []models.OHLCField{models.FieldOpen, models.FieldHigh, models.FieldLow, models.FieldClose}
}
