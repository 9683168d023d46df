package policy

import "Guardrail/internal/domain/models"

// BitVector holds one boolean per gate id. Its only operations are Get and
// Equal: there is no length, count, iteration or distance accessor, and the
// zero value holds no gates.
type BitVector struct {
	index map[string]int
	words []uint64
}

// ToBitVector packs results in order. A repeated gate id keeps its first
// position and takes the last value.
func ToBitVector(results []models.GateResult) BitVector {
	v := BitVector{index: make(map[string]int, len(results))}
	for _, r := range results {
		if _, ok := v.index[r.GateID]; !ok {
			v.index[r.GateID] = len(v.index)
		}
	}
	v.words = make([]uint64, (len(v.index)+63)/64)
	for _, r := range results {
		i := v.index[r.GateID]
		mask := uint64(1) << (uint(i) % 64)
		if r.Passed {
			v.words[i/64] |= mask
		} else {
			v.words[i/64] &^= mask
		}
	}
	return v
}

// Get returns the outcome for gateID; ok is false when the vector has no such gate.
func (v BitVector) Get(gateID string) (passed, ok bool) {
	i, ok := v.index[gateID]
	if !ok {
		return false, false
	}
	return v.words[i/64]&(uint64(1)<<(uint(i)%64)) != 0, true
}

// Equal reports whether both vectors hold the same gates at the same
// positions with the same outcomes.
func (v BitVector) Equal(o BitVector) bool {
	if len(v.index) != len(o.index) || len(v.words) != len(o.words) {
		return false
	}
	for id, i := range v.index {
		if j, ok := o.index[id]; !ok || j != i {
			return false
		}
	}
	for i := range v.words {
		if v.words[i] != o.words[i] {
			return false
		}
	}
	return true
}
