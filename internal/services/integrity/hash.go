package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"Guardrail/internal/domain/models"
)

// HashLength is the number of hex characters kept from each SHA-256 digest.
// 64 bits: compact, but collision-prone at very high volumes.
const HashLength = 16

// DefaultPrecision is the number of decimal places prices are normalised to before hashing.
const DefaultPrecision int32 = 5

// ChainSeed is chain[-1].
var ChainSeed = strings.Repeat("0", HashLength)

// Hasher computes deterministic per-bar and chained fingerprints.
// Prices are rendered as fixed-point strings so the digest never depends on
// a float representation.
type Hasher struct {
	precision int32
}

func NewHasher(precision int32) Hasher {
	if precision < 0 {
		precision = DefaultPrecision
	}
	return Hasher{precision: precision}
}

// Precision returns the decimal places used for normalisation.
func (h Hasher) Precision() int32 { return h.precision }

// Hash fingerprints timestamp and OHLC. Volume is excluded.
func (h Hasher) Hash(b models.Bar) string {
	var sb strings.Builder
	sb.Grow(96)
	sb.WriteString(strconv.FormatInt(b.Timestamp.UnixMilli(), 10))
	for _, d := range [4]string{
		b.Open.StringFixed(h.precision),
		b.High.StringFixed(h.precision),
		b.Low.StringFixed(h.precision),
		b.Close.StringFixed(h.precision),
	} {
		sb.WriteByte('|')
		sb.WriteString(d)
	}
	return digest(sb.String())
}

// Link computes chain[i] = H(chain[i-1] || H(bar[i])).
func (h Hasher) Link(prev, barHash string) string {
	return digest(prev + barHash)
}

// Hashes returns the per-bar hash of every bar.
func (h Hasher) Hashes(bars []models.Bar) []string {
	out := make([]string, len(bars))
	for i, b := range bars {
		out[i] = h.Hash(b)
	}
	return out
}

// ChainHash folds every bar into the rolling chain and returns the final value.
// An empty sequence yields ChainSeed.
func (h Hasher) ChainHash(bars []models.Bar) string {
	chain := ChainSeed
	for _, b := range bars {
		chain = h.Link(chain, h.Hash(b))
	}
	return chain
}

// Chain returns every intermediate chain value; Chain(bars)[i] == chain[i].
func (h Hasher) Chain(bars []models.Bar) []string {
	out := make([]string, len(bars))
	chain := ChainSeed
	for i, b := range bars {
		chain = h.Link(chain, h.Hash(b))
		out[i] = chain
	}
	return out
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:HashLength]
}
