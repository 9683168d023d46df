package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NoVolume is the vendor sentinel meaning "volume unavailable".
const NoVolume int64 = -1

// Bar represents one OHLCV record for a fixed time interval.
// Volume is vendor-dependent and never participates in hashing.
type Bar struct {
	Symbol    string          `json:"symbol,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// HasVolume reports whether the vendor supplied a usable volume.
func (b Bar) HasVolume() bool { return b.Volume >= 0 }

// OHLCField names one of the four hashed price fields.
type OHLCField string

const (
	FieldOpen  OHLCField = "open"
	FieldHigh  OHLCField = "high"
	FieldLow   OHLCField = "low"
	FieldClose OHLCField = "close"
)

// Get returns the value of the named price field.
func (b Bar) Get(f OHLCField) (decimal.Decimal, bool) {
	switch f {
	case FieldOpen:
		return b.Open, true
	case FieldHigh:
		return b.High, true
	case FieldLow:
		return b.Low, true
	case FieldClose:
		return b.Close, true
	default:
		return decimal.Zero, false
	}
}

// With returns a copy of b with the named price field replaced.
func (b Bar) With(f OHLCField, v decimal.Decimal) (Bar, bool) {
	switch f {
	case FieldOpen:
		b.Open = v
	case FieldHigh:
		b.High = v
	case FieldLow:
		b.Low = v
	case FieldClose:
		b.Close = v
	default:
		return b, false
	}
	return b, true
}
