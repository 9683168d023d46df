package repository

import (
	"context"
	"time"

	"Guardrail/internal/domain/models"
)

// Timeframe represents bar resolution buckets.
type Timeframe string

const (
	TF1s Timeframe = "1s"
	TF1m Timeframe = "1m"
	TF5m Timeframe = "5m"
)

// NormalizeTimeframe converts a raw string to a supported timeframe, defaulting to 1m.
func NormalizeTimeframe(s string) Timeframe {
	switch tf := Timeframe(s); tf {
	case TF1s, TF1m, TF5m:
		return tf
	default:
		return TF1m
	}
}

// BarStore provides read-only access to stored bars for integrity monitoring.
type BarStore interface {
	GetBars(ctx context.Context, symbol string, from, to time.Time, tf Timeframe) ([]models.Bar, error)
	GetLatestBars(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Bar, error)
}
