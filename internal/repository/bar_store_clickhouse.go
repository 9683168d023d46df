package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	pkgch "Guardrail/pkg/clickhouse"
	applogger "Guardrail/pkg/logger"
	xutil "Guardrail/pkg/util"
)

// CHBarStore reads OHLC bars from ClickHouse candle tables for integrity monitoring.
type CHBarStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

var _ domrepo.BarStore = (*CHBarStore)(nil)

func NewCHBarStore(ch *pkgch.Client) *CHBarStore {
	return NewCHBarStoreDB(ch.DB(), ch.Database())
}

// NewCHBarStoreDB builds the store on an existing pool.
func NewCHBarStoreDB(db *sql.DB, database string) *CHBarStore {
	if database == "" {
		database = "guardrail"
	}
	return &CHBarStore{db: db, database: database, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHBarStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

const barColumns = `bucket, symbol, open, high, low, close, ifNull(toInt64(vol), -1) AS volume`

func (s *CHBarStore) GetBars(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Bar, error) {
	start := time.Now()
	table, err := s.tableForTF(tf)
	if err != nil {
		return nil, err
	}
	from, to = xutil.AlignFromTo(from, to, string(tf))
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE symbol = ? AND bucket >= ? AND bucket <= ? ORDER BY bucket ASC`, barColumns, table)
	out, err := s.query(ctx, q, symbol, from, to)
	if err != nil {
		s.l.Error("clickhouse get_bars error",
			applogger.String("table", table),
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get bars: %w", err)
	}
	s.l.Debug("clickhouse get_bars ok",
		applogger.String("table", table),
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// GetLatestBars returns the last n bars in ascending time order.
func (s *CHBarStore) GetLatestBars(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Bar, error) {
	start := time.Now()
	if n <= 0 {
		return []models.Bar{}, nil
	}
	table, err := s.tableForTF(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE symbol = ? ORDER BY bucket DESC LIMIT ?`, barColumns, table)
	tmp, err := s.query(ctx, q, symbol, n)
	if err != nil {
		s.l.Error("clickhouse latest_bars error",
			applogger.String("table", table),
			applogger.String("symbol", symbol),
			applogger.Int("limit", n),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get latest bars: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	s.l.Debug("clickhouse latest_bars ok",
		applogger.String("table", table),
		applogger.String("symbol", symbol),
		applogger.Int("limit", n),
		applogger.Int("rows", len(tmp)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return tmp, nil
}

func (s *CHBarStore) query(ctx context.Context, q string, args ...any) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Bar, 0, 256)
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Timestamp, &b.Symbol, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Timestamp = b.Timestamp.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHBarStore) tableForTF(tf domrepo.Timeframe) (string, error) {
	switch tf {
	case domrepo.TF1s:
		return s.database + ".candles_1s", nil
	case domrepo.TF1m:
		return s.database + ".candles_1m", nil
	case domrepo.TF5m:
		return s.database + ".candles_5m", nil
	default:
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
}
