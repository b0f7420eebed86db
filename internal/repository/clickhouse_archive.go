package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	applogger "OTCFeed/pkg/logger"
)

const insertTickQuery = `INSERT INTO %s (ts, symbol, price, bid, ask, volume, is_otc, is_synthetic)`

// ClickHouseArchive stores ticks in ClickHouse and aggregates them into candles
// on read. Synthetic ticks are archived but excluded from candle queries.
type ClickHouseArchive struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

// NewClickHouseArchive uses the ticks table of database.
func NewClickHouseArchive(db *sql.DB, database string, l *applogger.Logger) *ClickHouseArchive {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseArchive{db: db, table: database + ".ticks", l: l}
}

func (a *ClickHouseArchive) Store(ctx context.Context, t models.Tick) error {
	return a.StoreBatch(ctx, []models.Tick{t})
}

// StoreBatch inserts ticks in one block through a prepared batch statement.
func (a *ClickHouseArchive) StoreBatch(ctx context.Context, ticks []models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(insertTickQuery, a.table))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, t := range ticks {
		if !t.Valid() {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			time.UnixMilli(t.Timestamp).UTC(),
			t.Symbol,
			t.Price,
			t.Bid,
			t.Ask,
			t.Volume,
			boolToUInt8(t.IsOTC),
			boolToUInt8(t.IsSynthetic),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append tick %s: %w", t.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Candles returns up to limit oldest-first candles for [from, to).
func (a *ClickHouseArchive) Candles(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time, limit int) ([]models.Candle, error) {
	start := time.Now()
	q := candleQuery(a.table, tf.Millis())
	rows, err := a.db.QueryContext(ctx, q, symbol, from.UTC(), to.UTC(), limit)
	if err != nil {
		a.l.Error("clickhouse candles query error",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, limit)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// newest-first from the query
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	a.l.Debug("clickhouse candles ok",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (a *ClickHouseArchive) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func candleQuery(table string, periodMs int64) string {
	return fmt.Sprintf(`
        SELECT intDiv(toUnixTimestamp64Milli(ts), %[2]d) * %[2]d AS bucket,
               argMin(price, ts) AS open,
               max(price)        AS high,
               min(price)        AS low,
               argMax(price, ts) AS close,
               sum(volume)       AS vol
        FROM %[1]s
        WHERE symbol = ? AND ts >= ? AND ts < ? AND is_synthetic = 0
        GROUP BY bucket
        ORDER BY bucket DESC
        LIMIT ?`, table, periodMs)
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

var _ domrepo.Archive = (*ClickHouseArchive)(nil)
