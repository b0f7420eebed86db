package repository

import (
	"context"
	"errors"
	"time"

	"OTCFeed/internal/domain/models"
)

// ErrNotFound is returned by a TickStore when no tick is known for a symbol.
var ErrNotFound = errors.New("tick not found")

// TickStore is the Source-of-Truth Store: last known tick per symbol.
type TickStore interface {
	Set(ctx context.Context, t models.Tick) error
	Get(ctx context.Context, symbol string) (models.Tick, error)
}

// TickHistory keeps a bounded, newest-first list of recent ticks per symbol.
type TickHistory interface {
	Append(ctx context.Context, t models.Tick) error
	Recent(ctx context.Context, symbol string, n int) ([]models.Tick, error)
}

// Publisher journals canonical ticks for other processes.
type Publisher interface {
	Publish(ctx context.Context, t models.Tick) error
	Close() error
}

// Archive stores ticks durably and answers candle queries from them.
type Archive interface {
	Store(ctx context.Context, t models.Tick) error
	StoreBatch(ctx context.Context, ticks []models.Tick) error
	Candles(ctx context.Context, symbol string, tf Timeframe, from, to time.Time, limit int) ([]models.Candle, error)
	Health(ctx context.Context) error
}

// CandleSource fetches historical candles from an external provider.
type CandleSource interface {
	Name() string
	Candles(ctx context.Context, symbol string, tf Timeframe, limit int) ([]models.Candle, error)
}

// Metrics is the instrumentation surface used across the service.
type Metrics interface {
	RecordTick(source, symbol string)
	RecordFanout(symbol string, delivered int)
	RecordMalformed(provider string)
	RecordReconnect(provider, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	SetSubscribers(n int)
	SetActiveSources(kind string, n int)
}
