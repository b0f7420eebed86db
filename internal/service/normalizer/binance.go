package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"OTCFeed/internal/domain/models"
)

const klinePeriodMs = int64(time.Minute / time.Millisecond)

// Binance reuses keys that differ only in case ("t"/"T", "l"/"L", "v"/"V").
// encoding/json matches keys case-insensitively, so the upper-case keys are
// declared too and win by exact match.
type binanceKline struct {
	StartTime      int64           `json:"t"`
	CloseTime      int64           `json:"T"`
	Open           decimal.Decimal `json:"o"`
	High           decimal.Decimal `json:"h"`
	Low            decimal.Decimal `json:"l"`
	LastTradeID    int64           `json:"L"`
	Close          decimal.Decimal `json:"c"`
	Volume         decimal.Decimal `json:"v"`
	TakerBuyVolume decimal.Decimal `json:"V"`
	Closed         bool            `json:"x"`
}

type binanceFrame struct {
	Event     string        `json:"e"`
	EventTime int64         `json:"E"`
	Kline     *binanceKline `json:"k"`
}

// ParseBinanceKline decodes a kline_1m stream frame. The tick is stamped with
// receivedAt since the kline start is the bucket open, not the update time.
// Closed klines from a bucket older than the previous minute are ignored.
func ParseBinanceKline(payload []byte, symbol string, receivedAt time.Time) (models.Tick, error) {
	var f binanceFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return models.Tick{}, fmt.Errorf("binance: %w: %v", ErrMalformed, err)
	}
	if f.Kline == nil {
		return models.Tick{}, ErrIgnored
	}
	k := f.Kline
	closePx, ok := positive(k.Close)
	if !ok {
		return models.Tick{}, fmt.Errorf("binance: %w: close %s", ErrMalformed, k.Close)
	}

	nowMs := receivedAt.UnixMilli()
	if k.StartTime > 0 && k.Closed {
		current := nowMs / klinePeriodMs * klinePeriodMs
		start := k.StartTime / klinePeriodMs * klinePeriodMs
		if start != current && start != current-klinePeriodMs {
			return models.Tick{}, ErrIgnored
		}
	}

	open, _ := positive(k.Open)
	high, _ := positive(k.High)
	low, _ := positive(k.Low)
	return models.Tick{
		Symbol:    symbol,
		Price:     closePx,
		Timestamp: nowMs,
		Volume:    nonNegative(k.Volume),
		Bid:       low,
		Ask:       high,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		IsClosed:  k.Closed,
	}, nil
}

// BinancePair maps a catalog symbol to a Binance spot pair: X/USD trades as XUSDT.
func BinancePair(symbol string) string {
	s := strings.ToUpper(symbol)
	switch {
	case strings.Contains(s, "BTC"):
		return "BTCUSDT"
	case strings.Contains(s, "ETH"):
		return "ETHUSDT"
	case strings.HasSuffix(s, "/USD"):
		return strings.TrimSuffix(s, "/USD") + "USDT"
	default:
		return strings.ReplaceAll(s, "/", "")
	}
}
