package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"OTCFeed/internal/domain/models"
	"OTCFeed/pkg/util"
)

// ErrUpstream carries an error frame reported by the provider.
var ErrUpstream = errors.New("upstream error")

type finnhubTrade struct {
	Symbol    string          `json:"s"`
	Price     decimal.Decimal `json:"p"`
	Volume    decimal.Decimal `json:"v"`
	Timestamp int64           `json:"t"` // ms
}

type finnhubFrame struct {
	Type string         `json:"type"`
	Data []finnhubTrade `json:"data"`
	Msg  string         `json:"msg"`
}

// ParseFinnhubTrades decodes a trade frame. Trades are returned with the
// provider symbol; the caller maps them back to catalog symbols.
func ParseFinnhubTrades(payload []byte) ([]models.Tick, error) {
	var f finnhubFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("finnhub: %w: %v", ErrMalformed, err)
	}
	switch f.Type {
	case "trade":
	case "error":
		return nil, fmt.Errorf("finnhub: %w: %s", ErrUpstream, f.Msg)
	default:
		return nil, ErrIgnored
	}

	ticks := make([]models.Tick, 0, len(f.Data))
	for _, d := range f.Data {
		price, ok := positive(d.Price)
		if !ok || d.Symbol == "" || d.Timestamp <= 0 {
			continue
		}
		ticks = append(ticks, models.Tick{
			Symbol:    d.Symbol,
			Price:     price,
			Timestamp: util.NormalizeMillis(d.Timestamp),
			Volume:    nonNegative(d.Volume),
		})
	}
	if len(ticks) == 0 {
		return nil, fmt.Errorf("finnhub: %w: no usable trades", ErrMalformed)
	}
	return ticks, nil
}
