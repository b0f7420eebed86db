package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"OTCFeed/internal/service/normalizer"
)

const ProviderBinance = "binance"

// Binance streams 1m klines for a crypto pair.
type Binance struct {
	base
	baseURL string
	pair    string
	now     func() time.Time
}

func NewBinance(baseURL, symbol string, opts Options) *Binance {
	return &Binance{
		base:    newBase(ProviderBinance, symbol, opts),
		baseURL: strings.TrimRight(baseURL, "/"),
		pair:    normalizer.BinancePair(symbol),
		now:     time.Now,
	}
}

func (c *Binance) URL() string {
	return fmt.Sprintf("%s/%s@kline_1m", c.baseURL, strings.ToLower(c.pair))
}

func (c *Binance) Run(ctx context.Context, emit EmitFunc) error {
	return c.session(ctx, c.URL(), func(ctx context.Context, s *stream) error {
		var last int64
		for {
			payload, err := s.read()
			if err != nil {
				return fmt.Errorf("binance read %s: %w", c.symbol, err)
			}
			tick, err := normalizer.ParseBinanceKline(payload, c.symbol, c.now())
			if errors.Is(err, normalizer.ErrIgnored) {
				continue
			}
			if err != nil {
				c.malformed(err)
				continue
			}
			// Several kline updates can land in one millisecond; keep them distinct.
			if tick.Timestamp <= last {
				tick.Timestamp = last + 1
			}
			last = tick.Timestamp
			emit(tick)
		}
	})
}
