package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"OTCFeed/internal/service/normalizer"
)

const ProviderFinnhub = "finnhub"

// Finnhub streams stock trades.
type Finnhub struct {
	base
	baseURL        string
	apiKey         string
	providerSymbol string
}

func NewFinnhub(baseURL, apiKey, symbol, providerSymbol string, opts Options) *Finnhub {
	if providerSymbol == "" {
		providerSymbol = symbol
	}
	return &Finnhub{
		base:           newBase(ProviderFinnhub, symbol, opts),
		baseURL:        baseURL,
		apiKey:         apiKey,
		providerSymbol: providerSymbol,
	}
}

func (c *Finnhub) URL() string {
	return c.baseURL + "?token=" + url.QueryEscape(c.apiKey)
}

func (c *Finnhub) Run(ctx context.Context, emit EmitFunc) error {
	return c.session(ctx, c.URL(), func(ctx context.Context, s *stream) error {
		msg := map[string]string{"type": "subscribe", "symbol": c.providerSymbol}
		if err := s.writeJSON(msg); err != nil {
			return fmt.Errorf("finnhub subscribe %s: %w", c.symbol, err)
		}
		for {
			payload, err := s.read()
			if err != nil {
				return fmt.Errorf("finnhub read %s: %w", c.symbol, err)
			}
			ticks, err := normalizer.ParseFinnhubTrades(payload)
			switch {
			case errors.Is(err, normalizer.ErrIgnored):
				continue
			case errors.Is(err, normalizer.ErrUpstream):
				return fmt.Errorf("finnhub %s: %w: %v", c.symbol, ErrRejected, err)
			case err != nil:
				c.malformed(err)
				continue
			}
			for _, tick := range ticks {
				if tick.Symbol != c.providerSymbol {
					continue
				}
				tick.Symbol = c.symbol
				emit(tick)
			}
		}
	})
}
