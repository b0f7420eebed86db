package upstream

import (
	"errors"
	"fmt"

	"OTCFeed/internal/domain/models"
	"OTCFeed/internal/service/catalog"
	"OTCFeed/pkg/config"
)

// ErrNoCredentials means the provider for an instrument needs an API key that is not configured.
var ErrNoCredentials = errors.New("provider credentials not configured")

// Factory picks and builds the connector for an instrument.
type Factory struct {
	cfg  *config.Config
	opts Options
}

func NewFactory(cfg *config.Config, opts Options) *Factory {
	opts.PingInterval = cfg.Upstream.PingInterval
	opts.NoDataTimeout = cfg.Upstream.NoDataTimeout
	return &Factory{cfg: cfg, opts: opts}
}

// ProviderFor names the provider that serves in while its market is open.
func (f *Factory) ProviderFor(in models.Instrument) string {
	switch in.Category {
	case models.CategoryCrypto:
		return ProviderBinance
	case models.CategoryStocks:
		if f.cfg.Upstream.StockProvider == ProviderFinnhub {
			return ProviderFinnhub
		}
	}
	return ProviderTwelveData
}

func (f *Factory) New(in models.Instrument) (Connector, error) {
	up := f.cfg.Upstream
	provider := f.ProviderFor(in)
	ps := catalog.ProviderSymbol(in, provider)
	switch provider {
	case ProviderBinance:
		return NewBinance(up.Binance.WebSocketURL, in.Symbol, f.opts), nil
	case ProviderFinnhub:
		if up.Finnhub.APIKey == "" {
			return nil, fmt.Errorf("%s for %s: %w", provider, in.Symbol, ErrNoCredentials)
		}
		return NewFinnhub(up.Finnhub.WebSocketURL, up.Finnhub.APIKey, in.Symbol, ps, f.opts), nil
	default:
		if up.TwelveData.APIKey == "" {
			return nil, fmt.Errorf("%s for %s: %w", provider, in.Symbol, ErrNoCredentials)
		}
		return NewTwelveData(up.TwelveData.WebSocketURL, up.TwelveData.APIKey, in.Symbol, ps, f.opts), nil
	}
}
