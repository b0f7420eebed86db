package models

import "time"

// Category groups instruments that share trading hours and synthetic parameters.
type Category string

const (
	CategoryForex       Category = "forex"
	CategoryCrypto      Category = "crypto"
	CategoryStocks      Category = "stocks"
	CategoryCommodities Category = "commodities"
	CategoryIndices     Category = "indices"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryForex, CategoryCrypto, CategoryStocks, CategoryCommodities, CategoryIndices:
		return true
	}
	return false
}

// InstrumentConfig holds the synthetic price parameters of a category.
type InstrumentConfig struct {
	Category           Category      `json:"category" yaml:"-"`
	Volatility         float64       `json:"volatility" yaml:"volatility"`
	MeanReversionSpeed float64       `json:"meanReversionSpeed" yaml:"mean_reversion_speed"`
	TickInterval       time.Duration `json:"tickInterval" yaml:"tick_interval"`
	SpreadPercent      float64       `json:"spreadPercent" yaml:"spread_percent"`
	MaxTrendStrength   float64       `json:"maxTrendStrength" yaml:"max_trend_strength"`
	TrendDurationTicks int           `json:"trendDurationTicks" yaml:"trend_duration_ticks"`
}

// Instrument is one tradable symbol known to the catalog.
type Instrument struct {
	Symbol       string   `json:"symbol" yaml:"symbol"`
	Category     Category `json:"category" yaml:"category"`
	DefaultPrice float64  `json:"defaultPrice" yaml:"default_price"`
	Digits       int      `json:"digits" yaml:"digits"`
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	// ProviderSymbol overrides the symbol sent upstream, keyed by provider name.
	ProviderSymbol map[string]string `json:"providerSymbol,omitempty" yaml:"provider_symbol"`
}

// MarketStatus is the evaluator verdict for a category at an instant.
type MarketStatus struct {
	IsOpen  bool   `json:"isOpen"`
	IsOTC   bool   `json:"isOTC"`
	Message string `json:"message"`
}
