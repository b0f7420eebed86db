// Package catalog maps symbols to their category, fallback anchor price and display precision.
package catalog

import (
	"sort"
	"strings"
	"sync"

	"OTCFeed/internal/domain/models"
)

// UnknownPrice anchors synthetic streams for symbols without a known price.
const UnknownPrice = 100.0

func inst(symbol string, category models.Category, price float64, digits int) models.Instrument {
	return models.Instrument{Symbol: symbol, Category: category, DefaultPrice: price, Digits: digits, Enabled: true}
}

var defaults = []models.Instrument{
	inst("EUR/USD", models.CategoryForex, 1.0850, 5),
	inst("GBP/USD", models.CategoryForex, 1.2700, 5),
	inst("USD/JPY", models.CategoryForex, 149.50, 3),
	inst("AUD/CAD", models.CategoryForex, 0.8950, 5),
	inst("AUD/USD", models.CategoryForex, 0.6550, 5),
	inst("USD/CAD", models.CategoryForex, 1.3600, 5),
	inst("EUR/GBP", models.CategoryForex, 0.8550, 5),
	inst("EUR/JPY", models.CategoryForex, 162.50, 3),
	inst("GBP/JPY", models.CategoryForex, 190.00, 3),
	inst("USD/BRL", models.CategoryForex, 4.9500, 4),
	inst("NZD/USD", models.CategoryForex, 0.6250, 5),
	inst("USD/CHF", models.CategoryForex, 0.8750, 5),

	inst("BTC/USD", models.CategoryCrypto, 43250.00, 2),
	inst("ETH/USD", models.CategoryCrypto, 2650.00, 2),
	inst("BNB/USD", models.CategoryCrypto, 315.50, 2),
	inst("SOL/USD", models.CategoryCrypto, 98.75, 3),
	inst("XRP/USD", models.CategoryCrypto, 0.6250, 5),
	inst("DOGE/USD", models.CategoryCrypto, 0.0850, 6),
	inst("ADA/USD", models.CategoryCrypto, 0.4850, 5),
	inst("AVAX/USD", models.CategoryCrypto, 36.80, 3),
	inst("DOT/USD", models.CategoryCrypto, 7.25, 4),
	inst("MATIC/USD", models.CategoryCrypto, 0.9250, 5),
	inst("LINK/USD", models.CategoryCrypto, 14.85, 4),
	inst("UNI/USD", models.CategoryCrypto, 6.25, 4),
	inst("LTC/USD", models.CategoryCrypto, 72.50, 3),
	inst("ATOM/USD", models.CategoryCrypto, 9.85, 4),
	inst("ETC/USD", models.CategoryCrypto, 23.45, 3),
	inst("XLM/USD", models.CategoryCrypto, 0.1250, 6),
	inst("ALGO/USD", models.CategoryCrypto, 0.1850, 5),
	inst("VET/USD", models.CategoryCrypto, 0.0325, 6),
	inst("FIL/USD", models.CategoryCrypto, 5.45, 4),
	inst("TRX/USD", models.CategoryCrypto, 0.1050, 6),

	inst("XAU/USD", models.CategoryCommodities, 2050.00, 2),
	inst("XAG/USD", models.CategoryCommodities, 23.00, 3),
	inst("WTI/USD", models.CategoryCommodities, 78.00, 2),
	inst("XBR/USD", models.CategoryCommodities, 82.00, 2),
	inst("NG/USD", models.CategoryCommodities, 2.50, 3),
	inst("XPT/USD", models.CategoryCommodities, 920.00, 2),

	inst("SPX", models.CategoryIndices, 5800.00, 2),
	inst("IXIC", models.CategoryIndices, 18500.00, 2),
	inst("DJI", models.CategoryIndices, 43000.00, 2),
	inst("FTSE", models.CategoryIndices, 8400.00, 2),
	inst("DAX", models.CategoryIndices, 18500.00, 2),
	inst("N225", models.CategoryIndices, 38000.00, 2),

	inst("AAPL", models.CategoryStocks, 264.00, 2),
	inst("GOOGL", models.CategoryStocks, 185.00, 2),
	inst("MSFT", models.CategoryStocks, 397.00, 2),
	inst("AMZN", models.CategoryStocks, 201.00, 2),
	inst("TSLA", models.CategoryStocks, 411.00, 2),
	inst("META", models.CategoryStocks, 639.00, 2),
	inst("NVDA", models.CategoryStocks, 185.00, 2),
}

// Catalog is safe for concurrent reads.
type Catalog struct {
	mu      sync.RWMutex
	bySym   map[string]models.Instrument
	ordered []string
}

// New builds the built-in catalog with overrides applied by symbol. An override
// replaces the built-in entry; unknown symbols are appended.
func New(overrides []models.Instrument) *Catalog {
	c := &Catalog{bySym: make(map[string]models.Instrument, len(defaults)+len(overrides))}
	for _, in := range defaults {
		c.put(in)
	}
	for _, in := range overrides {
		if in.Digits == 0 {
			if prev, ok := c.bySym[Normalize(in.Symbol)]; ok {
				in.Digits = prev.Digits
			} else {
				in.Digits = 5
			}
		}
		c.put(in)
	}
	return c
}

func (c *Catalog) put(in models.Instrument) {
	in.Symbol = Normalize(in.Symbol)
	if _, ok := c.bySym[in.Symbol]; !ok {
		c.ordered = append(c.ordered, in.Symbol)
	}
	c.bySym[in.Symbol] = in
}

// Normalize canonicalizes user input: trimmed and upper-cased.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (c *Catalog) Lookup(symbol string) (models.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	in, ok := c.bySym[Normalize(symbol)]
	return in, ok
}

// Enabled reports whether symbol is known and enabled for distribution.
func (c *Catalog) Enabled(symbol string) bool {
	in, ok := c.Lookup(symbol)
	return ok && in.Enabled
}

// DefaultPrice is the anchor used when no real price was ever observed.
func (c *Catalog) DefaultPrice(symbol string) float64 {
	if in, ok := c.Lookup(symbol); ok && in.DefaultPrice > 0 {
		return in.DefaultPrice
	}
	return UnknownPrice
}

// Digits is the price precision of symbol, or -1 when the symbol is unknown.
func (c *Catalog) Digits(symbol string) int {
	if in, ok := c.Lookup(symbol); ok {
		return in.Digits
	}
	return -1
}

// All returns every instrument in catalog order.
func (c *Catalog) All() []models.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Instrument, 0, len(c.ordered))
	for _, s := range c.ordered {
		out = append(out, c.bySym[s])
	}
	return out
}

// ByCategory returns the enabled instruments of category sorted by symbol.
func (c *Catalog) ByCategory(category models.Category) []models.Instrument {
	var out []models.Instrument
	for _, in := range c.All() {
		if in.Category == category && in.Enabled {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ProviderSymbol returns the symbol to send to provider, honouring overrides.
func ProviderSymbol(in models.Instrument, provider string) string {
	if s, ok := in.ProviderSymbol[provider]; ok && s != "" {
		return s
	}
	return in.Symbol
}
