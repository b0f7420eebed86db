package otc

import (
	"time"

	"OTCFeed/internal/domain/models"
)

var defaultConfigs = map[models.Category]models.InstrumentConfig{
	models.CategoryForex: {
		Category:           models.CategoryForex,
		Volatility:         0.00008,
		MeanReversionSpeed: 0.02,
		TickInterval:       1000 * time.Millisecond,
		SpreadPercent:      0.001,
		MaxTrendStrength:   0.00003,
		TrendDurationTicks: 30,
	},
	models.CategoryStocks: {
		Category:           models.CategoryStocks,
		Volatility:         0.0003,
		MeanReversionSpeed: 0.015,
		TickInterval:       1500 * time.Millisecond,
		SpreadPercent:      0.01,
		MaxTrendStrength:   0.0001,
		TrendDurationTicks: 20,
	},
	models.CategoryIndices: {
		Category:           models.CategoryIndices,
		Volatility:         0.00015,
		MeanReversionSpeed: 0.018,
		TickInterval:       1200 * time.Millisecond,
		SpreadPercent:      0.005,
		MaxTrendStrength:   0.00005,
		TrendDurationTicks: 25,
	},
	models.CategoryCommodities: {
		Category:           models.CategoryCommodities,
		Volatility:         0.0002,
		MeanReversionSpeed: 0.012,
		TickInterval:       1300 * time.Millisecond,
		SpreadPercent:      0.008,
		MaxTrendStrength:   0.00008,
		TrendDurationTicks: 22,
	},
}

// Configs resolves per-category parameters, with YAML overrides layered on the defaults.
type Configs struct {
	overrides map[models.Category]models.InstrumentConfig
}

func NewConfigs(overrides map[models.Category]models.InstrumentConfig) *Configs {
	return &Configs{overrides: overrides}
}

// For returns the parameters of category. Categories without a row (crypto) use forex.
func (c *Configs) For(category models.Category) models.InstrumentConfig {
	base, ok := defaultConfigs[category]
	if !ok {
		base = defaultConfigs[models.CategoryForex]
	}
	base.Category = category
	if c == nil {
		return base
	}
	o, ok := c.overrides[category]
	if !ok {
		return base
	}
	if o.Volatility > 0 {
		base.Volatility = o.Volatility
	}
	if o.MeanReversionSpeed > 0 {
		base.MeanReversionSpeed = o.MeanReversionSpeed
	}
	if o.TickInterval > 0 {
		base.TickInterval = o.TickInterval
	}
	if o.SpreadPercent > 0 {
		base.SpreadPercent = o.SpreadPercent
	}
	if o.MaxTrendStrength > 0 {
		base.MaxTrendStrength = o.MaxTrendStrength
	}
	if o.TrendDurationTicks > 0 {
		base.TrendDurationTicks = o.TrendDurationTicks
	}
	return base
}

// DefaultConfig returns the built-in parameters of category.
func DefaultConfig(category models.Category) models.InstrumentConfig {
	return (*Configs)(nil).For(category)
}
