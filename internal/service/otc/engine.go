// Package otc generates deterministic synthetic prices while an instrument's market is closed.
package otc

import (
	"math"
	"sync"
	"time"

	"OTCFeed/internal/domain/models"
	applogger "OTCFeed/pkg/logger"
)

const (
	clampBand      = 0.005
	clampPull      = 0.1
	momentumDecay  = 0.7
	momentumGain   = 0.3
	momentumWeight = 0.5
)

type trend struct {
	direction float64
	strength  float64
	ticksLeft int
}

// Engine is the per-symbol synthetic price state. All methods are safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	symbol   string
	cfg      models.InstrumentConfig
	anchor   float64
	mean     float64
	current  float64
	previous float64
	momentum float64
	trend    trend
	rng      *lcg
	logger   *applogger.Logger
}

// NewEngine seeds the generator from symbol and the UTC minute of now, so two
// engines built in the same minute produce the same sequence.
func NewEngine(symbol string, cfg models.InstrumentConfig, anchor float64, now time.Time, logger *applogger.Logger) *Engine {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &Engine{
		symbol:   symbol,
		cfg:      cfg,
		anchor:   anchor,
		mean:     anchor,
		current:  anchor,
		previous: anchor,
		rng:      newLCG(seedFor(minuteSeedKey(symbol, now.UnixMilli()))),
		logger:   logger,
	}
}

func (e *Engine) Symbol() string                  { return e.symbol }
func (e *Engine) Config() models.InstrumentConfig { return e.cfg }

// Next advances the walk by one step and returns the synthetic tick stamped with now.
func (e *Engine) Next(now time.Time) models.Tick {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.trend.ticksLeft <= 0 {
		r := e.rng.next()
		switch {
		case r < 0.3:
			e.trend.direction = -1
		case r > 0.7:
			e.trend.direction = 1
		default:
			e.trend.direction = 0
		}
		e.trend.strength = e.rng.next() * e.cfg.MaxTrendStrength
		e.trend.ticksLeft = int(math.Floor(e.rng.next()*float64(e.cfg.TrendDurationTicks))) + 5
	}
	e.trend.ticksLeft--

	cur := e.current
	trendComponent := e.trend.direction * e.trend.strength * cur
	meanReversion := e.cfg.MeanReversionSpeed * (e.mean - cur)
	noise := e.rng.gaussian() * e.cfg.Volatility * cur
	e.momentum = e.momentum*momentumDecay + (cur-e.previous)*momentumGain

	e.previous = cur
	e.current = cur + trendComponent + meanReversion + noise + momentumWeight*e.momentum

	if deviation := e.current - e.anchor; math.Abs(deviation) > clampBand*e.anchor {
		e.current -= deviation * clampPull
	}

	if math.IsNaN(e.current) || math.IsInf(e.current, 0) {
		e.logger.Error("synthetic price diverged, resetting to anchor",
			applogger.String("symbol", e.symbol),
			applogger.Float64("anchor", e.anchor))
		e.resetLocked(e.anchor)
	}

	half := e.current * e.cfg.SpreadPercent / 200
	change := e.current - e.anchor
	return models.Tick{
		Symbol:        e.symbol,
		Price:         e.current,
		Timestamp:     now.UnixMilli(),
		Bid:           e.current - half,
		Ask:           e.current + half,
		Change:        change,
		ChangePercent: change / e.anchor * 100,
		IsOTC:         true,
		IsSynthetic:   true,
	}
}

// UpdateBasePrice re-anchors the walk at price.
func (e *Engine) UpdateBasePrice(price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	e.mu.Lock()
	e.anchor = price
	e.resetLocked(price)
	e.mu.Unlock()
}

func (e *Engine) resetLocked(price float64) {
	e.mean = price
	e.current = price
	e.previous = price
	e.momentum = 0
}

func (e *Engine) CurrentPrice() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Engine) Anchor() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.anchor
}
