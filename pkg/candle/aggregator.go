// Package candle folds a canonical tick stream into OHLC bars for one timeframe.
package candle

import (
	"math"
	"sort"
	"time"

	"OTCFeed/internal/domain/models"
	"OTCFeed/pkg/util"
)

const defaultDedupeWindow = 50 * time.Millisecond

// Action describes what a tick did to the current candle.
type Action int

const (
	Opened Action = iota + 1
	Extended
	Replaced
)

func (a Action) String() string {
	switch a {
	case Opened:
		return "opened"
	case Extended:
		return "extended"
	case Replaced:
		return "replaced"
	}
	return "unknown"
}

// Result is the outcome of an accepted tick. Committed is set when the tick
// closed the previous candle.
type Result struct {
	Action    Action
	Candle    models.Candle
	Committed *models.Candle
}

type Option func(*Aggregator)

// WithClock sets the clock used for duplicate suppression.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithDedupeWindow sets how long an identical tick is suppressed.
func WithDedupeWindow(d time.Duration) Option {
	return func(a *Aggregator) { a.dedupeWindow = d }
}

// WithMaxCandles bounds the committed history; zero keeps everything.
func WithMaxCandles(n int) Option {
	return func(a *Aggregator) { a.maxCandles = n }
}

// Aggregator is not safe for concurrent use; one goroutine owns it.
type Aggregator struct {
	periodMs     int64
	dedupeWindow time.Duration
	maxCandles   int
	now          func() time.Time

	committed   []models.Candle
	current     models.Candle
	hasCurrent  bool
	placeholder bool
	lastBucket  int64

	lastTs      int64
	lastPrice   float64
	lastProcess time.Time
}

func NewAggregator(period time.Duration, opts ...Option) *Aggregator {
	if period < time.Millisecond {
		period = time.Minute
	}
	a := &Aggregator{
		periodMs:     period.Milliseconds(),
		dedupeWindow: defaultDedupeWindow,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Reset()
	return a
}

// Period returns the candle width.
func (a *Aggregator) Period() time.Duration { return time.Duration(a.periodMs) * time.Millisecond }

// Bucket aligns a millisecond timestamp to the start of its candle.
func (a *Aggregator) Bucket(ts int64) int64 { return util.BucketStart(ts, a.periodMs) }

// Reset drops every candle and the dedup memory.
func (a *Aggregator) Reset() {
	a.committed = nil
	a.current = models.Candle{}
	a.hasCurrent = false
	a.placeholder = false
	a.lastBucket = math.MinInt64
	a.lastTs = 0
	a.lastPrice = 0
	a.lastProcess = time.Time{}
}

// Seed loads history oldest-first. The newest bar becomes the current candle
// and stays a placeholder until a live tick lands in its bucket.
func (a *Aggregator) Seed(history []models.Candle) {
	a.Reset()
	if len(history) == 0 {
		return
	}
	bars := make([]models.Candle, 0, len(history))
	for _, c := range history {
		c.Time = a.Bucket(util.NormalizeMillis(c.Time))
		bars = append(bars, clampCandle(c))
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time < bars[j].Time })

	// keep the last bar of each bucket
	dedup := bars[:0]
	for _, c := range bars {
		if n := len(dedup); n > 0 && dedup[n-1].Time == c.Time {
			dedup[n-1] = c
			continue
		}
		dedup = append(dedup, c)
	}

	last := len(dedup) - 1
	a.committed = append(a.committed, dedup[:last]...)
	a.trim()
	a.current = dedup[last]
	a.hasCurrent = true
	a.placeholder = true
	a.lastBucket = a.current.Time
}

// Add folds one tick into the series. It reports false when the tick was
// invalid, older than the current bucket or a duplicate of the previous tick.
func (a *Aggregator) Add(t models.Tick) (Result, bool) {
	if t.Price <= 0 || math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Timestamp <= 0 {
		return Result{}, false
	}
	ts := util.NormalizeMillis(t.Timestamp)

	now := a.now()
	if ts == a.lastTs && t.Price == a.lastPrice && !a.lastProcess.IsZero() && now.Sub(a.lastProcess) < a.dedupeWindow {
		return Result{}, false
	}

	bucket := a.Bucket(ts)
	if bucket < a.lastBucket {
		return Result{}, false
	}
	a.lastTs, a.lastPrice, a.lastProcess = ts, t.Price, now

	switch {
	case bucket == a.lastBucket && a.placeholder:
		a.current = fromTick(bucket, t)
		a.placeholder = false
		return Result{Action: Replaced, Candle: a.current}, true

	case bucket == a.lastBucket:
		a.extend(t)
		return Result{Action: Extended, Candle: a.current}, true

	default:
		var committed *models.Candle
		if a.hasCurrent {
			c := a.current
			committed = &c
			a.committed = append(a.committed, c)
			a.trim()
		}
		a.current = fromTick(bucket, t)
		a.hasCurrent = true
		a.placeholder = false
		a.lastBucket = bucket
		return Result{Action: Opened, Candle: a.current, Committed: committed}, true
	}
}

// Redraw returns the current candle for a periodic render. It ignores dedup
// state so keep-alive refreshes always have something to draw.
func (a *Aggregator) Redraw() (models.Candle, bool) {
	return a.current, a.hasCurrent
}

// Current returns the in-progress candle.
func (a *Aggregator) Current() (models.Candle, bool) {
	return a.current, a.hasCurrent
}

// IsPlaceholder reports whether the current candle still holds backfill values.
func (a *Aggregator) IsPlaceholder() bool { return a.placeholder }

// Candles returns committed candles followed by the current one.
func (a *Aggregator) Candles() []models.Candle {
	out := make([]models.Candle, 0, len(a.committed)+1)
	out = append(out, a.committed...)
	if a.hasCurrent {
		out = append(out, a.current)
	}
	return out
}

func (a *Aggregator) extend(t models.Tick) {
	c := &a.current
	if t.HasOHLC() {
		c.High = math.Max(c.High, t.High)
		c.Low = math.Min(c.Low, t.Low)
		c.Close = t.Close
	} else {
		c.Close = t.Price
	}
	c.High = math.Max(c.High, c.Close)
	c.Low = math.Min(c.Low, c.Close)
	if t.Volume > 0 {
		c.Volume = math.Max(c.Volume, t.Volume)
	}
}

func (a *Aggregator) trim() {
	if a.maxCandles > 0 && len(a.committed) > a.maxCandles {
		a.committed = append(a.committed[:0], a.committed[len(a.committed)-a.maxCandles:]...)
	}
}

func fromTick(bucket int64, t models.Tick) models.Candle {
	if t.HasOHLC() {
		return clampCandle(models.Candle{Time: bucket, Open: t.Open, High: t.High, Low: t.Low, Close: t.Close, Volume: t.Volume})
	}
	return models.Candle{Time: bucket, Open: t.Price, High: t.Price, Low: t.Price, Close: t.Price, Volume: t.Volume}
}

// clampCandle widens high and low so they bracket open and close.
func clampCandle(c models.Candle) models.Candle {
	c.High = math.Max(c.High, math.Max(c.Open, c.Close))
	c.Low = math.Min(c.Low, math.Min(c.Open, c.Close))
	return c
}
