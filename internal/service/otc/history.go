package otc

import (
	"math"
	"time"

	"OTCFeed/internal/domain/models"
	"OTCFeed/pkg/util"
)

// Backfill produces count oldest-first candles of width interval ending at the
// bucket containing now. The newest close equals the engine's anchor. It uses
// its own generator and leaves the live walk untouched.
func (e *Engine) Backfill(count int, interval time.Duration, now time.Time) []models.Candle {
	if count <= 0 || interval <= 0 {
		return nil
	}
	e.mu.Lock()
	anchor := e.anchor
	vol := e.cfg.Volatility
	e.mu.Unlock()

	intervalMs := interval.Milliseconds()
	if intervalMs <= 0 {
		return nil
	}
	nowMs := now.UnixMilli()
	rng := newLCG(seedFor(historySeedKey(e.symbol, nowMs, intervalMs)))

	ticks := int(intervalMs / 1000)
	if ticks < 4 {
		ticks = 4
	}
	scale := math.Sqrt(float64(intervalMs) / 1000)

	candles := make([]models.Candle, 0, count)
	price := anchor
	for i := 0; i < count; i++ {
		bucket := util.BucketStart(nowMs-int64(i)*intervalMs, intervalMs)
		candleVol := vol * scale * price
		open := price
		high, low := open, open
		p := open
		for j := 0; j < ticks; j++ {
			p += rng.gaussian()*candleVol/math.Sqrt(float64(ticks)) + (rng.next()-0.5)*candleVol*0.1
			high = math.Max(high, p)
			low = math.Min(low, p)
		}
		candles = append(candles, models.Candle{
			Time:  bucket,
			Open:  open,
			High:  math.Max(high, math.Max(open, p)),
			Low:   math.Min(low, math.Min(open, p)),
			Close: p,
		})
		price = p
	}

	for l, r := 0, len(candles)-1; l < r; l, r = l+1, r-1 {
		candles[l], candles[r] = candles[r], candles[l]
	}

	n := len(candles)
	lastClose := candles[n-1].Close
	if lastClose <= 0 || math.IsNaN(lastClose) {
		return candles
	}
	ratio := anchor/lastClose - 1
	for i := range candles {
		w := 1.0
		if n > 1 {
			w = float64(i) / float64(n-1)
		}
		f := 1 + ratio*w
		c := &candles[i]
		c.Open *= f
		c.High *= f
		c.Low *= f
		c.Close *= f
	}
	last := &candles[n-1]
	last.Close = anchor
	last.High = math.Max(last.High, anchor)
	last.Low = math.Min(last.Low, anchor)
	return candles
}
