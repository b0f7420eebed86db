package candle

import (
	"math"
	"time"

	"OTCFeed/internal/domain/models"
	"OTCFeed/pkg/util"
)

// Resample merges oldest-first candles into buckets of width period. Input
// narrower than period is combined; the result is oldest-first. Candle times
// are epoch milliseconds.
func Resample(in []models.Candle, period time.Duration) []models.Candle {
	periodMs := period.Milliseconds()
	if periodMs <= 0 || len(in) == 0 {
		return in
	}
	out := make([]models.Candle, 0, len(in))
	for _, c := range in {
		bucket := util.BucketStart(c.Time, periodMs)
		n := len(out)
		if n > 0 && out[n-1].Time == bucket {
			cur := &out[n-1]
			cur.High = math.Max(cur.High, c.High)
			cur.Low = math.Min(cur.Low, c.Low)
			cur.Close = c.Close
			cur.Volume += c.Volume
			continue
		}
		c.Time = bucket
		out = append(out, clampCandle(c))
	}
	return out
}

// Tail returns the last n candles.
func Tail(in []models.Candle, n int) []models.Candle {
	if n <= 0 || len(in) <= n {
		return in
	}
	return in[len(in)-n:]
}
