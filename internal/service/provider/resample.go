package provider

import (
	"OTCFeed/internal/domain/models"
	"OTCFeed/internal/domain/repository"
	"OTCFeed/pkg/candle"
)

// finish resamples native candles to tf when they differ and keeps the newest limit.
func finish(candles []models.Candle, tf, native repository.Timeframe, limit int) []models.Candle {
	if tf != native {
		candles = candle.Resample(candles, tf.Duration())
	}
	return candle.Tail(candles, limit)
}
