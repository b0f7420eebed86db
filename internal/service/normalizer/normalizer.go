// Package normalizer turns provider payloads into canonical ticks. Parsers are
// strict: each provider frame decodes into its own struct.
package normalizer

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"OTCFeed/internal/domain/models"
)

var (
	// ErrMalformed marks a payload that cannot be decoded into a valid tick.
	ErrMalformed = errors.New("malformed payload")
	// ErrIgnored marks a well-formed control frame that carries no price.
	ErrIgnored = errors.New("ignored frame")
)

// FromSynthetic marks an engine tick and rejects non-finite output.
func FromSynthetic(t models.Tick) (models.Tick, error) {
	t.IsOTC = true
	t.IsSynthetic = true
	if !t.Valid() {
		return models.Tick{}, ErrMalformed
	}
	return t, nil
}

// Round rounds the price fields of t to digits decimals. changePercent keeps four.
func Round(t models.Tick, digits int) models.Tick {
	if digits < 0 {
		return t
	}
	places := int32(digits)
	t.Price = round(t.Price, places)
	t.Bid = round(t.Bid, places)
	t.Ask = round(t.Ask, places)
	t.Change = round(t.Change, places)
	t.Open = round(t.Open, places)
	t.High = round(t.High, places)
	t.Low = round(t.Low, places)
	t.Close = round(t.Close, places)
	t.ChangePercent = round(t.ChangePercent, 4)
	return t
}

// Precision builds a pipeline transform that rounds each tick to the digits
// reported for its symbol. Negative digits leave the tick untouched.
func Precision(digits func(symbol string) int) func(models.Tick) models.Tick {
	return func(t models.Tick) models.Tick {
		return Round(t, digits(t.Symbol))
	}
}

func round(v float64, places int32) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

func positive(d decimal.Decimal) (float64, bool) {
	if !d.IsPositive() {
		return 0, false
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func nonNegative(d decimal.Decimal) float64 {
	if d.IsNegative() {
		return 0
	}
	f, _ := d.Float64()
	return f
}
