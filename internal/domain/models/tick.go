package models

import "math"

// Tick is the canonical price update every source is normalized into.
// Optional numeric fields are omitted from the wire when zero.
type Tick struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Timestamp     int64   `json:"timestamp"` // ms
	Volume        float64 `json:"volume,omitempty"`
	Bid           float64 `json:"bid,omitempty"`
	Ask           float64 `json:"ask,omitempty"`
	Change        float64 `json:"change,omitempty"`
	ChangePercent float64 `json:"changePercent,omitempty"`
	Open          float64 `json:"open,omitempty"`
	High          float64 `json:"high,omitempty"`
	Low           float64 `json:"low,omitempty"`
	Close         float64 `json:"close,omitempty"`
	IsClosed      bool    `json:"isClosed,omitempty"`
	IsOTC         bool    `json:"isOTC,omitempty"`
	IsSynthetic   bool    `json:"isSynthetic,omitempty"`
}

// HasOHLC reports whether the source already aggregated the tick into a bar.
func (t Tick) HasOHLC() bool {
	return t.Open > 0 && t.High > 0 && t.Low > 0 && t.Close > 0
}

// Valid reports whether the tick carries a usable symbol, price and timestamp.
func (t Tick) Valid() bool {
	if t.Symbol == "" || t.Timestamp <= 0 {
		return false
	}
	return t.Price > 0 && !math.IsNaN(t.Price) && !math.IsInf(t.Price, 0)
}

// StoredTick is the Source-of-Truth record: the tick plus the write time.
type StoredTick struct {
	Tick
	UpdatedAt int64 `json:"updatedAt"`
}
