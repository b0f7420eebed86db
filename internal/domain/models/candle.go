package models

// Candle is one OHLC bar. Time is the bucket start in ms.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

// Consistent reports whether low <= {open, close} <= high.
func (c Candle) Consistent() bool {
	return c.Low <= c.Open && c.Low <= c.Close && c.High >= c.Open && c.High >= c.Close
}
