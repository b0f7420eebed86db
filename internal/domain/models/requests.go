package models

// Requests for market data HTTP endpoints.

type CandlesRequest struct {
	Symbol    string `query:"symbol" json:"symbol" validate:"required"`
	Timeframe string `query:"timeframe" json:"timeframe" default:"1m" validate:"oneof=1m 2m 5m 10m 15m 30m 1h 2h 4h 8h 12h 1d 1w 1M"`
	Limit     int    `query:"limit" json:"limit" default:"300" validate:"gte=1,lte=1000"`
}

type SymbolRequest struct {
	Symbol string `query:"symbol" param:"symbol" json:"symbol" validate:"required"`
}
