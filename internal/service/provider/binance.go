// Package provider fetches historical candles from provider REST APIs.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"OTCFeed/internal/domain/models"
	"OTCFeed/internal/domain/repository"
	"OTCFeed/internal/service/normalizer"
	xhttp "OTCFeed/pkg/http"
)

const binanceMaxLimit = 1000

// Binance has no 2m or 10m interval, and its weekly and monthly bars are not
// aligned to fixed-width buckets; those are fetched smaller and resampled.
var binanceIntervals = map[repository.Timeframe]repository.Timeframe{
	repository.TF1m:  repository.TF1m,
	repository.TF2m:  repository.TF1m,
	repository.TF5m:  repository.TF5m,
	repository.TF10m: repository.TF5m,
	repository.TF15m: repository.TF15m,
	repository.TF30m: repository.TF30m,
	repository.TF1h:  repository.TF1h,
	repository.TF2h:  repository.TF2h,
	repository.TF4h:  repository.TF4h,
	repository.TF8h:  repository.TF8h,
	repository.TF12h: repository.TF12h,
	repository.TF1d:  repository.TF1d,
	repository.TF1w:  repository.TF1d,
	repository.TF1M:  repository.TF1d,
}

type BinanceREST struct {
	client  *xhttp.Client
	baseURL string
}

func NewBinanceREST(client *xhttp.Client, baseURL string) *BinanceREST {
	return &BinanceREST{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (b *BinanceREST) Name() string { return "binance" }

func (b *BinanceREST) Candles(ctx context.Context, symbol string, tf repository.Timeframe, limit int) ([]models.Candle, error) {
	native, ok := binanceIntervals[tf]
	if !ok {
		native = repository.TF1m
	}
	fetch := limit * int(tf.Millis()/native.Millis())
	if fetch > binanceMaxLimit {
		fetch = binanceMaxLimit
	}
	if fetch < 1 {
		fetch = 1
	}

	var rows [][]json.RawMessage
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    b.baseURL + "/klines",
		QueryParams: map[string][]string{
			"symbol":   {normalizer.BinancePair(symbol)},
			"interval": {string(native)},
			"limit":    {strconv.Itoa(fetch)},
		},
		Headers: map[string]string{"Accept": "application/json"},
	}, &rows)
	var status *xhttp.StatusError
	if errors.As(err, &status) && status.Code == http.StatusBadRequest && strings.Contains(status.Body, "Invalid symbol") {
		return nil, fmt.Errorf("binance klines %s: %w", symbol, ErrUnsupportedSymbol)
	}
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseBinanceRow(row)
		if err != nil {
			return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
		}
		candles = append(candles, c)
	}
	return finish(candles, tf, native, limit), nil
}

// parseBinanceRow decodes [openTime, open, high, low, close, volume, ...].
func parseBinanceRow(row []json.RawMessage) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("%w: kline row has %d fields", normalizer.ErrMalformed, len(row))
	}
	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return models.Candle{}, fmt.Errorf("%w: open time: %v", normalizer.ErrMalformed, err)
	}
	vals := make([]float64, 5)
	for i := range vals {
		var d decimal.Decimal
		if err := d.UnmarshalJSON(row[i+1]); err != nil {
			return models.Candle{}, fmt.Errorf("%w: field %d: %v", normalizer.ErrMalformed, i+1, err)
		}
		vals[i], _ = d.Float64()
	}
	return models.Candle{Time: openTime, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}
