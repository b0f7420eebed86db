package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"OTCFeed/internal/domain/models"
	"OTCFeed/internal/domain/repository"
	xhttp "OTCFeed/pkg/http"
)

// ErrUnsupportedSymbol means the provider does not know the symbol. Callers
// answer with an empty series rather than a failure.
var ErrUnsupportedSymbol = errors.New("symbol not supported by provider")

const twelveDataMaxOutput = 5000

var twelveDataIntervals = map[repository.Timeframe]struct {
	name   string
	native repository.Timeframe
}{
	repository.TF1m:  {"1min", repository.TF1m},
	repository.TF2m:  {"1min", repository.TF1m},
	repository.TF5m:  {"5min", repository.TF5m},
	repository.TF10m: {"5min", repository.TF5m},
	repository.TF15m: {"15min", repository.TF15m},
	repository.TF30m: {"30min", repository.TF30m},
	repository.TF1h:  {"1h", repository.TF1h},
	repository.TF2h:  {"2h", repository.TF2h},
	repository.TF4h:  {"4h", repository.TF4h},
	repository.TF8h:  {"4h", repository.TF4h},
	repository.TF12h: {"4h", repository.TF4h},
	repository.TF1d:  {"1day", repository.TF1d},
	repository.TF1w:  {"1day", repository.TF1d},
	repository.TF1M:  {"1day", repository.TF1d},
}

type twelveDataValue struct {
	Datetime string          `json:"datetime"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

type twelveDataSeries struct {
	Status  string            `json:"status"`
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Values  []twelveDataValue `json:"values"`
}

type TwelveDataREST struct {
	client  *xhttp.Client
	baseURL string
	apiKey  string
}

func NewTwelveDataREST(client *xhttp.Client, baseURL, apiKey string) *TwelveDataREST {
	return &TwelveDataREST{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (t *TwelveDataREST) Name() string { return "twelvedata" }

// Configured reports whether an API key is set.
func (t *TwelveDataREST) Configured() bool { return t.apiKey != "" }

func (t *TwelveDataREST) Candles(ctx context.Context, symbol string, tf repository.Timeframe, limit int) ([]models.Candle, error) {
	iv, ok := twelveDataIntervals[tf]
	if !ok {
		iv = twelveDataIntervals[repository.TF1m]
	}
	size := limit * int(tf.Millis()/iv.native.Millis())
	if size > twelveDataMaxOutput {
		size = twelveDataMaxOutput
	}
	if size < 1 {
		size = 1
	}
	series, err := t.series(ctx, symbol, iv.name, size)
	if err != nil {
		return nil, err
	}
	candles := make([]models.Candle, 0, len(series.Values))
	for i := len(series.Values) - 1; i >= 0; i-- {
		c, ok := toCandle(series.Values[i])
		if !ok {
			continue
		}
		candles = append(candles, c)
	}
	return finish(candles, tf, iv.native, limit), nil
}

// LatestClose returns the most recent daily close, used to anchor synthetic prices.
func (t *TwelveDataREST) LatestClose(ctx context.Context, symbol string) (float64, error) {
	series, err := t.series(ctx, symbol, "1day", 1)
	if err != nil {
		return 0, err
	}
	if len(series.Values) == 0 {
		return 0, fmt.Errorf("twelvedata %s: %w", symbol, ErrUnsupportedSymbol)
	}
	price, _ := series.Values[0].Close.Float64()
	if price <= 0 {
		return 0, fmt.Errorf("twelvedata %s: non-positive close", symbol)
	}
	return price, nil
}

// series requests time_series, retrying once with the slash-less symbol when
// the provider rejects the first form.
func (t *TwelveDataREST) series(ctx context.Context, symbol, interval string, size int) (twelveDataSeries, error) {
	s, err := t.fetch(ctx, symbol, interval, size)
	if err == nil && s.Status != "error" && s.Code == 0 {
		return s, nil
	}
	if alt := strings.ReplaceAll(symbol, "/", ""); alt != symbol {
		s, err = t.fetch(ctx, alt, interval, size)
	}
	if err != nil {
		return twelveDataSeries{}, fmt.Errorf("twelvedata time_series %s: %w", symbol, err)
	}
	if s.Status == "error" || s.Code != 0 {
		if symbolError(s.Message) {
			return twelveDataSeries{}, fmt.Errorf("twelvedata %s: %w: %s", symbol, ErrUnsupportedSymbol, s.Message)
		}
		return twelveDataSeries{}, fmt.Errorf("twelvedata %s: %s", symbol, s.Message)
	}
	return s, nil
}

func (t *TwelveDataREST) fetch(ctx context.Context, symbol, interval string, size int) (twelveDataSeries, error) {
	var s twelveDataSeries
	err := t.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    t.baseURL + "/time_series",
		QueryParams: map[string][]string{
			"symbol":     {symbol},
			"interval":   {interval},
			"outputsize": {strconv.Itoa(size)},
			"timezone":   {"UTC"},
			"format":     {"JSON"},
			"apikey":     {t.apiKey},
		},
		Headers: map[string]string{"Accept": "application/json"},
	}, &s)
	return s, err
}

func symbolError(msg string) bool {
	m := strings.ToLower(msg)
	for _, s := range []string{"symbol", "invalid", "missing", "figi"} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}

var twelveDataLayouts = []string{"2006-01-02 15:04:05", "2006-01-02", time.RFC3339}

func toCandle(v twelveDataValue) (models.Candle, bool) {
	var ts time.Time
	var err error
	for _, layout := range twelveDataLayouts {
		if ts, err = time.ParseInLocation(layout, v.Datetime, time.UTC); err == nil {
			break
		}
	}
	if err != nil {
		return models.Candle{}, false
	}
	o, _ := v.Open.Float64()
	h, _ := v.High.Float64()
	l, _ := v.Low.Float64()
	c, _ := v.Close.Float64()
	vol, _ := v.Volume.Float64()
	if o <= 0 || h <= 0 || l <= 0 || c <= 0 {
		return models.Candle{}, false
	}
	return models.Candle{Time: ts.UnixMilli(), Open: o, High: h, Low: l, Close: c, Volume: vol}, true
}
