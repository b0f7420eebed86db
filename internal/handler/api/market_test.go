package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	"OTCFeed/internal/service/catalog"
	"OTCFeed/internal/usecase"
)

type fakeCandles struct {
	got usecase.GetCandlesParams
	res *usecase.GetCandlesResult
	err error
}

func (f *fakeCandles) GetCandles(_ context.Context, p usecase.GetCandlesParams) (*usecase.GetCandlesResult, error) {
	f.got = p
	return f.res, f.err
}

type fakeStatus struct{}

func (fakeStatus) Status(symbol string) (models.MarketStatus, error) {
	switch symbol {
	case "EUR/USD":
		return models.MarketStatus{IsOpen: false, IsOTC: true, Message: "OTC - market closed"}, nil
	case "BTC/USD":
		return models.MarketStatus{IsOpen: true, Message: "open 24/7"}, nil
	}
	return models.MarketStatus{}, usecase.ErrUnknownInstrument
}

func (fakeStatus) Sources() map[string]string { return map[string]string{"EUR/USD": "synthetic"} }

type fakePrices map[string]models.Tick

func (p fakePrices) Get(_ context.Context, symbol string) (models.Tick, error) {
	t, ok := p[symbol]
	if !ok {
		return models.Tick{}, domrepo.ErrNotFound
	}
	return t, nil
}

func (p fakePrices) Latest(_ context.Context, symbols []string) (map[string]models.Tick, error) {
	out := map[string]models.Tick{}
	for _, s := range symbols {
		if t, ok := p[s]; ok {
			out[s] = t
		}
	}
	return out, nil
}

func (p fakePrices) Recent(_ context.Context, symbol string, n int) ([]models.Tick, error) {
	if t, ok := p[symbol]; ok && n > 0 {
		return []models.Tick{t}, nil
	}
	return []models.Tick{}, nil
}

type degraded bool

func (d degraded) Degraded() bool { return bool(d) }

type archiveHealth struct{ err error }

func (a archiveHealth) Health(context.Context) error { return a.err }

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newServer(deps MarketDeps) *echo.Echo {
	if deps.Status == nil {
		deps.Status = fakeStatus{}
	}
	if deps.Prices == nil {
		deps.Prices = fakePrices{"EUR/USD": {Symbol: "EUR/USD", Price: 1.0851, Timestamp: 1_700_000_000_000, IsOTC: true, IsSynthetic: true}}
	}
	deps.Catalog = catalog.New(nil)
	e := echo.New()
	NewMarketHandler(deps).RegisterRoutes(e)
	return e
}

func get(t *testing.T, e *echo.Echo, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	if data != nil {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data %s: %v", env.Data, err)
		}
	}
	return env
}

func TestCandlesEndpoint(t *testing.T) {
	candles := &fakeCandles{res: &usecase.GetCandlesResult{
		Source:  usecase.CandleSourceSynthetic,
		IsOTC:   true,
		Candles: []models.Candle{{Time: 60_000, Open: 1, High: 2, Low: 0.5, Close: 1.5}, {Time: 120_000, Open: 1.5, High: 2, Low: 1, Close: 1.8}},
	}}
	e := newServer(MarketDeps{Candles: candles})

	rec := get(t, e, "/api/candles?symbol=EUR/USD&timeframe=5m")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var got []models.Candle
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("body is not a candle array: %v", err)
	}
	if len(got) != 2 || got[0].Time >= got[1].Time {
		t.Fatalf("candles = %+v", got)
	}
	if rec.Header().Get("X-OTC") != "true" || rec.Header().Get("X-Candle-Source") != "synthetic" {
		t.Fatalf("headers = %v", rec.Header())
	}
	if candles.got.Timeframe != domrepo.TF5m || candles.got.Limit != 300 || candles.got.Symbol != "EUR/USD" {
		t.Fatalf("params = %+v, want 5m with the default limit", candles.got)
	}
}

func TestCandlesEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{"missing symbol", "/api/candles", nil, http.StatusBadRequest},
		{"bad timeframe", "/api/candles?symbol=EUR/USD&timeframe=3m", nil, http.StatusBadRequest},
		{"limit too large", "/api/candles?symbol=EUR/USD&limit=5000", nil, http.StatusBadRequest},
		{"unknown symbol", "/api/candles?symbol=NOPE", usecase.ErrUnknownInstrument, http.StatusNotFound},
		{"provider failure", "/api/candles?symbol=AAPL", errors.New("twelvedata: 502"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newServer(MarketDeps{Candles: &fakeCandles{err: tt.err, res: &usecase.GetCandlesResult{}}})
			rec := get(t, e, tt.target)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestPriceEndpoint(t *testing.T) {
	e := newServer(MarketDeps{})
	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"escaped path", "/api/price/EUR%2FUSD", http.StatusOK},
		{"query form", "/api/price?symbol=eur/usd", http.StatusOK},
		{"nothing stored", "/api/price?symbol=GBP/USD", http.StatusNotFound},
		{"unknown symbol", "/api/price?symbol=NOPE", http.StatusNotFound},
		{"missing symbol", "/api/price", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, e, tt.target)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if tt.want != http.StatusOK {
				return
			}
			var tick models.Tick
			decodeEnvelope(t, rec, &tick)
			if tick.Symbol != "EUR/USD" || tick.Price != 1.0851 || !tick.IsOTC {
				t.Fatalf("tick = %+v", tick)
			}
		})
	}
}

func TestMarketStatusAndInstruments(t *testing.T) {
	e := newServer(MarketDeps{})

	var st models.MarketStatus
	rec := get(t, e, "/api/market-status?symbol=EUR/USD")
	decodeEnvelope(t, rec, &st)
	if rec.Code != http.StatusOK || st.IsOpen || !st.IsOTC {
		t.Fatalf("status %d %+v", rec.Code, st)
	}
	if rec := get(t, e, "/api/market-status?symbol=NOPE"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown symbol status = %d", rec.Code)
	}

	var list struct {
		Rows []struct {
			Symbol    string  `json:"symbol"`
			LastPrice float64 `json:"lastPrice"`
			Source    string  `json:"source"`
		} `json:"rows"`
		Total int `json:"total"`
	}
	rec = get(t, e, "/api/instruments")
	decodeEnvelope(t, rec, &list)
	if list.Total != len(catalog.New(nil).All()) || len(list.Rows) != list.Total {
		t.Fatalf("instruments total = %d rows = %d", list.Total, len(list.Rows))
	}
	for _, r := range list.Rows {
		if r.Symbol == "EUR/USD" && (r.LastPrice != 1.0851 || r.Source != "synthetic") {
			t.Fatalf("EUR/USD row = %+v", r)
		}
	}
}

func TestHealthReportsDegradation(t *testing.T) {
	tests := []struct {
		name    string
		store   Degradable
		archive HealthChecker
		want    string
	}{
		{"healthy", degraded(false), archiveHealth{}, "ok"},
		{"store on memory fallback", degraded(true), nil, "degraded"},
		{"archive down", degraded(false), archiveHealth{err: errors.New("dial tcp")}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newServer(MarketDeps{Store: tt.store, Archive: tt.archive, Subscribers: func() int { return 3 }})
			rec := get(t, e, "/health")
			var v struct {
				Status      string `json:"status"`
				Subscribers int    `json:"subscribers"`
			}
			decodeEnvelope(t, rec, &v)
			if rec.Code != http.StatusOK || v.Status != tt.want || v.Subscribers != 3 {
				t.Fatalf("code %d body %+v, want %s", rec.Code, v, tt.want)
			}
		})
	}
}
