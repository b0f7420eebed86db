package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	"OTCFeed/internal/service/catalog"
	"OTCFeed/internal/service/markethours"
	"OTCFeed/internal/service/otc"
	"OTCFeed/internal/service/provider"
	"OTCFeed/pkg/scheduler"
)

type fakeCandleSource struct {
	name       string
	candles    []models.Candle
	err        error
	configured bool
	calls      int
	lastLimit  int
}

func (s *fakeCandleSource) Name() string     { return s.name }
func (s *fakeCandleSource) Configured() bool { return s.configured }

func (s *fakeCandleSource) Candles(_ context.Context, _ string, _ domrepo.Timeframe, limit int) ([]models.Candle, error) {
	s.calls++
	s.lastLimit = limit
	return s.candles, s.err
}

type fakeArchive struct {
	candles   []models.Candle
	err       error
	lastLimit int
	stored    []models.Tick
	batches   int
}

func (a *fakeArchive) Store(_ context.Context, t models.Tick) error {
	a.stored = append(a.stored, t)
	return a.err
}

func (a *fakeArchive) StoreBatch(_ context.Context, ticks []models.Tick) error {
	a.batches++
	a.stored = append(a.stored, ticks...)
	return a.err
}

func (a *fakeArchive) Candles(_ context.Context, _ string, _ domrepo.Timeframe, _, _ time.Time, limit int) ([]models.Candle, error) {
	a.lastLimit = limit
	return a.candles, a.err
}

func (a *fakeArchive) Health(context.Context) error { return nil }

type fakeCloses struct {
	price float64
	err   error
}

func (c fakeCloses) LatestClose(context.Context, string) (float64, error) { return c.price, c.err }

func bars(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Time: int64(i) * 60_000, Open: 1, High: 2, Low: 0.5, Close: 1.5}
	}
	return out
}

func newCandles(t *testing.T, at time.Time, deps CandlesDeps) *CandlesUseCase {
	t.Helper()
	sched := scheduler.New()
	t.Cleanup(sched.Shutdown)
	deps.Catalog = catalog.New(nil)
	deps.Evaluator = markethours.New()
	deps.Registry = otc.NewRegistry(sched, otc.NewConfigs(nil), func(models.Tick) {}, nil)
	deps.Now = func() time.Time { return at }
	return NewCandlesUseCase(deps)
}

func TestCandlesRouting(t *testing.T) {
	tests := []struct {
		name       string
		at         time.Time
		symbol     string
		crypto     *fakeCandleSource
		market     *fakeCandleSource
		archive    *fakeArchive
		wantSource string
		wantCount  int
	}{
		{
			name:       "crypto uses exchange klines",
			at:         saturdayClosed,
			symbol:     "BTC/USD",
			crypto:     &fakeCandleSource{name: "binance", candles: bars(3), configured: true},
			wantSource: "binance",
			wantCount:  3,
		},
		{
			name:       "open market prefers the archive",
			at:         wednesdayOpen,
			symbol:     "AAPL",
			market:     &fakeCandleSource{name: "twelvedata", candles: bars(2), configured: true},
			archive:    &fakeArchive{candles: bars(4)},
			wantSource: CandleSourceArchive,
			wantCount:  4,
		},
		{
			name:       "empty archive falls through to provider",
			at:         wednesdayOpen,
			symbol:     "AAPL",
			market:     &fakeCandleSource{name: "twelvedata", candles: bars(2), configured: true},
			archive:    &fakeArchive{},
			wantSource: "twelvedata",
			wantCount:  2,
		},
		{
			name:       "archive error falls through to provider",
			at:         wednesdayOpen,
			symbol:     "EUR/USD",
			market:     &fakeCandleSource{name: "twelvedata", candles: bars(5), configured: true},
			archive:    &fakeArchive{err: errors.New("clickhouse down")},
			wantSource: "twelvedata",
			wantCount:  5,
		},
		{
			name:       "unsupported symbol yields no candles",
			at:         wednesdayOpen,
			symbol:     "SPX",
			market:     &fakeCandleSource{name: "twelvedata", err: fmt.Errorf("twelvedata SPX: %w", provider.ErrUnsupportedSymbol), configured: true},
			wantSource: "twelvedata",
			wantCount:  0,
		},
		{
			name:       "unconfigured provider backfills synthetically",
			at:         wednesdayOpen,
			symbol:     "EUR/USD",
			market:     &fakeCandleSource{name: "twelvedata", candles: bars(2)},
			wantSource: CandleSourceSynthetic,
			wantCount:  300,
		},
		{
			name:       "closed market backfills synthetically",
			at:         saturdayClosed,
			symbol:     "XAU/USD",
			market:     &fakeCandleSource{name: "twelvedata", candles: bars(2), configured: true},
			wantSource: CandleSourceSynthetic,
			wantCount:  300,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := CandlesDeps{}
			if tt.crypto != nil {
				deps.Crypto = tt.crypto
			}
			if tt.market != nil {
				deps.Market = tt.market
			}
			if tt.archive != nil {
				deps.Archive = tt.archive
			}
			uc := newCandles(t, tt.at, deps)

			res, err := uc.GetCandles(context.Background(), GetCandlesParams{Symbol: tt.symbol, Timeframe: domrepo.TF1m})
			if err != nil {
				t.Fatalf("get candles: %v", err)
			}
			if res.Source != tt.wantSource || res.Count != tt.wantCount || len(res.Candles) != tt.wantCount {
				t.Fatalf("source %q count %d, want %q %d", res.Source, res.Count, tt.wantSource, tt.wantCount)
			}
			if res.Candles == nil {
				t.Fatal("candles must be an empty slice, not nil")
			}
			if res.IsOTC != (tt.wantSource == CandleSourceSynthetic) {
				t.Fatalf("isOTC = %v", res.IsOTC)
			}
		})
	}
}

func TestCandlesSyntheticEndsAtAnchor(t *testing.T) {
	tests := []struct {
		name   string
		deps   CandlesDeps
		anchor float64
	}{
		{"last real price", CandlesDeps{Prices: fixedPrices{"EUR/USD": 1.0912}, Closes: fakeCloses{price: 1.2}}, 1.0912},
		{"fetched close", CandlesDeps{Closes: fakeCloses{price: 1.1034}}, 1.1034},
		{"catalog default", CandlesDeps{Closes: fakeCloses{err: errors.New("no key")}}, 1.085},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := newCandles(t, saturdayClosed, tt.deps)
			res, err := uc.GetCandles(context.Background(), GetCandlesParams{Symbol: "eur/usd", Timeframe: domrepo.TF5m, Limit: 50})
			if err != nil {
				t.Fatalf("get candles: %v", err)
			}
			if res.Symbol != "EUR/USD" || len(res.Candles) != 50 {
				t.Fatalf("symbol %q, %d candles", res.Symbol, len(res.Candles))
			}
			last := res.Candles[len(res.Candles)-1]
			if math.Abs(last.Close-tt.anchor) > 1e-9 {
				t.Fatalf("newest close %v, want anchor %v", last.Close, tt.anchor)
			}
			for i := 1; i < len(res.Candles); i++ {
				if res.Candles[i].Time <= res.Candles[i-1].Time {
					t.Fatal("candles not oldest-first")
				}
			}
		})
	}
}

func TestCandlesLimitsAndErrors(t *testing.T) {
	archive := &fakeArchive{candles: bars(1)}
	uc := newCandles(t, wednesdayOpen, CandlesDeps{Archive: archive})

	if _, err := uc.GetCandles(context.Background(), GetCandlesParams{Symbol: "AAPL", Timeframe: "3m", Limit: 5000}); err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if archive.lastLimit != maxCandleLimit {
		t.Fatalf("limit = %d, want %d", archive.lastLimit, maxCandleLimit)
	}

	res, _ := uc.GetCandles(context.Background(), GetCandlesParams{Symbol: "AAPL", Timeframe: "3m"})
	if res.Timeframe != "1m" || archive.lastLimit != defaultCandleLimit {
		t.Fatalf("timeframe %q limit %d", res.Timeframe, archive.lastLimit)
	}

	if _, err := uc.GetCandles(context.Background(), GetCandlesParams{Symbol: "NOPE"}); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("err = %v, want ErrUnknownInstrument", err)
	}

	failing := newCandles(t, saturdayClosed, CandlesDeps{Crypto: &fakeCandleSource{name: "binance", err: errors.New("502")}})
	if _, err := failing.GetCandles(context.Background(), GetCandlesParams{Symbol: "ETH/USD"}); err == nil {
		t.Fatal("expected provider error")
	}
}
