package otc

import (
	"math"
	"testing"
	"time"

	"OTCFeed/internal/domain/models"
)

var epoch = time.Date(2024, time.June, 8, 12, 0, 15, 0, time.UTC)

func TestEnginesAreDeterministic(t *testing.T) {
	cfg := DefaultConfig(models.CategoryForex)
	a := NewEngine("EUR/USD", cfg, 1.0850, epoch, nil)
	b := NewEngine("EUR/USD", cfg, 1.0850, epoch.Add(40*time.Second), nil)

	now := epoch
	for i := 0; i < 2000; i++ {
		ta, tb := a.Next(now), b.Next(now)
		if ta != tb {
			t.Fatalf("tick %d differs: %+v vs %+v", i, ta, tb)
		}
		now = now.Add(cfg.TickInterval)
	}
}

func TestEnginesDifferAcrossMinutes(t *testing.T) {
	cfg := DefaultConfig(models.CategoryForex)
	a := NewEngine("EUR/USD", cfg, 1.0850, epoch, nil)
	b := NewEngine("EUR/USD", cfg, 1.0850, epoch.Add(time.Minute), nil)
	same := true
	for i := 0; i < 20; i++ {
		if a.Next(epoch).Price != b.Next(epoch).Price {
			same = false
		}
	}
	if same {
		t.Fatalf("engines seeded in different minutes produced the same sequence")
	}
}

func TestEngineStaysNearAnchor(t *testing.T) {
	for _, cat := range []models.Category{
		models.CategoryForex, models.CategoryStocks, models.CategoryIndices, models.CategoryCommodities,
	} {
		t.Run(string(cat), func(t *testing.T) {
			const anchor = 100.0
			e := NewEngine("SYM", DefaultConfig(cat), anchor, epoch, nil)
			// Once outside the band the price is pulled back, so it can only
			// overshoot the band by a single step.
			prev, maxDelta, worstExcess := anchor, 0.0, 0.0
			for i := 0; i < 20000; i++ {
				p := e.Next(epoch).Price
				maxDelta = math.Max(maxDelta, math.Abs(p-prev))
				worstExcess = math.Max(worstExcess, math.Abs(p-anchor)-clampBand*anchor)
				prev = p
			}
			if worstExcess > maxDelta+1e-9 {
				t.Fatalf("excess over the band %.6f exceeds the largest step %.6f", worstExcess, maxDelta)
			}
		})
	}
}

func TestEngineTickShape(t *testing.T) {
	cfg := DefaultConfig(models.CategoryStocks)
	e := NewEngine("AAPL", cfg, 264, epoch, nil)
	for i := 0; i < 100; i++ {
		tick := e.Next(epoch)
		if !tick.IsOTC || !tick.IsSynthetic {
			t.Fatalf("synthetic flags not set: %+v", tick)
		}
		if !(tick.Bid < tick.Price && tick.Price < tick.Ask) {
			t.Fatalf("spread not around price: %+v", tick)
		}
		wantHalf := tick.Price * cfg.SpreadPercent / 200
		if math.Abs((tick.Ask-tick.Bid)/2-wantHalf) > 1e-9 {
			t.Fatalf("half spread = %v, want %v", (tick.Ask-tick.Bid)/2, wantHalf)
		}
		if math.Abs(tick.Change-(tick.Price-264)) > 1e-9 {
			t.Fatalf("change = %v, want %v", tick.Change, tick.Price-264)
		}
		if tick.Timestamp != epoch.UnixMilli() || tick.Symbol != "AAPL" {
			t.Fatalf("unexpected identity: %+v", tick)
		}
	}
}

func TestUpdateBasePrice(t *testing.T) {
	e := NewEngine("XAU/USD", DefaultConfig(models.CategoryCommodities), 2050, epoch, nil)
	for i := 0; i < 50; i++ {
		e.Next(epoch)
	}
	e.UpdateBasePrice(2100)
	if e.CurrentPrice() != 2100 || e.Anchor() != 2100 {
		t.Fatalf("re-anchor failed: current=%v anchor=%v", e.CurrentPrice(), e.Anchor())
	}
	tick := e.Next(epoch)
	if math.Abs(tick.Price-2100)/2100 > 0.005 {
		t.Fatalf("first tick after re-anchor too far: %v", tick.Price)
	}

	e.UpdateBasePrice(math.NaN())
	e.UpdateBasePrice(-1)
	if e.Anchor() != 2100 {
		t.Fatalf("invalid price must be ignored, anchor=%v", e.Anchor())
	}
}

func TestEngineRecoversFromNonFinite(t *testing.T) {
	cfg := DefaultConfig(models.CategoryForex)
	cfg.Volatility = math.Inf(1)
	e := NewEngine("EUR/USD", cfg, 1.0850, epoch, nil)
	tick := e.Next(epoch)
	if tick.Price != 1.0850 {
		t.Fatalf("price = %v, want reset to anchor", tick.Price)
	}
}

func TestConfigsOverride(t *testing.T) {
	c := NewConfigs(map[models.Category]models.InstrumentConfig{
		models.CategoryStocks: {TickInterval: 2 * time.Second, Volatility: 0.001},
	})
	got := c.For(models.CategoryStocks)
	if got.TickInterval != 2*time.Second || got.Volatility != 0.001 {
		t.Fatalf("override not applied: %+v", got)
	}
	if got.SpreadPercent != 0.01 || got.TrendDurationTicks != 20 {
		t.Fatalf("unset fields must keep defaults: %+v", got)
	}
	crypto := c.For(models.CategoryCrypto)
	if crypto.Category != models.CategoryCrypto || crypto.Volatility != 0.00008 {
		t.Fatalf("crypto should fall back to forex parameters: %+v", crypto)
	}
}
