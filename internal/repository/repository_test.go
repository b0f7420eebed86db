package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	"OTCFeed/pkg/cache"
)

func newStore(t *testing.T, historyLen int) (*CacheTickStore, *cache.MemoryCache) {
	t.Helper()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	s := NewCacheTickStore(mc, historyLen, 0)
	s.now = func() time.Time { return time.UnixMilli(1_700_000_000_500) }
	return s, mc
}

func TestTickStoreSetGet(t *testing.T) {
	s, mc := newStore(t, 10)
	ctx := context.Background()

	if _, err := s.Get(ctx, "EUR/USD"); !errors.Is(err, domrepo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	first := models.Tick{Symbol: "EUR/USD", Price: 1.085, Timestamp: 1_700_000_000_000}
	second := models.Tick{Symbol: "EUR/USD", Price: 1.086, Timestamp: 1_699_999_999_000}
	_ = s.Set(ctx, first)
	_ = s.Set(ctx, second)

	got, err := s.Get(ctx, "EUR/USD")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != second {
		t.Fatalf("got %+v, want last write %+v", got, second)
	}

	var raw string
	if err := mc.Get(ctx, "PRICE:LATEST:EUR/USD", &raw); err != nil {
		t.Fatalf("raw key: %v", err)
	}
	var rec map[string]interface{}
	_ = json.Unmarshal([]byte(raw), &rec)
	if rec["updatedAt"] != float64(1_700_000_000_500) {
		t.Fatalf("updatedAt = %v", rec["updatedAt"])
	}
}

func TestTickStoreLatest(t *testing.T) {
	s, _ := newStore(t, 10)
	ctx := context.Background()
	_ = s.Set(ctx, models.Tick{Symbol: "AAPL", Price: 264, Timestamp: 1})
	_ = s.Set(ctx, models.Tick{Symbol: "BTC", Price: 65000, Timestamp: 1})

	got, err := s.Latest(ctx, []string{"AAPL", "BTC", "SPX"})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 2 || got["AAPL"].Price != 264 || got["BTC"].Price != 65000 {
		t.Fatalf("latest = %+v", got)
	}
}

func TestTickHistoryIsBounded(t *testing.T) {
	s, _ := newStore(t, 3)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		_ = s.Append(ctx, models.Tick{Symbol: "XAU/USD", Price: float64(2000 + i), Timestamp: int64(i)})
	}

	got, err := s.Recent(ctx, "XAU/USD", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Price != 2005 || got[2].Price != 2003 {
		t.Fatalf("history not newest-first: %+v", got)
	}

	two, _ := s.Recent(ctx, "XAU/USD", 2)
	if len(two) != 2 {
		t.Fatalf("len = %d, want 2", len(two))
	}
}

type fakeProducer struct {
	topic string
	key   []byte
	value interface{}
	close int
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	f.topic, f.key, f.value = topic, key, value
	return nil
}

func (f *fakeProducer) Close() error { f.close++; return nil }

func TestKafkaPublisherKeysBySymbol(t *testing.T) {
	fp := &fakeProducer{}
	p := NewKafkaPublisher(fp, "otcfeed.ticks")
	tick := models.Tick{Symbol: "GBP/USD", Price: 1.27, Timestamp: 1}

	if err := p.Publish(context.Background(), tick); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fp.topic != "otcfeed.ticks" || string(fp.key) != "GBP/USD" {
		t.Fatalf("topic=%s key=%s", fp.topic, fp.key)
	}
	if fp.value.(models.Tick) != tick {
		t.Fatalf("value = %+v", fp.value)
	}
	_ = p.Close()
	if fp.close != 1 {
		t.Fatal("producer not closed")
	}
}

func TestCandleQueryBucketsByPeriod(t *testing.T) {
	q := candleQuery("otcfeed.ticks", domrepo.TF5m.Millis())
	for _, want := range []string{
		"intDiv(toUnixTimestamp64Milli(ts), 300000) * 300000",
		"FROM otcfeed.ticks",
		"is_synthetic = 0",
		"ORDER BY bucket DESC",
	} {
		if !strings.Contains(q, want) {
			t.Fatalf("query missing %q:\n%s", want, q)
		}
	}
}
