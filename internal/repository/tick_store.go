package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	"OTCFeed/pkg/cache"
)

const (
	latestKeyPrefix  = "PRICE:LATEST"
	historyKeyPrefix = "PRICE:HISTORY"

	// DefaultHistoryLen bounds the per-symbol history list.
	DefaultHistoryLen = 1000
)

// CacheTickStore is the Source-of-Truth Store on top of a cache.Service: the
// latest tick per symbol plus a bounded newest-first history list.
type CacheTickStore struct {
	cache      cache.Service
	historyLen int
	ttl        time.Duration
	now        func() time.Time
}

// NewCacheTickStore creates the store. historyLen <= 0 uses DefaultHistoryLen;
// ttl <= 0 keeps latest values until overwritten.
func NewCacheTickStore(c cache.Service, historyLen int, ttl time.Duration) *CacheTickStore {
	if historyLen <= 0 {
		historyLen = DefaultHistoryLen
	}
	return &CacheTickStore{cache: c, historyLen: historyLen, ttl: ttl, now: time.Now}
}

// LatestKey is the key holding the last tick of symbol.
func LatestKey(symbol string) string { return cache.GenerateKey(latestKeyPrefix, symbol) }

// HistoryKey is the key holding the recent ticks of symbol.
func HistoryKey(symbol string) string { return cache.GenerateKey(historyKeyPrefix, symbol) }

// Set overwrites the latest tick unconditionally.
func (s *CacheTickStore) Set(ctx context.Context, t models.Tick) error {
	rec := models.StoredTick{Tick: t, UpdatedAt: s.now().UnixMilli()}
	if err := s.cache.Set(ctx, LatestKey(t.Symbol), rec, s.ttl); err != nil {
		return fmt.Errorf("store latest %s: %w", t.Symbol, err)
	}
	return nil
}

func (s *CacheTickStore) Get(ctx context.Context, symbol string) (models.Tick, error) {
	var rec models.StoredTick
	if err := s.cache.Get(ctx, LatestKey(symbol), &rec); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return models.Tick{}, domrepo.ErrNotFound
		}
		return models.Tick{}, fmt.Errorf("load latest %s: %w", symbol, err)
	}
	return rec.Tick, nil
}

// Latest returns the stored ticks of the given symbols; unknown symbols are absent.
func (s *CacheTickStore) Latest(ctx context.Context, symbols []string) (map[string]models.Tick, error) {
	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = LatestKey(sym)
	}
	recs, err := cache.MGetTyped[models.StoredTick](ctx, s.cache, keys...)
	if err != nil {
		return nil, fmt.Errorf("load latest: %w", err)
	}
	out := make(map[string]models.Tick, len(recs))
	for _, rec := range recs {
		out[rec.Symbol] = rec.Tick
	}
	return out, nil
}

// Append pushes t on the symbol's history list and trims it.
func (s *CacheTickStore) Append(ctx context.Context, t models.Tick) error {
	if err := s.cache.PushCapped(ctx, HistoryKey(t.Symbol), t, s.historyLen); err != nil {
		return fmt.Errorf("append history %s: %w", t.Symbol, err)
	}
	return nil
}

// Recent returns up to n ticks, newest first.
func (s *CacheTickStore) Recent(ctx context.Context, symbol string, n int) ([]models.Tick, error) {
	if n <= 0 || n > s.historyLen {
		n = s.historyLen
	}
	raw, err := s.cache.Range(ctx, HistoryKey(symbol), 0, int64(n-1))
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", symbol, err)
	}
	out := make([]models.Tick, 0, len(raw))
	for _, r := range raw {
		var t models.Tick
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

var (
	_ domrepo.TickStore   = (*CacheTickStore)(nil)
	_ domrepo.TickHistory = (*CacheTickStore)(nil)
)
