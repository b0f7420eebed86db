package cache

import (
	"context"
	"sync"
	"time"
)

// defaultMemoryTTL applies when Set is called without an expiration.
const defaultMemoryTTL = 7 * 24 * time.Hour

// MemoryItem stores a cached value or list with expiration.
type MemoryItem struct {
	Value    []byte
	List     [][]byte
	ExpireAt time.Time
}

// IsExpired checks if item has expired.
func (m *MemoryItem) IsExpired(now time.Time) bool {
	return now.After(m.ExpireAt)
}

// MemoryCache implements Service using in-memory storage with LRU eviction.
type MemoryCache struct {
	data          map[string]*MemoryItem
	access        map[string]time.Time
	mutex         sync.Mutex
	maxSize       int
	cleanupTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
	now           func() time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:          make(map[string]*MemoryItem),
		access:        make(map[string]time.Time),
		maxSize:       cfg.MaxSize,
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		done:          make(chan struct{}),
		now:           time.Now,
	}

	go mc.cleanupExpired()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	mc.makeRoomLocked(key)
	mc.data[key] = &MemoryItem{Value: data, ExpireAt: mc.expireAt(expiration)}
	mc.access[key] = mc.now()
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mutex.Lock()
	item := mc.liveLocked(key)
	if item == nil || item.Value == nil {
		mc.mutex.Unlock()
		return ErrCacheMiss
	}
	mc.access[key] = mc.now()
	data := item.Value
	mc.mutex.Unlock()

	return decode(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		delete(mc.data, key)
		delete(mc.access, key)
	}
	return nil
}

func (mc *MemoryCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	results := make(map[string]string)
	for _, key := range keys {
		if item := mc.liveLocked(key); item != nil && item.Value != nil {
			results[key] = string(item.Value)
		}
	}
	return results, nil
}

func (mc *MemoryCache) PushCapped(_ context.Context, key string, value interface{}, max int) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item := mc.liveLocked(key)
	if item == nil {
		mc.makeRoomLocked(key)
		item = &MemoryItem{ExpireAt: mc.expireAt(0)}
		mc.data[key] = item
	}
	item.Value = nil
	item.List = append([][]byte{data}, item.List...)
	if max > 0 && len(item.List) > max {
		item.List = item.List[:max]
	}
	mc.access[key] = mc.now()
	return nil
}

func (mc *MemoryCache) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item := mc.liveLocked(key)
	if item == nil {
		return nil, nil
	}
	from, to, ok := listWindow(len(item.List), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, to-from)
	for _, b := range item.List[from:to] {
		out = append(out, string(b))
	}
	return out, nil
}

// Ping always succeeds.
func (mc *MemoryCache) Ping(context.Context) error { return nil }

// Len returns the number of stored keys, expired ones included until cleanup.
func (mc *MemoryCache) Len() int {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	return len(mc.data)
}

func (mc *MemoryCache) expireAt(expiration time.Duration) time.Time {
	if expiration <= 0 {
		expiration = defaultMemoryTTL
	}
	return mc.now().Add(expiration)
}

func (mc *MemoryCache) liveLocked(key string) *MemoryItem {
	item, exists := mc.data[key]
	if !exists {
		return nil
	}
	if item.IsExpired(mc.now()) {
		delete(mc.data, key)
		delete(mc.access, key)
		return nil
	}
	return item
}

func (mc *MemoryCache) makeRoomLocked(key string) {
	if _, exists := mc.data[key]; exists {
		return
	}
	if mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}
}

func (mc *MemoryCache) evictLRU() {
	if len(mc.data) == 0 {
		return
	}

	var oldestKey string
	var oldestTime time.Time

	for key, accessTime := range mc.access {
		if oldestKey == "" || accessTime.Before(oldestTime) {
			oldestTime = accessTime
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(mc.data, oldestKey)
		delete(mc.access, oldestKey)
	}
}

func (mc *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.cleanupTicker.C:
		}

		mc.mutex.Lock()
		now := mc.now()
		for key, item := range mc.data {
			if item.IsExpired(now) {
				delete(mc.data, key)
				delete(mc.access, key)
			}
		}
		mc.mutex.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.cleanupTicker.Stop()
		close(mc.done)
	})
	return nil
}
