package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"OTCFeed/pkg/logger"
)

// FallbackCache writes through to an in-memory copy and serves from it while the
// primary (Redis) is unreachable. One warning is logged per outage and the
// recovery is logged at info.
type FallbackCache struct {
	primary  Service
	memory   *MemoryCache
	logger   *logger.Logger
	mu       sync.Mutex
	degraded bool
}

// NewFallbackCache wraps primary. A nil primary runs memory-only.
func NewFallbackCache(primary Service, memory *MemoryCache, log *logger.Logger) *FallbackCache {
	if memory == nil {
		memory = NewMemoryCache()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &FallbackCache{primary: primary, memory: memory, logger: log}
}

// Degraded reports whether the last primary call failed.
func (fc *FallbackCache) Degraded() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.degraded
}

func (fc *FallbackCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := fc.memory.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	if fc.primary == nil {
		return nil
	}
	fc.observe(fc.primary.Set(ctx, key, value, expiration))
	return nil
}

func (fc *FallbackCache) Get(ctx context.Context, key string, dest interface{}) error {
	if fc.primary != nil {
		err := fc.primary.Get(ctx, key, dest)
		if err == nil {
			fc.observe(nil)
			return nil
		}
		if errors.Is(err, ErrCacheMiss) {
			fc.observe(nil)
		} else {
			fc.observe(err)
		}
	}
	return fc.memory.Get(ctx, key, dest)
}

func (fc *FallbackCache) Delete(ctx context.Context, keys ...string) error {
	_ = fc.memory.Delete(ctx, keys...)
	if fc.primary == nil {
		return nil
	}
	fc.observe(fc.primary.Delete(ctx, keys...))
	return nil
}

func (fc *FallbackCache) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	local, _ := fc.memory.MGet(ctx, keys...)
	if fc.primary == nil {
		return local, nil
	}
	remote, err := fc.primary.MGet(ctx, keys...)
	fc.observe(err)
	if err != nil {
		return local, nil
	}
	for k, v := range local {
		if _, ok := remote[k]; !ok {
			remote[k] = v
		}
	}
	return remote, nil
}

func (fc *FallbackCache) PushCapped(ctx context.Context, key string, value interface{}, max int) error {
	if err := fc.memory.PushCapped(ctx, key, value, max); err != nil {
		return err
	}
	if fc.primary == nil {
		return nil
	}
	fc.observe(fc.primary.PushCapped(ctx, key, value, max))
	return nil
}

func (fc *FallbackCache) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if fc.primary != nil {
		out, err := fc.primary.Range(ctx, key, start, stop)
		fc.observe(err)
		if err == nil && len(out) > 0 {
			return out, nil
		}
	}
	return fc.memory.Range(ctx, key, start, stop)
}

// Ping probes the primary and updates the degraded state. It never fails:
// the memory copy is always available.
func (fc *FallbackCache) Ping(ctx context.Context) error {
	if fc.primary != nil {
		fc.observe(fc.primary.Ping(ctx))
	}
	return nil
}

func (fc *FallbackCache) Close() error {
	_ = fc.memory.Close()
	if fc.primary == nil {
		return nil
	}
	return fc.primary.Close()
}

func (fc *FallbackCache) observe(err error) {
	fc.mu.Lock()
	was := fc.degraded
	fc.degraded = err != nil
	fc.mu.Unlock()

	switch {
	case err != nil && !was:
		fc.logger.Warn("store unavailable, serving from memory", logger.Error(err))
	case err == nil && was:
		fc.logger.Info("store recovered")
	}
}
