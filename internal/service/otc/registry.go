package otc

import (
	"context"
	"sort"
	"sync"
	"time"

	"OTCFeed/internal/domain/models"
	applogger "OTCFeed/pkg/logger"
	"OTCFeed/pkg/scheduler"
)

// EmitFunc receives every synthetic tick. It runs on the engine's task and must
// not call Stop for the same symbol.
type EmitFunc func(models.Tick)

type running struct {
	engine *Engine
	task   *scheduler.Task
}

// Registry owns at most one running engine per symbol.
type Registry struct {
	mu      sync.Mutex
	engines map[string]*running

	sched   *scheduler.Scheduler
	configs *Configs
	emit    EmitFunc
	now     func() time.Time
	logger  *applogger.Logger
}

func NewRegistry(sched *scheduler.Scheduler, configs *Configs, emit EmitFunc, logger *applogger.Logger) *Registry {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &Registry{
		engines: make(map[string]*running),
		sched:   sched,
		configs: configs,
		emit:    emit,
		now:     time.Now,
		logger:  logger.With(applogger.String("component", "otc_registry")),
	}
}

// Start replaces any engine for symbol with a fresh one anchored at anchor. The
// first tick is emitted immediately, then one per tick interval.
func (r *Registry) Start(symbol string, category models.Category, anchor float64) *Engine {
	cfg := r.configs.For(category)
	engine := NewEngine(symbol, cfg, anchor, r.now(), r.logger)
	task := r.sched.Every(cfg.TickInterval, func(ctx context.Context) {
		tick := engine.Next(r.now())
		if ctx.Err() != nil {
			return
		}
		r.emit(tick)
	})

	r.mu.Lock()
	old := r.engines[symbol]
	r.engines[symbol] = &running{engine: engine, task: task}
	r.mu.Unlock()

	if old != nil {
		old.task.Stop()
	}
	r.logger.Info("synthetic engine started",
		applogger.String("symbol", symbol),
		applogger.String("category", string(category)),
		applogger.Float64("anchor", anchor),
		applogger.Duration("tick_interval", cfg.TickInterval))
	return engine
}

// Stop halts the engine for symbol. Calling it for an unknown symbol is a no-op.
func (r *Registry) Stop(symbol string) {
	r.mu.Lock()
	rn, ok := r.engines[symbol]
	delete(r.engines, symbol)
	r.mu.Unlock()
	if !ok {
		return
	}
	rn.task.Stop()
	r.logger.Info("synthetic engine stopped", applogger.String("symbol", symbol))
}

// UpdateBasePrice re-anchors a running engine. It reports false when none runs.
func (r *Registry) UpdateBasePrice(symbol string, price float64) bool {
	r.mu.Lock()
	rn, ok := r.engines[symbol]
	r.mu.Unlock()
	if !ok {
		return false
	}
	rn.engine.UpdateBasePrice(price)
	return true
}

func (r *Registry) IsActive(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.engines[symbol]
	return ok
}

// CurrentPrice returns the running engine's price, or false when none runs.
func (r *Registry) CurrentPrice(symbol string) (float64, bool) {
	r.mu.Lock()
	rn, ok := r.engines[symbol]
	r.mu.Unlock()
	if !ok {
		return 0, false
	}
	return rn.engine.CurrentPrice(), true
}

func (r *Registry) ActiveSymbols() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.engines))
	for s := range r.engines {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *Registry) StopAll() {
	r.mu.Lock()
	all := r.engines
	r.engines = make(map[string]*running)
	r.mu.Unlock()
	for _, rn := range all {
		rn.task.Stop()
	}
}

// Historical backfills candles from a throwaway engine anchored at anchor.
func (r *Registry) Historical(symbol string, category models.Category, anchor float64, count int, interval time.Duration) []models.Candle {
	now := r.now()
	return NewEngine(symbol, r.configs.For(category), anchor, now, r.logger).Backfill(count, interval, now)
}
