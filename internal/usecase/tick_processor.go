package usecase

import (
	"context"
	"sync"
	"time"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	applogger "OTCFeed/pkg/logger"
)

// Broadcaster fans a tick out to subscribers.
type Broadcaster interface {
	Publish(t models.Tick) int
}

// TickProcessor is the single path every accepted tick takes: remember the
// last real price, overwrite the Store, append history, journal, fan out.
type TickProcessor struct {
	store   domrepo.TickStore
	history domrepo.TickHistory
	journal domrepo.Publisher
	hub     Broadcaster
	metrics domrepo.Metrics
	logger  *applogger.Logger

	mu       sync.RWMutex
	lastReal map[string]float64
}

// NewTickProcessor wires the processor. history and journal are optional.
func NewTickProcessor(
	store domrepo.TickStore,
	history domrepo.TickHistory,
	journal domrepo.Publisher,
	hub Broadcaster,
	metrics domrepo.Metrics,
	logger *applogger.Logger,
) *TickProcessor {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &TickProcessor{
		store:    store,
		history:  history,
		journal:  journal,
		hub:      hub,
		metrics:  metrics,
		logger:   logger.With(applogger.String("component", "tick_processor")),
		lastReal: make(map[string]float64),
	}
}

// Process never fails on storage or journal errors: those are logged and
// counted, and the tick is still fanned out.
func (p *TickProcessor) Process(ctx context.Context, t models.Tick) error {
	start := time.Now()

	if !t.IsOTC && !t.IsSynthetic {
		p.mu.Lock()
		p.lastReal[t.Symbol] = t.Price
		p.mu.Unlock()
	}

	if err := p.store.Set(ctx, t); err != nil {
		p.metrics.RecordError("store_set")
		p.logger.Warn("store write failed", applogger.String("symbol", t.Symbol), applogger.Error(err))
	}
	if p.history != nil {
		if err := p.history.Append(ctx, t); err != nil {
			p.metrics.RecordError("history_append")
		}
	}
	if p.journal != nil {
		if err := p.journal.Publish(ctx, t); err != nil {
			p.metrics.RecordError("journal_publish")
			p.logger.Debug("journal publish failed", applogger.String("symbol", t.Symbol), applogger.Error(err))
		}
	}

	p.hub.Publish(t)

	p.metrics.RecordTick(sourceOf(t), t.Symbol)
	p.metrics.RecordLastPrice(t.Symbol, t.Price)
	p.metrics.RecordLatency("process_tick", time.Since(start).Seconds())
	return nil
}

// LastRealPrice returns the last price seen from a real (non-OTC) source.
func (p *TickProcessor) LastRealPrice(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.lastReal[symbol]
	return v, ok
}

func sourceOf(t models.Tick) string {
	if t.IsSynthetic {
		return "synthetic"
	}
	return "upstream"
}
