package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	"OTCFeed/internal/service/ratelimit"
	"OTCFeed/pkg/util"
)

var (
	ErrInvalidTick = errors.New("invalid tick")
	ErrStaleTick   = errors.New("stale tick")
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t models.Tick) error
}

// TickPipeline sits between the sources and the tick processor.
// It validates, drops stale ticks, throttles per symbol, optionally transforms,
// and buffers when downstream is unavailable.
type TickPipeline struct {
	proc      Proc
	metrics   domrepo.Metrics
	limiter   *ratelimit.Limiter
	maxRPS    int
	maxAge    time.Duration
	period    time.Duration
	bufSize   int
	bufCh     chan models.Tick
	stopCh    chan struct{}
	started   bool
	mu        sync.Mutex
	now       func() time.Time
	transform func(models.Tick) models.Tick
}

type PipelineOption func(*TickPipeline)

// WithMaxRPS sets the max ticks per second per symbol. Zero disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TickPipeline) { p.maxRPS = n }
}

// WithMaxTickAge sets the age beyond which a tick outside the current or
// previous staleness period is dropped.
func WithMaxTickAge(d time.Duration) PipelineOption {
	return func(p *TickPipeline) {
		if d > 0 {
			p.maxAge = d
		}
	}
}

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *TickPipeline) { p.now = now }
}

// WithTransform sets a hook applied to every valid tick, for example precision rounding.
func WithTransform(fn func(models.Tick) models.Tick) PipelineOption {
	return func(p *TickPipeline) { p.transform = fn }
}

// NewTickPipeline creates a new pipeline.
func NewTickPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{
		proc:    proc,
		metrics: metrics,
		maxRPS:  50,
		maxAge:  10 * time.Second,
		period:  5 * time.Second,
		bufSize: 1000,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.Tick, p.bufSize)
	p.limiter = ratelimit.NewWithClock(p.now)
	return p
}

// Start launches background flushing of buffered ticks.
func (p *TickPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case t := <-p.bufCh:
				// a buffered tick may have gone stale while waiting
				if p.stale(t, p.now()) {
					p.metrics.RecordError("pipeline_buffer_stale")
					continue
				}
				if err := p.proc.Process(ctx, t); err != nil {
					// exponential backoff with cap
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					select {
					case <-time.After(backoff):
					case <-p.stopCh:
						return
					}
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- t:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *TickPipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Process validates, filters, throttles, and forwards t downstream, buffering on errors.
func (p *TickPipeline) Process(ctx context.Context, t models.Tick) error {
	start := p.now()
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.stale(t, start) {
		p.metrics.RecordError("pipeline_stale")
		return ErrStaleTick
	}
	if p.transform != nil {
		t = p.transform(t)
		if err := validateTick(t); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if !t.IsClosed && !p.allow(t.Symbol) {
		// throttled; record and drop silently
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		// buffer non-blocking
		select {
		case p.bufCh <- t:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

// Buffered returns the number of ticks waiting for a retry.
func (p *TickPipeline) Buffered() int { return len(p.bufCh) }

func validateTick(t models.Tick) error {
	switch {
	case t.Symbol == "":
		return fmt.Errorf("%w: symbol empty", ErrInvalidTick)
	case t.Timestamp <= 0:
		return fmt.Errorf("%w: timestamp invalid", ErrInvalidTick)
	case t.Price <= 0 || math.IsNaN(t.Price) || math.IsInf(t.Price, 0):
		return fmt.Errorf("%w: price %v", ErrInvalidTick, t.Price)
	case t.Volume < 0:
		return fmt.Errorf("%w: negative volume", ErrInvalidTick)
	}
	return nil
}

// stale reports whether t is older than maxAge and outside the current and
// previous period. Closed bars always pass.
func (p *TickPipeline) stale(t models.Tick, now time.Time) bool {
	if t.IsClosed {
		return false
	}
	nowMs := now.UnixMilli()
	age := nowMs - t.Timestamp
	if age < 0 {
		age = -age
	}
	if age < p.maxAge.Milliseconds() {
		return false
	}
	periodMs := p.period.Milliseconds()
	current := util.BucketStart(nowMs, periodMs)
	bucket := util.BucketStart(t.Timestamp, periodMs)
	return bucket != current && bucket != current-periodMs
}

func (p *TickPipeline) allow(symbol string) bool {
	if p.maxRPS <= 0 {
		return true
	}
	return p.limiter.Allow("tick:"+symbol, float64(p.maxRPS), float64(p.maxRPS))
}
