package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"OTCFeed/internal/domain/models"
)

type nopMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func (m *nopMetrics) RecordTick(string, string)       {}
func (m *nopMetrics) RecordFanout(string, int)        {}
func (m *nopMetrics) RecordMalformed(string)          {}
func (m *nopMetrics) RecordReconnect(string, string)  {}
func (m *nopMetrics) RecordLastPrice(string, float64) {}
func (m *nopMetrics) RecordLatency(string, float64)   {}
func (m *nopMetrics) SetSubscribers(int)              {}
func (m *nopMetrics) SetActiveSources(string, int)    {}
func (m *nopMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = map[string]int{}
	}
	m.errors[kind]++
}

func (m *nopMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type recordingProc struct {
	mu    sync.Mutex
	ticks []models.Tick
	fail  error
}

func (p *recordingProc) Process(_ context.Context, t models.Tick) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.ticks = append(p.ticks, t)
	return nil
}

func (p *recordingProc) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ticks)
}

var now = time.Date(2024, time.June, 10, 15, 0, 7, 0, time.UTC)

func fixed() time.Time { return now }

func TestStalenessFilter(t *testing.T) {
	ms := now.UnixMilli()
	cases := []struct {
		name  string
		tick  models.Tick
		stale bool
	}{
		{"fresh", models.Tick{Symbol: "A", Price: 1, Timestamp: ms - 1000}, false},
		{"nine seconds", models.Tick{Symbol: "A", Price: 1, Timestamp: ms - 9000}, false},
		{"eleven seconds", models.Tick{Symbol: "A", Price: 1, Timestamp: ms - 11000}, true},
		{"closed bar from long ago", models.Tick{Symbol: "A", Price: 1, Timestamp: ms - 60000, IsClosed: true}, false},
		{"far future", models.Tick{Symbol: "A", Price: 1, Timestamp: ms + 60000}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			proc := &recordingProc{}
			p := NewTickPipeline(proc, &nopMetrics{}, WithClock(fixed), WithMaxRPS(0))
			err := p.Process(context.Background(), tc.tick)
			if tc.stale {
				if !errors.Is(err, ErrStaleTick) || proc.len() != 0 {
					t.Fatalf("expected drop, err=%v forwarded=%d", err, proc.len())
				}
				return
			}
			if err != nil || proc.len() != 1 {
				t.Fatalf("expected forward, err=%v forwarded=%d", err, proc.len())
			}
		})
	}
}

func TestValidation(t *testing.T) {
	p := NewTickPipeline(&recordingProc{}, &nopMetrics{}, WithClock(fixed))
	for _, tick := range []models.Tick{
		{Price: 1, Timestamp: now.UnixMilli()},
		{Symbol: "A", Price: 0, Timestamp: now.UnixMilli()},
		{Symbol: "A", Price: 1},
		{Symbol: "A", Price: 1, Timestamp: now.UnixMilli(), Volume: -1},
	} {
		if err := p.Process(context.Background(), tick); !errors.Is(err, ErrInvalidTick) {
			t.Fatalf("tick %+v: err = %v", tick, err)
		}
	}
}

func TestThrottleSparesClosedBars(t *testing.T) {
	proc := &recordingProc{}
	metrics := &nopMetrics{}
	p := NewTickPipeline(proc, metrics, WithClock(fixed), WithMaxRPS(2))
	tick := models.Tick{Symbol: "BTC/USD", Price: 1, Timestamp: now.UnixMilli()}
	for i := 0; i < 5; i++ {
		if err := p.Process(context.Background(), tick); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if proc.len() != 2 || metrics.count("pipeline_throttle") != 3 {
		t.Fatalf("forwarded=%d throttled=%d", proc.len(), metrics.count("pipeline_throttle"))
	}
	closed := tick
	closed.IsClosed = true
	_ = p.Process(context.Background(), closed)
	if proc.len() != 3 {
		t.Fatalf("closed bar must bypass the throttle")
	}
}

func TestTransformApplied(t *testing.T) {
	proc := &recordingProc{}
	p := NewTickPipeline(proc, &nopMetrics{}, WithClock(fixed), WithTransform(func(t models.Tick) models.Tick {
		t.Price = 2
		return t
	}))
	_ = p.Process(context.Background(), models.Tick{Symbol: "A", Price: 1, Timestamp: now.UnixMilli()})
	if proc.ticks[0].Price != 2 {
		t.Fatalf("transform not applied: %+v", proc.ticks[0])
	}
}

func TestDownstreamFailureBuffersAndRetries(t *testing.T) {
	proc := &recordingProc{fail: errors.New("down")}
	p := NewTickPipeline(proc, &nopMetrics{}, WithClock(fixed))
	if err := p.Process(context.Background(), models.Tick{Symbol: "A", Price: 1, Timestamp: now.UnixMilli()}); err == nil {
		t.Fatalf("expected downstream error")
	}
	if p.Buffered() != 1 {
		t.Fatalf("Buffered = %d", p.Buffered())
	}

	proc.mu.Lock()
	proc.fail = nil
	proc.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()
	deadline := time.Now().Add(2 * time.Second)
	for proc.len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("buffered tick was not flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
