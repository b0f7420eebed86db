package di

import (
	"context"
	"math"
	"testing"

	"OTCFeed/internal/domain/models"
)

type sinkFunc func(models.Tick)

func (f sinkFunc) Process(_ context.Context, t models.Tick) error {
	f(t)
	return nil
}

type malformedCounter struct{ malformed map[string]int }

func (m *malformedCounter) RecordTick(string, string)       {}
func (m *malformedCounter) RecordFanout(string, int)        {}
func (m *malformedCounter) RecordReconnect(string, string)  {}
func (m *malformedCounter) RecordError(string)              {}
func (m *malformedCounter) RecordLastPrice(string, float64) {}
func (m *malformedCounter) RecordLatency(string, float64)   {}
func (m *malformedCounter) SetSubscribers(int)              {}
func (m *malformedCounter) SetActiveSources(string, int)    {}
func (m *malformedCounter) RecordMalformed(provider string) { m.malformed[provider]++ }

func TestSyntheticEmitter(t *testing.T) {
	var got []models.Tick
	rec := &malformedCounter{malformed: map[string]int{}}
	emit := syntheticEmitter(sinkFunc(func(t models.Tick) { got = append(got, t) }), rec)

	emit(models.Tick{Symbol: "EUR/USD", Price: 1.0851, Timestamp: 1_700_000_000_000})
	emit(models.Tick{Symbol: "EUR/USD", Price: math.NaN(), Timestamp: 1_700_000_001_000})

	if len(got) != 1 {
		t.Fatalf("forwarded %d ticks, want 1", len(got))
	}
	if !got[0].IsOTC || !got[0].IsSynthetic {
		t.Fatalf("tick = %+v, want OTC synthetic flags", got[0])
	}
	if rec.malformed[syntheticProvider] != 1 {
		t.Fatalf("malformed = %v", rec.malformed)
	}
}
