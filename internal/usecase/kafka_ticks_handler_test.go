package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"OTCFeed/internal/domain/models"
)

func encodeTick(t *testing.T, tick models.Tick) []byte {
	t.Helper()
	b, err := json.Marshal(tick)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestKafkaTicksHandlerBatches(t *testing.T) {
	archive := &fakeArchive{}
	m := newCountingMetrics()
	h := NewKafkaTicksHandler("ticks", archive, 3, m, nil)
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		if err := h.Handle(ctx, encodeTick(t, models.Tick{Symbol: "EUR/USD", Price: 1.08, Timestamp: i})); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if archive.batches != 1 || len(archive.stored) != 3 {
		t.Fatalf("batches %d stored %d, want 1 batch of 3", archive.batches, len(archive.stored))
	}
	if h.Pending() != 1 {
		t.Fatalf("pending = %d", h.Pending())
	}

	h.Flush(ctx)
	if len(archive.stored) != 4 || h.Pending() != 0 {
		t.Fatalf("stored %d pending %d after flush", len(archive.stored), h.Pending())
	}
	h.Flush(ctx)
	if archive.batches != 2 {
		t.Fatal("empty flush should not reach the archive")
	}
}

func TestKafkaTicksHandlerDropsBadMessages(t *testing.T) {
	archive := &fakeArchive{}
	m := newCountingMetrics()
	h := NewKafkaTicksHandler("ticks", archive, 1, m, nil)

	tests := []struct {
		name string
		body []byte
		kind string
	}{
		{"garbage", []byte("{not json"), "consumer_unmarshal"},
		{"no symbol", encodeTick(t, models.Tick{Price: 1, Timestamp: 1}), "consumer_invalid"},
		{"zero price", encodeTick(t, models.Tick{Symbol: "AAPL", Timestamp: 1}), "consumer_invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := m.errors[tt.kind]
			if err := h.Handle(context.Background(), tt.body); err != nil {
				t.Fatalf("bad message should be dropped, got %v", err)
			}
			if m.errors[tt.kind] != before+1 {
				t.Fatalf("%s errors not counted", tt.kind)
			}
		})
	}
	if len(archive.stored) != 0 {
		t.Fatal("bad message reached the archive")
	}
}

func TestKafkaTicksHandlerKeepsBacklogWhileArchiveDown(t *testing.T) {
	archive := &fakeArchive{err: errors.New("clickhouse down")}
	m := newCountingMetrics()
	h := NewKafkaTicksHandler("ticks", archive, 2, m, nil)
	ctx := context.Background()

	for i := int64(1); i <= 25; i++ {
		_ = h.Handle(ctx, encodeTick(t, models.Tick{Symbol: "BTC/USD", Price: 65000, Timestamp: i}))
	}
	if got := h.Pending(); got != 2*pendingBatches {
		t.Fatalf("pending = %d, want bounded at %d", got, 2*pendingBatches)
	}
	if m.errors["archive_flush"] == 0 {
		t.Fatal("flush failures not counted")
	}

	archive.err = nil
	archive.stored = nil
	h.Flush(ctx)
	if h.Pending() != 0 {
		t.Fatal("backlog not drained after recovery")
	}
	if first := archive.stored[0].Timestamp; first != 6 {
		t.Fatalf("oldest kept tick = %d, want 6", first)
	}
}
