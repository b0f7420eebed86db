package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"OTCFeed/internal/domain/models"
)

type countingMetrics struct {
	mu          sync.Mutex
	errors      map[string]int
	reconnects  int
	fanout      int
	subscribers int
	sources     map[string]int
	ticks       map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{errors: map[string]int{}, sources: map[string]int{}, ticks: map[string]int{}}
}

func (m *countingMetrics) RecordMalformed(string)          {}
func (m *countingMetrics) RecordLastPrice(string, float64) {}
func (m *countingMetrics) RecordLatency(string, float64)   {}

func (m *countingMetrics) RecordTick(source, _ string) {
	m.mu.Lock()
	m.ticks[source]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordFanout(_ string, delivered int) {
	m.mu.Lock()
	m.fanout += delivered
	m.mu.Unlock()
}

func (m *countingMetrics) RecordReconnect(string, string) {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) SetSubscribers(n int) {
	m.mu.Lock()
	m.subscribers = n
	m.mu.Unlock()
}

func (m *countingMetrics) SetActiveSources(kind string, n int) {
	m.mu.Lock()
	m.sources[kind] = n
	m.mu.Unlock()
}

func (m *countingMetrics) reconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

// fakeSubscriber records what it is sent. A failing subscriber rejects every send.
type fakeSubscriber struct {
	id      string
	failing bool

	mu     sync.Mutex
	msgs   []interface{}
	closed bool
}

func (s *fakeSubscriber) ID() string { return s.id }

func (s *fakeSubscriber) Send(msg interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing || s.closed {
		return errors.New("send buffer full")
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *fakeSubscriber) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSubscriber) sent() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interface{}(nil), s.msgs...)
}

func (s *fakeSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// recordingSink collects every tick handed to it.
type recordingSink struct {
	mu    sync.Mutex
	ticks []models.Tick
}

func (s *recordingSink) Process(_ context.Context, t models.Tick) error {
	s.mu.Lock()
	s.ticks = append(s.ticks, t)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) all() []models.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Tick(nil), s.ticks...)
}

func (s *recordingSink) find(pred func(models.Tick) bool) (models.Tick, bool) {
	for _, t := range s.all() {
		if pred(t) {
			return t, true
		}
	}
	return models.Tick{}, false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
