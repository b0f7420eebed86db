package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestCooldownOneAttemptPerPeriod(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cd := NewCooldown(NewWithClock(clock.Now), time.Minute)

	if !cd.Allow("twelvedata:EUR/USD") {
		t.Fatalf("first attempt must pass")
	}
	clock.Advance(20 * time.Second)
	if cd.Allow("twelvedata:EUR/USD") {
		t.Fatalf("second attempt within the cooldown must be refused")
	}
	if !cd.Allow("binance:BTC/USD") {
		t.Fatalf("keys are independent")
	}
	clock.Advance(40 * time.Second)
	if !cd.Allow("twelvedata:EUR/USD") {
		t.Fatalf("attempt after 60s must pass")
	}
}

func TestLimiterBurstAndRefill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewWithClock(clock.Now)
	for i := 0; i < 5; i++ {
		if !l.Allow("sym", 5, 5) {
			t.Fatalf("token %d refused within capacity", i)
		}
	}
	if l.Allow("sym", 5, 5) {
		t.Fatalf("bucket should be empty")
	}
	clock.Advance(200 * time.Millisecond)
	if !l.Allow("sym", 5, 5) {
		t.Fatalf("one token should have refilled")
	}
}

func TestForget(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewWithClock(clock.Now)
	l.Allow("k", 1, 0.001)
	if l.Allow("k", 1, 0.001) {
		t.Fatalf("expected refusal")
	}
	l.Forget("k")
	if !l.Allow("k", 1, 0.001) {
		t.Fatalf("Forget should reset the bucket")
	}
}

func TestZeroCooldownAlwaysAllows(t *testing.T) {
	cd := NewCooldown(New(), 0)
	for i := 0; i < 3; i++ {
		if !cd.Allow("k") {
			t.Fatalf("zero period must not throttle")
		}
	}
}
