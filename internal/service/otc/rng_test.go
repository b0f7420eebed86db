package otc

import (
	"math"
	"testing"
)

func TestStringHash(t *testing.T) {
	cases := map[string]int32{
		"":      0,
		"a":     97,
		"hello": 99162322,
		"Aa":    2112,
		"BB":    2112,
	}
	for in, want := range cases {
		if got := stringHash(in); got != want {
			t.Errorf("stringHash(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestStringHashWrapsAndAbs(t *testing.T) {
	// long keys overflow int32; the seed must still be the absolute value.
	key := "EUR/USD:28512345"
	h := stringHash(key)
	want := int64(h)
	if want < 0 {
		want = -want
	}
	if got := seedFor(key); int64(got) != want {
		t.Fatalf("seedFor = %d, want %d", got, want)
	}
}

func TestLCGSequence(t *testing.T) {
	g := newLCG(0)
	if got, want := g.next(), float64(uint32(1013904223))/4294967295; got != want {
		t.Fatalf("first value = %v, want %v", got, want)
	}
	seed := uint32(1013904223)
	want := seed*1664525 + 1013904223
	g.next()
	if g.state != want {
		t.Fatalf("state = %d, want %d", g.state, want)
	}
}

func TestLCGRange(t *testing.T) {
	g := newLCG(12345)
	for i := 0; i < 10000; i++ {
		v := g.next()
		if v < 0 || v > 1 {
			t.Fatalf("value %v out of [0,1]", v)
		}
	}
	for i := 0; i < 10000; i++ {
		v := g.gaussian()
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("gaussian produced %v", v)
		}
		// u1 is floored at 1e-4, which bounds the magnitude.
		if math.Abs(v) > math.Sqrt(-2*math.Log(1e-4))+1e-9 {
			t.Fatalf("gaussian %v exceeds bound", v)
		}
	}
}

func TestSeedKeys(t *testing.T) {
	if got := minuteSeedKey("EUR/USD", 120_000); got != "EUR/USD:2" {
		t.Fatalf("minuteSeedKey = %q", got)
	}
	if got := minuteSeedKey("EUR/USD", 119_999); got != "EUR/USD:1" {
		t.Fatalf("minuteSeedKey = %q", got)
	}
	if got := historySeedKey("AAPL", 7_200_000, 3_600_000); got != "AAPL:hist:2" {
		t.Fatalf("historySeedKey = %q", got)
	}
}
