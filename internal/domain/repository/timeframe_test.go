package repository

import "testing"

func TestNormalizeTimeframe(t *testing.T) {
	cases := map[string]Timeframe{
		"":    TF1m,
		"5m":  TF5m,
		"1M":  TF1M,
		"3m":  TF1m,
		"1mo": TF1m,
	}
	for in, want := range cases {
		if got := NormalizeTimeframe(in); got != want {
			t.Fatalf("NormalizeTimeframe(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestTimeframeMillis(t *testing.T) {
	if got := TF1m.Millis(); got != 60000 {
		t.Fatalf("1m = %d", got)
	}
	if got := TF1M.Millis(); got != 2592000000 {
		t.Fatalf("1M = %d", got)
	}
	if got := TF1w.Millis(); got != 604800000 {
		t.Fatalf("1w = %d", got)
	}
}
