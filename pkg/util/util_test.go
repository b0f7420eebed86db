package util

import "testing"

func TestNormalizeMillis(t *testing.T) {
	tests := []struct {
		in, want int64
	}{
		{1718031630, 1718031630000},
		{1718031630000, 1718031630000},
		{0, 0},
		{-5, -5},
	}
	for _, tt := range tests {
		if got := NormalizeMillis(tt.in); got != tt.want {
			t.Fatalf("NormalizeMillis(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBucketStart(t *testing.T) {
	tests := []struct {
		ts, period, want int64
	}{
		{0, 60_000, 0},
		{59_999, 60_000, 0},
		{60_000, 60_000, 60_000},
		{90_500, 60_000, 60_000},
		{-1, 60_000, -60_000},
	}
	for _, tt := range tests {
		if got := BucketStart(tt.ts, tt.period); got != tt.want {
			t.Fatalf("BucketStart(%d, %d) = %d, want %d", tt.ts, tt.period, got, tt.want)
		}
	}
}

func TestParseIntDefault(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 7},
		{"abc", 7},
		{"42", 42},
		{"-3", -3},
	}
	for _, tt := range tests {
		if got := ParseIntDefault(tt.in, 7); got != tt.want {
			t.Fatalf("ParseIntDefault(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
