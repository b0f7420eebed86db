package markethours

import (
	"testing"
	"time"

	"OTCFeed/internal/domain/models"
)

// 2024-06-07 is a Friday, 2024-06-08 Saturday, 2024-06-09 Sunday, 2024-06-10 Monday.
func at(day, hour, min, sec int) time.Time {
	return time.Date(2024, time.June, day, hour, min, sec, 0, time.UTC)
}

func TestStatusBoundaries(t *testing.T) {
	e := New()
	cases := []struct {
		name     string
		category models.Category
		instant  time.Time
		open     bool
	}{
		{"forex friday before close", models.CategoryForex, at(7, 21, 59, 59), true},
		{"forex friday at close", models.CategoryForex, at(7, 22, 0, 0), false},
		{"forex saturday", models.CategoryForex, at(8, 12, 0, 0), false},
		{"forex sunday before open", models.CategoryForex, at(9, 21, 59, 59), false},
		{"forex sunday at open", models.CategoryForex, at(9, 22, 0, 0), true},
		{"forex wednesday night", models.CategoryForex, at(5, 23, 30, 0), true},

		{"commodities sunday 22:59:59", models.CategoryCommodities, at(9, 22, 59, 59), false},
		{"commodities sunday 23:00", models.CategoryCommodities, at(9, 23, 0, 0), true},
		{"commodities friday 21:59:59", models.CategoryCommodities, at(7, 21, 59, 59), true},
		{"commodities friday 22:00", models.CategoryCommodities, at(7, 22, 0, 0), false},
		{"commodities saturday", models.CategoryCommodities, at(8, 0, 0, 0), false},

		{"stocks monday 14:29:59", models.CategoryStocks, at(10, 14, 29, 59), false},
		{"stocks monday 14:30", models.CategoryStocks, at(10, 14, 30, 0), true},
		{"stocks monday 20:59:59", models.CategoryStocks, at(10, 20, 59, 59), true},
		{"stocks monday 21:00", models.CategoryStocks, at(10, 21, 0, 0), false},
		{"stocks saturday midday", models.CategoryStocks, at(8, 16, 0, 0), false},
		{"stocks sunday midday", models.CategoryStocks, at(9, 16, 0, 0), false},
		{"indices friday 20:59:59", models.CategoryIndices, at(7, 20, 59, 59), true},
		{"indices friday 21:00", models.CategoryIndices, at(7, 21, 0, 0), false},

		{"crypto saturday", models.CategoryCrypto, at(8, 3, 0, 0), true},
		{"unknown category", models.Category("bonds"), at(10, 15, 0, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := e.Status(tc.category, tc.instant)
			if st.IsOpen != tc.open {
				t.Fatalf("IsOpen = %v, want %v", st.IsOpen, tc.open)
			}
			if tc.category != models.CategoryCrypto && st.IsOTC == st.IsOpen {
				t.Fatalf("IsOTC must be the negation of IsOpen, got %+v", st)
			}
		})
	}
}

func TestStatusMessages(t *testing.T) {
	e := New()
	if st := e.Status(models.CategoryCrypto, at(8, 0, 0, 0)); st.IsOTC || st.Message != msgAlwaysOpen {
		t.Fatalf("crypto status %+v", st)
	}
	if st := e.Status(models.CategoryForex, at(8, 0, 0, 0)); !st.IsOTC || st.Message != msgClosed {
		t.Fatalf("closed status %+v", st)
	}
	if st := e.Status(models.CategoryForex, at(5, 0, 0, 0)); st.Message != msgOpen {
		t.Fatalf("open status %+v", st)
	}
}

func TestStatusConvertsToUTC(t *testing.T) {
	e := New()
	ny := time.FixedZone("EDT", -4*3600)
	// 10:30 EDT on Monday is 14:30 UTC.
	if !e.IsOpen(models.CategoryStocks, time.Date(2024, time.June, 10, 10, 30, 0, 0, ny)) {
		t.Fatalf("expected open at 14:30 UTC")
	}
}

type closedDays map[time.Weekday]bool

func (c closedDays) IsBusinessDay(t time.Time) bool { return !c[t.Weekday()] }

func TestHolidayOverlay(t *testing.T) {
	e := New(WithHolidays(closedDays{time.Monday: true}))
	if e.IsOpen(models.CategoryStocks, at(10, 15, 0, 0)) {
		t.Fatalf("holiday should close stocks")
	}
	if !e.IsOpen(models.CategoryForex, at(10, 15, 0, 0)) {
		t.Fatalf("holiday overlay must not affect forex")
	}
}
