// Package markethours decides whether an instrument category is trading at a UTC instant.
package markethours

import (
	"time"

	"OTCFeed/internal/domain/models"
	applogger "OTCFeed/pkg/logger"
)

const (
	msgAlwaysOpen = "open 24/7"
	msgOpen       = "market open"
	msgClosed     = "OTC - market closed"
)

// HolidayCalendar reports whether an exchange trades on the day containing t.
type HolidayCalendar interface {
	IsBusinessDay(t time.Time) bool
}

type Option func(*Evaluator)

// WithHolidays closes stocks and indices on days cal reports as non-business days.
func WithHolidays(cal HolidayCalendar) Option {
	return func(e *Evaluator) { e.holidays = cal }
}

func WithLogger(l *applogger.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// Evaluator holds no mutable state; Status is safe for concurrent use.
type Evaluator struct {
	holidays HolidayCalendar
	logger   *applogger.Logger
}

func New(opts ...Option) *Evaluator {
	e := &Evaluator{logger: applogger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Status returns the market status of category at instant (converted to UTC).
func (e *Evaluator) Status(category models.Category, instant time.Time) models.MarketStatus {
	t := instant.UTC()
	var open bool
	switch category {
	case models.CategoryCrypto:
		return models.MarketStatus{IsOpen: true, IsOTC: false, Message: msgAlwaysOpen}
	case models.CategoryForex:
		open = weekendSession(t, 22)
	case models.CategoryCommodities:
		open = weekendSession(t, 23)
	case models.CategoryStocks, models.CategoryIndices:
		open = exchangeSession(t)
		if open && e.holidays != nil && !e.holidays.IsBusinessDay(t) {
			open = false
		}
	default:
		e.logger.Warn("unknown market category, treating as closed", applogger.String("category", string(category)))
		open = false
	}
	if open {
		return models.MarketStatus{IsOpen: true, IsOTC: false, Message: msgOpen}
	}
	return models.MarketStatus{IsOpen: false, IsOTC: true, Message: msgClosed}
}

// IsOpen is shorthand for Status(category, instant).IsOpen.
func (e *Evaluator) IsOpen(category models.Category, instant time.Time) bool {
	return e.Status(category, instant).IsOpen
}

// weekendSession: closed Saturday, Sunday opens at sundayOpenHour, Friday closes at 22:00.
func weekendSession(t time.Time, sundayOpenHour int) bool {
	switch t.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return t.Hour() >= sundayOpenHour
	case time.Friday:
		return t.Hour() < 22
	default:
		return true
	}
}

// exchangeSession: Mon-Fri within [14:30, 21:00).
func exchangeSession(t time.Time) bool {
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 14*60+30 && minutes < 21*60
}
