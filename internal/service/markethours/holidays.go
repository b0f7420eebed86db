package markethours

import (
	"fmt"
	"strings"

	"github.com/scmhub/calendar"
)

// ExchangeCalendar loads the scmhub/calendar for a MIC code (for example "xnys").
func ExchangeCalendar(mic string) (HolidayCalendar, error) {
	cal := calendar.GetCalendar(strings.ToLower(mic))
	if cal == nil {
		return nil, fmt.Errorf("no exchange calendar for MIC %q", mic)
	}
	return cal, nil
}
