package availability

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/apperr"
)

// Hours is an opening window in minutes since midnight, Close exclusive.
type Hours struct {
	Open  int
	Close int
}

// Calendar holds the opening hours per weekday. A nil entry means closed.
type Calendar struct {
	days [7]*Hours
}

// DefaultCalendarSpec is Mon-Fri 09:00-19:00, Sat 10:00-17:00, Sun closed.
const DefaultCalendarSpec = "mon-fri=09:00-19:00;sat=10:00-17:00;sun=closed"

func DefaultCalendar() Calendar {
	c, err := ParseCalendar(DefaultCalendarSpec)
	if err != nil {
		panic(err)
	}
	return c
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseCalendar reads entries like "mon-fri=09:00-19:00;sat=10:00-17:00;sun=closed".
// Days not mentioned are closed. Later entries override earlier ones.
func ParseCalendar(spec string) (Calendar, error) {
	var c Calendar
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		daysPart, hoursPart, ok := strings.Cut(entry, "=")
		if !ok {
			return Calendar{}, fmt.Errorf("%w: calendar entry %q has no '='", apperr.ErrConfiguration, entry)
		}
		days, err := parseDayRange(strings.ToLower(strings.TrimSpace(daysPart)))
		if err != nil {
			return Calendar{}, fmt.Errorf("%w: %v", apperr.ErrConfiguration, err)
		}

		hoursPart = strings.TrimSpace(hoursPart)
		var h *Hours
		if !strings.EqualFold(hoursPart, "closed") {
			openS, closeS, ok := strings.Cut(hoursPart, "-")
			if !ok {
				return Calendar{}, fmt.Errorf("%w: hours %q must be HH:MM-HH:MM or closed", apperr.ErrConfiguration, hoursPart)
			}
			open, err := ParseClock(strings.TrimSpace(openS))
			if err != nil {
				return Calendar{}, fmt.Errorf("%w: %v", apperr.ErrConfiguration, err)
			}
			closing, err := ParseClock(strings.TrimSpace(closeS))
			if err != nil {
				return Calendar{}, fmt.Errorf("%w: %v", apperr.ErrConfiguration, err)
			}
			if closing <= open {
				return Calendar{}, fmt.Errorf("%w: hours %q close before they open", apperr.ErrConfiguration, hoursPart)
			}
			h = &Hours{Open: open, Close: closing}
		}
		for _, d := range days {
			c.days[d] = h
		}
	}
	return c, nil
}

func parseDayRange(s string) ([]time.Weekday, error) {
	from, to, isRange := strings.Cut(s, "-")
	start, ok := weekdayNames[from]
	if !ok {
		return nil, fmt.Errorf("unknown weekday %q", from)
	}
	if !isRange {
		return []time.Weekday{start}, nil
	}
	end, ok := weekdayNames[to]
	if !ok {
		return nil, fmt.Errorf("unknown weekday %q", to)
	}
	var out []time.Weekday
	for d := start; ; d = (d + 1) % 7 {
		out = append(out, d)
		if d == end {
			break
		}
	}
	return out, nil
}

// HoursFor returns the opening hours for the weekday of day, or false when closed.
func (c Calendar) HoursFor(day time.Time) (Hours, bool) {
	h := c.days[day.Weekday()]
	if h == nil {
		return Hours{}, false
	}
	return *h, true
}
