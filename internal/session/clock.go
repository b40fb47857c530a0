package session

import (
	"time"

	"github.com/scmhub/calendar"
)

// HolidayCalendar reports exchange business days.
type HolidayCalendar interface {
	IsBusinessDay(t time.Time) bool
}

// NYSECalendar returns the XNYS holiday calendar, or nil if it cannot be
// loaded.
func NYSECalendar() HolidayCalendar {
	cal := calendar.GetCalendar("xnys")
	if cal == nil {
		return nil
	}
	return cal
}

// Clock classifies instants, optionally closing exchange holidays.
type Clock struct {
	holidays HolidayCalendar
}

// NewClock creates a Clock. A nil calendar classifies by weekday only.
func NewClock(holidays HolidayCalendar) *Clock {
	return &Clock{holidays: holidays}
}

// Classify returns the session state for now.
func (c *Clock) Classify(now time.Time) State {
	st := Classify(now)
	if c == nil || c.holidays == nil || st.Status == StatusClosed {
		return st
	}
	if !c.holidays.IsBusinessDay(Eastern(now)) {
		st.Status = StatusClosed
	}
	return st
}
