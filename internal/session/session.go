package session

import (
	"time"
)

// Status is the US equity market session at an instant.
type Status string

const (
	StatusPre    Status = "pre"
	StatusOpen   Status = "open"
	StatusPost   Status = "post"
	StatusClosed Status = "closed"
)

// State is the classification of a single instant.
type State struct {
	Status    Status    `json:"status"`
	IsDST     bool      `json:"is_dst"`
	Reference time.Time `json:"reference"`
}

// Session windows in minutes after Eastern midnight.
const (
	preStart  = 4 * 60
	openStart = 9*60 + 30
	postStart = 16 * 60
	postEnd   = 20 * 60
)

var (
	edt = time.FixedZone("EDT", -4*60*60)
	est = time.FixedZone("EST", -5*60*60)
)

// DSTBounds returns the UTC instants at which US daylight saving time starts
// and ends in the given year: second Sunday of March at 02:00 EST (07:00 UTC)
// and first Sunday of November at 02:00 EDT (06:00 UTC).
func DSTBounds(year int) (start, end time.Time) {
	mar1 := time.Date(year, time.March, 1, 0, 0, 0, 0, time.UTC)
	secondSunday := 8 + (7-int(mar1.Weekday()))%7

	nov1 := time.Date(year, time.November, 1, 0, 0, 0, 0, time.UTC)
	firstSunday := 1 + (7-int(nov1.Weekday()))%7

	start = time.Date(year, time.March, secondSunday, 7, 0, 0, 0, time.UTC)
	end = time.Date(year, time.November, firstSunday, 6, 0, 0, 0, time.UTC)
	return start, end
}

// IsDST reports whether t falls inside [start, end) of its UTC year's
// daylight saving period.
func IsDST(t time.Time) bool {
	u := t.UTC()
	start, end := DSTBounds(u.Year())
	return !u.Before(start) && u.Before(end)
}

// Eastern returns t expressed in US Eastern wall-clock time using a fixed
// offset. No timezone database is consulted.
func Eastern(t time.Time) time.Time {
	if IsDST(t) {
		return t.In(edt)
	}
	return t.In(est)
}

// EasternToUTC converts an Eastern wall-clock time to the instant it names.
// The offset is chosen from the standard-time guess, so the ambiguous and
// skipped hours on transition Sundays resolve to standard time.
func EasternToUTC(year int, month time.Month, day, hour, min int) time.Time {
	guess := time.Date(year, month, day, hour, min, 0, 0, est)
	if IsDST(guess) {
		return time.Date(year, month, day, hour, min, 0, 0, edt).UTC()
	}
	return guess.UTC()
}

// Classify returns the market session for now. Weekends are always closed.
func Classify(now time.Time) State {
	et := Eastern(now)
	st := State{
		Status:    StatusClosed,
		IsDST:     IsDST(now),
		Reference: now,
	}

	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return st
	}

	minutes := et.Hour()*60 + et.Minute()
	switch {
	case minutes >= preStart && minutes < openStart:
		st.Status = StatusPre
	case minutes >= openStart && minutes < postStart:
		st.Status = StatusOpen
	case minutes >= postStart && minutes < postEnd:
		st.Status = StatusPost
	}
	return st
}

// TradingDay returns the Eastern calendar date of t as YYYY-MM-DD.
func TradingDay(t time.Time) string {
	return Eastern(t).Format("2006-01-02")
}

// SameTradingDay reports whether two instants share an Eastern calendar date.
func SameTradingDay(a, b time.Time) bool {
	return TradingDay(a) == TradingDay(b)
}

// NextMinuteBoundary returns the first whole minute strictly after t.
func NextMinuteBoundary(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}
