package window

import (
	"time"
)

const secondsPerDay = 24 * 60 * 60

// Day is a calendar date counted in days since 1970-01-01
type Day int

// DayOf returns the calendar date of t in loc
func DayOf(t time.Time, loc *time.Location) Day {
	y, m, d := t.In(loc).Date()
	return Day(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay)
}

// Start returns midnight of the day in loc
func (d Day) Start(loc *time.Location) time.Time {
	u := time.Unix(int64(d)*secondsPerDay, 0).UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, loc)
}

// At returns the given hour of the day in loc
func (d Day) At(hour int, loc *time.Location) time.Time {
	u := time.Unix(int64(d)*secondsPerDay, 0).UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), hour, 0, 0, 0, loc)
}

// Weekday returns 0 for Monday through 6 for Sunday
func (d Day) Weekday() int {
	// 1970-01-01 was a Thursday
	return ((int(d)%7)+7+3)%7
}

func (d Day) String() string {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC().Format("2006-01-02")
}
