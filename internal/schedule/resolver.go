package schedule

import (
	"time"

	"github.com/smukkama/flow-imputer/internal/database"
)

// HourRange is an inclusive range of hours of the day
type HourRange struct {
	Start int
	End   int
}

// Contains reports whether hour falls inside the range
func (r HourRange) Contains(hour int) bool {
	return hour >= r.Start && hour <= r.End
}

// Hours lists every hour of the range in ascending order
func (r HourRange) Hours() []int {
	hours := make([]int, 0, r.End-r.Start+1)
	for h := r.Start; h <= r.End; h++ {
		hours = append(hours, h)
	}
	return hours
}

// DefaultRange is used for weekdays without a configured schedule
var DefaultRange = HourRange{Start: 9, End: 18}

// Resolver maps a camera and weekday to its active hours
type Resolver struct {
	Default HourRange
}

// NewResolver creates a resolver with a normalized default range
func NewResolver(defaultRange HourRange) *Resolver {
	return &Resolver{Default: normalize(defaultRange.Start, defaultRange.End)}
}

// Resolve returns the camera's active hours for weekday (0 = Monday).
// Unset or out-of-range entries fall back to the default; it never fails.
func (r *Resolver) Resolve(cam *database.Camera, weekday int) HourRange {
	if cam == nil || weekday < 0 || weekday > 6 {
		return r.Default
	}

	entry := cam.Schedule[weekday]
	if entry.Start == nil || entry.End == nil {
		return r.Default
	}

	return normalize(*entry.Start, *entry.End)
}

func normalize(start, end int) HourRange {
	start = clampHour(start)
	end = clampHour(end)
	if start > end {
		start, end = end, start
	}
	return HourRange{Start: start, End: end}
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 23 {
		return 23
	}
	return h
}

// Weekday converts a Go weekday to the Monday-first index used by schedules
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
