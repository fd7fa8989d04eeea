package estimation

import (
	"time"

	"github.com/smukkama/flow-imputer/internal/database"
	"github.com/smukkama/flow-imputer/internal/detection"
	"github.com/smukkama/flow-imputer/internal/schedule"
	"github.com/smukkama/flow-imputer/internal/window"
)

var (
	// 2024-03-18 is a Monday
	monday  = window.DayOf(time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC), time.UTC)
	tuesday = monday + 1
)

func camera(id int64, weekday, start, end int) database.Camera {
	cam := database.Camera{ID: id, Client: "acme", Location: "mall"}
	cam.Schedule[weekday] = database.ScheduleEntry{Start: &start, End: &end}
	return cam
}

func record(cam int64, day window.Day, hour, inside, outside int) database.FlowRecord {
	return database.FlowRecord{
		CameraID:  cam,
		Timestamp: day.At(hour, time.UTC),
		Inside:    inside,
		Outside:   outside,
		Validity:  database.ValidityConfirmed,
	}
}

// weekly adds one record per prior week before day at hour, oldest first
func weekly(cam int64, day window.Day, hour int, counts ...[2]int) []database.FlowRecord {
	var out []database.FlowRecord
	for i, c := range counts {
		weeksBack := len(counts) - i
		out = append(out, record(cam, day-window.Day(7*weeksBack), hour, c[0], c[1]))
	}
	return out
}

func repeat(n int, c [2]int) [][2]int {
	out := make([][2]int, n)
	for i := range out {
		out[i] = c
	}
	return out
}

var resolver = schedule.NewResolver(schedule.DefaultRange)

func detect(ws *window.WorkingSet, day window.Day) *detection.Result {
	return detection.NewDetector(resolver, detection.DefaultThresholds()).Detect(ws, day)
}
