package detection

import (
	"testing"
	"time"

	"github.com/smukkama/flow-imputer/internal/database"
	"github.com/smukkama/flow-imputer/internal/schedule"
	"github.com/smukkama/flow-imputer/internal/stats"
	"github.com/smukkama/flow-imputer/internal/window"
)

// 2024-03-19 is a Tuesday
var target = window.DayOf(time.Date(2024, 3, 19, 0, 0, 0, 0, time.UTC), time.UTC)

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

// history adds one record per prior week at hour, oldest first
func history(cam int64, hour int, counts ...[2]int) []database.FlowRecord {
	var out []database.FlowRecord
	for i, c := range counts {
		weeksBack := len(counts) - i
		out = append(out, record(cam, target-window.Day(7*weeksBack), hour, c[0], c[1]))
	}
	return out
}

func newDetector() *Detector {
	return NewDetector(schedule.NewResolver(schedule.DefaultRange), DefaultThresholds())
}

func TestDetector_MissingHour(t *testing.T) {
	cams := []database.Camera{camera(1, 1, 14, 14)}
	records := history(1, 14, [2]int{45, 35}, [2]int{50, 40}, [2]int{55, 45}, [2]int{50, 40}, [2]int{50, 40})
	ws := window.NewWorkingSet("acme", "mall", cams, records, time.UTC)

	result := newDetector().Detect(ws, target)

	failures := result.Failing[1]
	if len(failures) != 1 || failures[0].Hour != 14 || failures[0].Reason != ReasonMissing {
		t.Fatalf("Expected hour 14 missing, got %+v", failures)
	}
	if !result.IsFailing(1, 14) || result.IsFailing(1, 13) {
		t.Error("IsFailing disagrees with failing set")
	}
	if result.Checked != 1 || result.Hours() != 1 {
		t.Errorf("Expected 1 checked / 1 failing hour, got %d / %d", result.Checked, result.Hours())
	}
}

func TestDetector_OrderOfMagnitudeLow(t *testing.T) {
	cams := []database.Camera{camera(1, 1, 10, 10)}
	records := history(1, 10, [2]int{60, 40}, [2]int{55, 45}, [2]int{50, 50})
	records = append(records, record(1, target, 10, 3, 2))
	ws := window.NewWorkingSet("acme", "mall", cams, records, time.UTC)

	result := newDetector().Detect(ws, target)

	failures := result.Failing[1]
	if len(failures) != 1 || failures[0].Reason != ReasonOrderOfMagnitude {
		t.Fatalf("Expected order_of_magnitude_low, got %+v", failures)
	}
	if failures[0].Total != 5 || failures[0].Baseline != 100 {
		t.Errorf("Expected total 5 against baseline 100, got %+v", failures[0])
	}
}

func TestDetector_Evaluate(t *testing.T) {
	d := newDetector()
	wide := stats.Summarize([]float64{80, 90, 100, 110, 120})
	tight := stats.Summarize([]float64{48, 50, 52, 50})
	balanced := stats.Summarize([]float64{88, 90, 92})

	tests := []struct {
		name    string
		current window.Point
		history stats.Summary
		reason  Reason
		failing bool
	}{
		{"below mean fraction", window.Point{Inside: 10, Outside: 5}, wide, ReasonBelowMean, true},
		{"outside sigma", window.Point{Inside: 35, Outside: 25}, tight, ReasonOutsideSigma, true},
		{"abnormal balance", window.Point{Inside: 85, Outside: 5}, balanced, ReasonAbnormalBalance, true},
		{"balance ignores zero side", window.Point{Inside: 90, Outside: 0}, balanced, "", false},
		{"healthy", window.Point{Inside: 50, Outside: 40}, balanced, "", false},
		{"insufficient history low", window.Point{Inside: 5, Outside: 4}, stats.Summarize([]float64{100, 100}), ReasonBelowFloor, true},
		{"insufficient history ok", window.Point{Inside: 6, Outside: 4}, stats.Summarize([]float64{100}), "", false},
		{"zero mean history", window.Point{Inside: 2, Outside: 1}, stats.Summarize([]float64{0, 0, 0}), ReasonBelowFloor, true},
		{"no history", window.Point{Inside: 40, Outside: 30}, stats.Summary{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, failing := d.Evaluate(tt.current, tt.history)
			if failing != tt.failing || reason != tt.reason {
				t.Errorf("Evaluate() = (%q, %v), want (%q, %v)", reason, failing, tt.reason, tt.failing)
			}
		})
	}
}

func TestDetector_HistoryExcludesTargetAndLaterDays(t *testing.T) {
	cams := []database.Camera{camera(1, 1, 10, 10)}
	records := history(1, 10, [2]int{3, 2}, [2]int{3, 2}, [2]int{3, 2})
	records = append(records,
		record(1, target, 10, 3, 2),
		record(1, target+7, 10, 500, 400),
	)
	ws := window.NewWorkingSet("acme", "mall", cams, records, time.UTC)

	result := newDetector().Detect(ws, target)

	// baseline of 5 per hour: 5 is healthy against itself
	if result.IsFailing(1, 10) {
		t.Errorf("Expected healthy hour when history matches, got %+v", result.Failing[1])
	}
}

func TestDetector_Soundness(t *testing.T) {
	cams := []database.Camera{camera(1, 1, 8, 12), camera(2, 1, 8, 12)}
	var records []database.FlowRecord
	for hour := 8; hour <= 12; hour++ {
		records = append(records, history(1, hour, [2]int{40, 30}, [2]int{44, 36}, [2]int{50, 40})...)
		records = append(records, history(2, hour, [2]int{4, 3}, [2]int{5, 2})...)
	}
	records = append(records,
		record(1, target, 8, 42, 33),
		record(1, target, 9, 2, 1),
		record(1, target, 10, 200, 150),
		record(1, target, 11, 75, 5),
		record(2, target, 8, 3, 2),
		record(2, target, 9, 30, 20),
	)
	ws := window.NewWorkingSet("acme", "mall", cams, records, time.UTC)
	d := newDetector()

	result := d.Detect(ws, target)

	for _, cam := range cams {
		for hour := 8; hour <= 12; hour++ {
			current, present := ws.Record(cam.ID, target, hour)
			fires := !present
			if present {
				_, fires = d.Evaluate(current, stats.Summarize(window.Totals(ws.Slot(cam.ID, hour, 1, target))))
			}
			if fires != result.IsFailing(cam.ID, hour) {
				t.Errorf("camera %d hour %d: criteria fire=%v, flagged=%v", cam.ID, hour, fires, result.IsFailing(cam.ID, hour))
			}
		}
	}

	if ids := result.Cameras(); len(ids) != 2 || ids[0] != 1 {
		t.Errorf("Expected both cameras failing in order, got %v", ids)
	}
	hours := result.Failing[1]
	for i := 1; i < len(hours); i++ {
		if hours[i].Hour <= hours[i-1].Hour {
			t.Errorf("Failing hours not ascending: %+v", hours)
		}
	}
}
