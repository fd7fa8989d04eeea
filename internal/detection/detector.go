package detection

import (
	"math"
	"sort"

	"github.com/smukkama/flow-imputer/internal/schedule"
	"github.com/smukkama/flow-imputer/internal/stats"
	"github.com/smukkama/flow-imputer/internal/window"
)

// Reason labels the first criterion that flagged an hour
type Reason string

const (
	ReasonMissing          Reason = "missing"
	ReasonOrderOfMagnitude Reason = "order_of_magnitude_low"
	ReasonBelowMean        Reason = "below_mean_fraction"
	ReasonOutsideSigma     Reason = "outside_sigma"
	ReasonAbnormalBalance  Reason = "abnormal_balance"
	ReasonBelowFloor       Reason = "below_absolute_floor"
)

// Thresholds holds the tunable constants of the failure criteria
type Thresholds struct {
	MinHistory       int
	OrderOfMagnitude float64
	MeanFraction     float64
	SigmaLimit       float64
	InsideShareMin   float64
	InsideShareMax   float64
	AbsoluteFloor    float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinHistory:       3,
		OrderOfMagnitude: 0.1,
		MeanFraction:     0.2,
		SigmaLimit:       3,
		InsideShareMin:   0.3,
		InsideShareMax:   0.9,
		AbsoluteFloor:    10,
	}
}

// HourFailure describes one failing camera-hour
type HourFailure struct {
	Hour     int
	Reason   Reason
	Total    int
	Baseline float64
}

// Result maps camera ID to its failing hours in ascending order
type Result struct {
	Day     window.Day
	Failing map[int64][]HourFailure
	Checked int
}

// IsFailing reports whether the camera was flagged at hour
func (r *Result) IsFailing(camera int64, hour int) bool {
	for _, f := range r.Failing[camera] {
		if f.Hour == hour {
			return true
		}
	}
	return false
}

// Cameras returns the IDs of failing cameras in ascending order
func (r *Result) Cameras() []int64 {
	ids := make([]int64, 0, len(r.Failing))
	for id := range r.Failing {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Hours returns the total number of failing camera-hours
func (r *Result) Hours() int {
	n := 0
	for _, hours := range r.Failing {
		n += len(hours)
	}
	return n
}

// Detector flags missing or anomalous camera-hours on a target day
type Detector struct {
	resolver   *schedule.Resolver
	thresholds Thresholds
}

func NewDetector(resolver *schedule.Resolver, thresholds Thresholds) *Detector {
	return &Detector{resolver: resolver, thresholds: thresholds}
}

// Detect walks every camera's active hours on day. History is the
// same camera, hour and weekday strictly before day.
func (d *Detector) Detect(ws *window.WorkingSet, day window.Day) *Result {
	result := &Result{Day: day, Failing: make(map[int64][]HourFailure)}
	weekday := day.Weekday()

	for i := range ws.Cameras() {
		cam := &ws.Cameras()[i]
		active := d.resolver.Resolve(cam, weekday)

		for _, hour := range active.Hours() {
			result.Checked++

			current, ok := ws.Record(cam.ID, day, hour)
			if !ok {
				result.Failing[cam.ID] = append(result.Failing[cam.ID], HourFailure{Hour: hour, Reason: ReasonMissing})
				continue
			}

			history := stats.Summarize(window.Totals(ws.Slot(cam.ID, hour, weekday, day)))
			if reason, failing := d.Evaluate(current, history); failing {
				result.Failing[cam.ID] = append(result.Failing[cam.ID], HourFailure{
					Hour:     hour,
					Reason:   reason,
					Total:    current.Total(),
					Baseline: history.Mean,
				})
			}
		}
	}

	return result
}

// Evaluate applies the criteria to a present record, first match wins.
// Without a usable baseline only the absolute floor applies.
func (d *Detector) Evaluate(current window.Point, history stats.Summary) (Reason, bool) {
	t := d.thresholds
	total := float64(current.Total())

	if history.Count < t.MinHistory || history.Mean <= 0 {
		if total < t.AbsoluteFloor {
			return ReasonBelowFloor, true
		}
		return "", false
	}

	if total/history.Mean < t.OrderOfMagnitude {
		return ReasonOrderOfMagnitude, true
	}
	if total < t.MeanFraction*history.Mean {
		return ReasonBelowMean, true
	}
	if history.Std > 0 && math.Abs(total-history.Mean)/history.Std > t.SigmaLimit {
		return ReasonOutsideSigma, true
	}
	if current.Inside > 0 && current.Outside > 0 {
		share := float64(current.Inside) / total
		if share < t.InsideShareMin || share > t.InsideShareMax {
			return ReasonAbnormalBalance, true
		}
	}

	return "", false
}
