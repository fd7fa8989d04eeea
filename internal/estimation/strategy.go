package estimation

import (
	"github.com/smukkama/flow-imputer/internal/detection"
	"github.com/smukkama/flow-imputer/internal/schedule"
	"github.com/smukkama/flow-imputer/internal/stats"
	"github.com/smukkama/flow-imputer/internal/window"
)

// Source names the strategy that produced an estimate
type Source string

const (
	SourceCrossCamera  Source = "cross_camera"
	SourceOwnHistory   Source = "own_history"
	SourceSeasonal     Source = "seasonal"
	SourceDefaultTable Source = "default_table"
)

const (
	crossWeight = 0.7
	ownWeight   = 0.3
)

// Counts is an unrounded inside/outside pair
type Counts struct {
	Inside  float64
	Outside float64
}

// Estimate is a candidate value for one failing camera-hour
type Estimate struct {
	Counts
	Source     Source
	References []int64
}

// Request carries everything a strategy may consult for one camera-hour
type Request struct {
	WS        *window.WorkingSet
	Detection *detection.Result
	Resolver  *schedule.Resolver
	Camera    int64
	Day       window.Day
	Hour      int
	Weekday   int
	Factors   [7]float64
}

// Strategy produces an estimate or reports that it does not apply
type Strategy interface {
	Name() Source
	Estimate(req *Request) (Estimate, bool)
}

// DefaultChain returns the strategies in the order they are tried
func DefaultChain() []Strategy {
	return []Strategy{
		CrossCameraStrategy{},
		OwnHistoryStrategy{},
		SeasonalStrategy{},
		DefaultTableStrategy{},
	}
}

// CrossCameraStrategy infers a camera from co-located cameras that are
// active, not failing and hold a camera-reported record at the same hour.
type CrossCameraStrategy struct{}

func (CrossCameraStrategy) Name() Source { return SourceCrossCamera }

func (s CrossCameraStrategy) Estimate(req *Request) (Estimate, bool) {
	var estimates []Counts
	var weights []float64
	var refs []int64

	for i := range req.WS.Cameras() {
		ref := &req.WS.Cameras()[i]
		if ref.ID == req.Camera {
			continue
		}
		if !req.Resolver.Resolve(ref, req.Weekday).Contains(req.Hour) {
			continue
		}
		if req.Detection != nil && req.Detection.IsFailing(ref.ID, req.Hour) {
			continue
		}

		observed, ok := req.WS.Record(ref.ID, req.Day, req.Hour)
		if !ok || observed.Estimated {
			continue
		}

		ratio := PairRatio(req.WS, req.Camera, ref.ID, req.Hour, req.Weekday, req.Day)
		if !ratio.Usable() {
			continue
		}

		estimates = append(estimates, ratio.EstimateFrom(observed.Inside, observed.Outside))
		weights = append(weights, ratio.Confidence)
		refs = append(refs, ref.ID)
	}

	var totalWeight float64
	for _, w := range weights {
		totalWeight += w
	}
	if len(estimates) == 0 || totalWeight == 0 {
		return Estimate{}, false
	}

	var combined Counts
	for i, est := range estimates {
		w := weights[i] / totalWeight
		combined.Inside += est.Inside * w
		combined.Outside += est.Outside * w
	}

	if own, ok := OwnHistory(req.WS, req.Camera, req.Hour, req.Weekday, req.Day); ok {
		combined.Inside = combined.Inside*crossWeight + own.Inside*ownWeight
		combined.Outside = combined.Outside*crossWeight + own.Outside*ownWeight
	}

	return Estimate{Counts: combined, Source: s.Name(), References: refs}, true
}

// OwnHistoryStrategy uses the camera's own slot median
type OwnHistoryStrategy struct{}

func (OwnHistoryStrategy) Name() Source { return SourceOwnHistory }

func (s OwnHistoryStrategy) Estimate(req *Request) (Estimate, bool) {
	own, ok := OwnHistory(req.WS, req.Camera, req.Hour, req.Weekday, req.Day)
	if !ok {
		return Estimate{}, false
	}
	return Estimate{Counts: own, Source: s.Name()}, true
}

// SeasonalStrategy borrows the camera's same-hour average from other
// weekdays, falling back to its all-hours average, scaled by the target
// weekday's factor.
type SeasonalStrategy struct{}

func (SeasonalStrategy) Name() Source { return SourceSeasonal }

func (s SeasonalStrategy) Estimate(req *Request) (Estimate, bool) {
	points := req.WS.HourAcrossWeekdays(req.Camera, req.Hour, req.Day)
	if len(points) == 0 {
		points = req.WS.CameraRecords(req.Camera, req.Day)
	}
	if len(points) == 0 {
		return Estimate{}, false
	}

	factor := req.Factors[req.Weekday]
	return Estimate{
		Counts: Counts{
			Inside:  stats.Mean(window.Insides(points)) * factor,
			Outside: stats.Mean(window.Outsides(points)) * factor,
		},
		Source: s.Name(),
	}, true
}

// DefaultTableStrategy returns a fixed value per time of day. It always applies.
type DefaultTableStrategy struct{}

func (DefaultTableStrategy) Name() Source { return SourceDefaultTable }

func (s DefaultTableStrategy) Estimate(req *Request) (Estimate, bool) {
	inside, outside := DefaultCounts(req.Hour)
	return Estimate{
		Counts: Counts{Inside: float64(inside), Outside: float64(outside)},
		Source: s.Name(),
	}, true
}

// DefaultCounts is the last-resort inside/outside pair for an hour of the day
func DefaultCounts(hour int) (int, int) {
	switch {
	case hour >= 6 && hour <= 9:
		return 15, 12
	case hour >= 10 && hour <= 14:
		return 25, 20
	case hour >= 15 && hour <= 18:
		return 35, 30
	case hour >= 19 && hour <= 22:
		return 20, 15
	default:
		return 5, 3
	}
}
