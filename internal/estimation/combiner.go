package estimation

import (
	"github.com/smukkama/flow-imputer/internal/database"
	"github.com/smukkama/flow-imputer/internal/detection"
	"github.com/smukkama/flow-imputer/internal/schedule"
	"github.com/smukkama/flow-imputer/internal/window"
)

// Result is a finalized estimate for one failing camera-hour
type Result struct {
	Record     database.FlowRecord
	Source     Source
	Raw        Counts
	References []int64
}

// Combiner tries its strategies in order for each failing camera-hour of a
// detection result and clamps the first estimate produced.
type Combiner struct {
	ws         *window.WorkingSet
	detection  *detection.Result
	resolver   *schedule.Resolver
	strategies []Strategy
	factors    map[int64][7]float64
}

func NewCombiner(ws *window.WorkingSet, det *detection.Result, resolver *schedule.Resolver, strategies ...Strategy) *Combiner {
	if len(strategies) == 0 {
		strategies = DefaultChain()
	}
	return &Combiner{
		ws:         ws,
		detection:  det,
		resolver:   resolver,
		strategies: strategies,
		factors:    make(map[int64][7]float64),
	}
}

// Estimate produces the record for camera at hour on the detection day.
// It returns false only when no strategy applies.
func (c *Combiner) Estimate(camera int64, hour int) (Result, bool) {
	day := c.detection.Day
	req := &Request{
		WS:        c.ws,
		Detection: c.detection,
		Resolver:  c.resolver,
		Camera:    camera,
		Day:       day,
		Hour:      hour,
		Weekday:   day.Weekday(),
		Factors:   c.weekdayFactors(camera),
	}

	for _, strategy := range c.strategies {
		est, ok := strategy.Estimate(req)
		if !ok {
			continue
		}

		limits := SlotLimits(c.ws.Slot(camera, hour, req.Weekday, day))
		inside, outside := Clamp(est.Counts, limits)

		return Result{
			Record: database.FlowRecord{
				CameraID:  camera,
				Timestamp: day.At(hour, c.ws.TZ),
				Inside:    inside,
				Outside:   outside,
				Validity:  database.ValidityConfirmed,
				Estimated: true,
			},
			Source:     est.Source,
			Raw:        est.Counts,
			References: est.References,
		}, true
	}

	return Result{}, false
}

// EstimateAll estimates every failing camera-hour, cameras and hours ascending
func (c *Combiner) EstimateAll() []Result {
	var results []Result
	for _, camera := range c.detection.Cameras() {
		for _, failure := range c.detection.Failing[camera] {
			if res, ok := c.Estimate(camera, failure.Hour); ok {
				results = append(results, res)
			}
		}
	}
	return results
}

func (c *Combiner) weekdayFactors(camera int64) [7]float64 {
	if f, ok := c.factors[camera]; ok {
		return f
	}
	f := WeekdayFactors(c.ws, c.resolver, camera, c.detection.Day)
	c.factors[camera] = f
	return f
}
