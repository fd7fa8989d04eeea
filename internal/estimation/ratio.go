package estimation

import (
	"math"

	"github.com/smukkama/flow-imputer/internal/stats"
	"github.com/smukkama/flow-imputer/internal/window"
)

const (
	minCommonDates  = 2
	ratioLowerBound = 0.1
	ratioUpperBound = 10
	fullConfidence  = 10
	dispersionLimit = 0.5
	dispersionCount = 3
)

// Ratio is the historical traffic of a reference camera B relative to a
// camera A at one hour and weekday. A zero Ratio carries no information.
type Ratio struct {
	Value       float64
	Confidence  float64
	CommonDates int
	Retained    int
}

// Usable reports whether the ratio can be used to estimate A
func (r Ratio) Usable() bool {
	return r.Value > 0 && r.Confidence > 0
}

// EstimateFrom infers A's counts from B's observed counts
func (r Ratio) EstimateFrom(inside, outside int) Counts {
	if !r.Usable() {
		return Counts{}
	}
	return Counts{Inside: float64(inside) / r.Value, Outside: float64(outside) / r.Value}
}

// PairRatio computes the median of total_B / total_A over the dates before
// the given day on which both cameras reported at hour and weekday.
// The result is not assumed reciprocal: PairRatio(b, a) is computed on its own.
func PairRatio(ws *window.WorkingSet, a, b int64, hour, weekday int, before window.Day) Ratio {
	slotA := ws.Slot(a, hour, weekday, before)
	slotB := ws.Slot(b, hour, weekday, before)

	totalsB := make(map[window.Day]int, len(slotB))
	for _, p := range slotB {
		totalsB[p.Day] = p.Total()
	}

	var common int
	var ratios []float64
	for _, p := range slotA {
		totalB, ok := totalsB[p.Day]
		if !ok {
			continue
		}
		common++

		if p.Total() == 0 {
			continue
		}
		r := float64(totalB) / float64(p.Total())
		if r > ratioLowerBound && r < ratioUpperBound {
			ratios = append(ratios, r)
		}
	}

	if common < minCommonDates || len(ratios) == 0 {
		return Ratio{CommonDates: common}
	}

	confidence := math.Min(float64(common)/fullConfidence, 1)
	if len(ratios) >= dispersionCount && stats.CV(ratios) > dispersionLimit {
		confidence *= 0.5
	}

	return Ratio{
		Value:       stats.Median(ratios),
		Confidence:  confidence,
		CommonDates: common,
		Retained:    len(ratios),
	}
}
