package estimation

import (
	"math"

	"github.com/smukkama/flow-imputer/internal/stats"
	"github.com/smukkama/flow-imputer/internal/window"
)

const (
	minClampHistory = 3
	iqrFactor       = 1.5
	insideShare     = 0.55
)

// Bounds is an inclusive range
type Bounds struct {
	Lower float64
	Upper float64
}

func (b Bounds) clamp(v float64) float64 {
	return math.Max(b.Lower, math.Min(v, b.Upper))
}

// round picks the nearest integer, staying inside the bounds when possible
func (b Bounds) round(v float64) int {
	r := math.Round(v)
	if r > b.Upper {
		r = math.Floor(b.Upper)
	}
	if r < b.Lower {
		r = math.Ceil(b.Lower)
	}
	return int(r)
}

var unbounded = Bounds{Lower: 0, Upper: math.Inf(1)}

// Limits holds the IQR fences of a slot's inside and outside counts
type Limits struct {
	Inside  Bounds
	Outside Bounds
	Active  bool
}

// SlotLimits computes [max(0, Q1 - 1.5 IQR), Q3 + 1.5 IQR] for inside and
// outside independently. Fewer than three points leave the limits inactive.
func SlotLimits(slot []window.Point) Limits {
	if len(slot) < minClampHistory {
		return Limits{Inside: unbounded, Outside: unbounded}
	}
	return Limits{
		Inside:  fences(window.Insides(slot)),
		Outside: fences(window.Outsides(slot)),
		Active:  true,
	}
}

func fences(values []float64) Bounds {
	q1 := stats.Quantile(values, 0.25)
	q3 := stats.Quantile(values, 0.75)
	iqr := q3 - q1
	return Bounds{Lower: math.Max(0, q1-iqrFactor*iqr), Upper: q3 + iqrFactor*iqr}
}

// Clamp finalizes an estimate: IQR fences, inside >= outside via a 55/45
// split of the total, non-negative integers. When the fences and the balance
// rule cannot both hold, balance wins.
func Clamp(c Counts, limits Limits) (int, int) {
	if !limits.Active {
		limits.Inside, limits.Outside = unbounded, unbounded
	}

	inside := limits.Inside.clamp(c.Inside)
	outside := limits.Outside.clamp(c.Outside)

	if inside < outside {
		total := inside + outside
		inside = total * insideShare
		outside = total - inside

		inside = limits.Inside.clamp(inside)
		outside = limits.Outside.clamp(outside)
	}

	inside = math.Max(0, inside)
	outside = math.Max(0, outside)

	in := limits.Inside.round(inside)
	out := limits.Outside.round(outside)
	if out > in {
		out = in
	}
	if in < 0 {
		in = 0
	}
	if out < 0 {
		out = 0
	}
	return in, out
}
