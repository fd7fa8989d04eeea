package estimation

import (
	"github.com/smukkama/flow-imputer/internal/schedule"
	"github.com/smukkama/flow-imputer/internal/stats"
	"github.com/smukkama/flow-imputer/internal/window"
)

const minOwnHistory = 2

// OwnHistory returns the per-slot median inside and outside of a camera.
// It needs at least two prior points.
func OwnHistory(ws *window.WorkingSet, camera int64, hour, weekday int, before window.Day) (Counts, bool) {
	slot := ws.Slot(camera, hour, weekday, before)
	if len(slot) < minOwnHistory {
		return Counts{}, false
	}
	return Counts{
		Inside:  stats.Median(window.Insides(slot)),
		Outside: stats.Median(window.Outsides(slot)),
	}, true
}

// WeekdayFactors returns, for each weekday, the camera's mean total per
// active-hour record divided by the mean over weekdays. Weekdays without
// data take the factor of the nearest weekday that has data, preferring the
// lower index on ties. Without data every factor is 1.
func WeekdayFactors(ws *window.WorkingSet, resolver *schedule.Resolver, camera int64, before window.Day) [7]float64 {
	factors := [7]float64{1, 1, 1, 1, 1, 1, 1}

	cam, ok := ws.Camera(camera)
	if !ok {
		return factors
	}

	var sums [7]float64
	var counts [7]int
	for _, p := range ws.CameraRecords(camera, before) {
		if !resolver.Resolve(cam, p.Weekday).Contains(p.Hour) {
			continue
		}
		sums[p.Weekday] += float64(p.Total())
		counts[p.Weekday]++
	}

	var means []float64
	var avg [7]float64
	for wd := 0; wd < 7; wd++ {
		if counts[wd] > 0 {
			avg[wd] = sums[wd] / float64(counts[wd])
			means = append(means, avg[wd])
		}
	}

	overall := stats.Mean(means)
	if len(means) == 0 || overall == 0 {
		return factors
	}

	for wd := 0; wd < 7; wd++ {
		if counts[wd] > 0 {
			factors[wd] = avg[wd] / overall
		}
	}
	for wd := 0; wd < 7; wd++ {
		if counts[wd] == 0 {
			factors[wd] = factors[nearestWithData(counts, wd)]
		}
	}

	return factors
}

func nearestWithData(counts [7]int, weekday int) int {
	best, bestDist := -1, 8
	for wd := 0; wd < 7; wd++ {
		if counts[wd] == 0 {
			continue
		}
		dist := wd - weekday
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			best, bestDist = wd, dist
		}
	}
	return best
}
